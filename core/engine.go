package core

import (
	"fmt"
	"strings"

	"github.com/sarchlab/masksim/circuit"
	"github.com/sarchlab/masksim/gadget"
	"github.com/sarchlab/masksim/symbolic"
)

// InputTrace is the externally supplied value-change record. It must cover
// every top-level input pin and every net named by a matchi_active
// attribute, for every cycle up to the horizon.
type InputTrace interface {
	Horizon() int64
	Lookup(cycle int64, path string) (bool, error)
}

// TraceSink consumes the per-cycle attribute log. Implementations must not
// retain the Bit values across calls other than by copy.
type TraceSink interface {
	BeginCycle(cycle int64)
	WireState(scope, wire string, bit symbolic.Bit)
	EndCycle(cycle int64)
}

// A Simulation owns the simulator tree, its mutable state mirror, and the
// global bookkeeping of one run. It is single threaded: Step simulates
// exactly one cycle.
type Simulation struct {
	top     *Simulator
	state   *nodeState
	trace   InputTrace
	sink    TraceSink
	gadgets *gadget.Set
	sb      *scoreboard
	inValid string
	maxCyc  int64
	dutPath string

	cycle   int64 // next simulation cycle to run
	offset  int64 // trace cycle corresponding to simulation cycle 0
	aligned bool
	drained bool

	violations []Violation
}

// Top exposes the immutable simulator tree.
func (s *Simulation) Top() *Simulator { return s.top }

// Cycle returns the number of cycles simulated so far.
func (s *Simulation) Cycle() int64 { return s.cycle }

// Violations returns the full violation log in detection order.
func (s *Simulation) Violations() []Violation { return s.violations }

// Secure reports the verdict: no security violation was detected.
func (s *Simulation) Secure() bool {
	for _, v := range s.violations {
		if v.Kind.Security() {
			return false
		}
	}
	return true
}

// Reset rewinds the simulation to power-up. The simulator tree is reused;
// the state mirror and all bookkeeping are cleared.
func (s *Simulation) Reset() {
	s.cycle = 0
	s.offset = 0
	s.aligned = false
	s.drained = false
	s.violations = nil
	s.state.reset()
	s.sb.sink = s.record
}

// Done reports whether the run has reached its final cycle.
func (s *Simulation) Done() bool {
	if s.drained {
		return true
	}
	if s.maxCyc > 0 && s.cycle >= s.maxCyc {
		return true
	}
	return s.aligned && s.offset+s.cycle >= s.trace.Horizon()
}

// Step simulates one cycle: input materialisation, the recursive
// combinational pass, violation checks, the clock edge, and attribute-log
// emission. Input-trace errors are fatal and abort before the cycle takes
// effect; security violations are logged and the run continues.
func (s *Simulation) Step() error {
	if !s.aligned {
		if err := s.align(); err != nil {
			return err
		}
		if s.drained {
			return nil
		}
	}
	if s.Done() {
		return nil
	}

	t := s.offset + s.cycle
	s.sb.reset(s.cycle)

	if err := s.evalChild(s.state, nil, t); err != nil {
		return fmt.Errorf("cycle %d: %w", s.cycle, err)
	}

	s.checkActivityNets()
	s.checkTopPorts(t)
	s.clockEdge(s.state, nil)
	for _, id := range s.sb.leakedList() {
		Trace("RandomLeaked", "cycle", s.cycle, "random", id.String())
	}
	s.emit()

	s.cycle++
	return nil
}

// Run steps the simulation to its final cycle.
func (s *Simulation) Run() error {
	for !s.Done() {
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// align finds the trace cycle of simulation cycle 0: the first sample where
// the in_valid signal is 1. Without an in_valid name the trace starts
// immediately.
func (s *Simulation) align() error {
	s.aligned = true
	if s.inValid == "" {
		return nil
	}
	path := s.tracePath(s.inValid)
	for t := int64(0); t < s.trace.Horizon(); t++ {
		v, err := s.trace.Lookup(t, path)
		if err != nil {
			return err
		}
		if v {
			s.offset = t
			return nil
		}
	}
	s.drained = true
	return nil
}

// tracePath resolves a net name against the DUT scope. Names carrying dots
// are taken as absolute trace paths.
func (s *Simulation) tracePath(name string) string {
	if strings.Contains(name, ".") || s.dutPath == "" {
		return name
	}
	return s.dutPath + "." + name
}

func (s *Simulation) record(v Violation) {
	// The edge pass re-resolves gadget activities, so the same finding can
	// surface twice in one cycle; keep the first.
	for i := len(s.violations) - 1; i >= 0; i-- {
		prev := s.violations[i]
		if prev.Cycle != v.Cycle {
			break
		}
		if prev.Kind == v.Kind && prev.Path == v.Path {
			return
		}
	}
	s.violations = append(s.violations, v)
	logViolation(v)
}

// evalChild evaluates one node. pst holds the wire array the node's
// connections index into; it is nil only for the top node.
func (s *Simulation) evalChild(st, pst *nodeState, t int64) error {
	sim := st.sim
	switch sim.Kind {
	case nodeTop:
		for _, c := range st.children {
			if err := s.evalChild(c, st, t); err != nil {
				return err
			}
		}

	case nodeInput:
		v, err := s.trace.Lookup(t, s.tracePath(sim.Name))
		if err != nil {
			return err
		}
		active := true
		if sim.port.Activity != "" {
			active, err = s.trace.Lookup(t, s.tracePath(sim.port.Activity))
			if err != nil {
				return err
			}
		}
		pst.wires[sim.out] = sim.port.PortValue(s.cycle, v, active)

	case nodeTie:
		pst.wires[sim.out] = symbolic.Const(sim.tieHigh)

	case nodeCell:
		s.evalCell(st, pst)

	case nodeFlat:
		for pid, w := range sim.conns {
			if w != circuit.InvalidWire && sim.Module.Ports[pid].Dir == circuit.DirIn {
				st.wires[sim.Module.Ports[pid].Wire] = pst.wires[w]
			}
		}
		for _, c := range st.children {
			if err := s.evalChild(c, st, t); err != nil {
				return err
			}
		}
		for pid, w := range sim.conns {
			if w != circuit.InvalidWire && sim.Module.Ports[pid].Dir == circuit.DirOut {
				pst.wires[w] = st.wires[sim.Module.Ports[pid].Wire]
			}
		}

	case nodeGadget:
		s.evalGadget(st, pst)
	}
	return nil
}

func (s *Simulation) in(pst *nodeState, w circuit.WireID) symbolic.Bit {
	if w == circuit.InvalidWire {
		return symbolic.Const(false)
	}
	return pst.wires[w]
}

// evalCell applies one library-cell transfer function. A flip-flop drives
// its stored value; the D pin is consumed at the clock edge only.
func (s *Simulation) evalCell(st, pst *nodeState) {
	sim := st.sim
	if sim.Cell == circuit.CellDFF {
		pst.wires[sim.out] = st.q
		return
	}

	var out symbolic.Bit
	switch sim.Cell {
	case circuit.CellBuf:
		out = symbolic.Buf(s.in(pst, sim.ins[0]))
	case circuit.CellNot:
		out = symbolic.Not(s.in(pst, sim.ins[0]))
	case circuit.CellAnd:
		out = symbolic.And(s.in(pst, sim.ins[0]), s.in(pst, sim.ins[1]), s.sb)
	case circuit.CellNand:
		out = symbolic.Nand(s.in(pst, sim.ins[0]), s.in(pst, sim.ins[1]), s.sb)
	case circuit.CellOr:
		out = symbolic.Or(s.in(pst, sim.ins[0]), s.in(pst, sim.ins[1]), s.sb)
	case circuit.CellNor:
		out = symbolic.Nor(s.in(pst, sim.ins[0]), s.in(pst, sim.ins[1]), s.sb)
	case circuit.CellXor:
		out = symbolic.Xor(s.in(pst, sim.ins[0]), s.in(pst, sim.ins[1]), s.sb)
	case circuit.CellXnor:
		out = symbolic.Xnor(s.in(pst, sim.ins[0]), s.in(pst, sim.ins[1]), s.sb)
	case circuit.CellMux:
		// ins order is A, B, S.
		out = symbolic.Mux(s.in(pst, sim.ins[2]), s.in(pst, sim.ins[0]), s.in(pst, sim.ins[1]), s.sb)
	}
	pst.wires[sim.out] = out
}

// gadgetPortState resolves the current bit and activity of every port of a
// pipeline gadget instance from the enclosing module's wires.
func (s *Simulation) gadgetPortState(st, pst *nodeState) (bits []symbolic.Bit, active []bool) {
	sim := st.sim
	g := sim.Gadget
	bits = make([]symbolic.Bit, len(g.Ports))
	active = make([]bool, len(g.Ports))

	for i, p := range g.Ports {
		bits[i] = s.in(pst, sim.conns[p.ID])
		if p.Activity == "" {
			active[i] = true
			continue
		}
		actPort, ok := g.Port(p.Activity)
		if !ok {
			active[i] = true
			continue
		}
		act := s.in(pst, sim.conns[actPort.ID])
		if !act.Det {
			s.record(Violation{
				Kind:  ActivityNotDeterministic,
				Cycle: s.cycle,
				Path:  sim.Path + "." + p.Activity,
			})
			active[i] = true // worst case
			continue
		}
		active[i] = act.Value
	}
	return bits, active
}

// evalGadget applies the abstract pipeline-gadget transfer function. An
// output at latency k combines every input at latency l <= k: same-stage
// inputs live from the wires, earlier stages from the snapshot captured
// k-l cycles ago. Stages crossed through the gadget's internal registers
// narrow glitches, so only same-stage inputs contribute their glitch sets.
func (s *Simulation) evalGadget(st, pst *nodeState) {
	sim := st.sim
	g := sim.Gadget
	cur, active := s.gadgetPortState(st, pst)

	for io, o := range g.Ports {
		if o.Dir != circuit.DirOut {
			continue
		}
		w := sim.conns[o.ID]
		if w == circuit.InvalidWire {
			continue
		}
		if !active[io] {
			pst.wires[w] = symbolic.Const(false)
			continue
		}

		det := true
		var stable, glitch symbolic.ShareSet
		for ii, p := range g.Ports {
			if p.Dir != circuit.DirIn || p.Type == gadget.TypeClock || p.Latency > o.Latency {
				continue
			}
			var bit symbolic.Bit
			var act bool
			if p.Latency == o.Latency {
				bit, act = cur[ii], active[ii]
			} else {
				snap := st.snapAt(o.Latency - p.Latency)
				if snap == nil {
					continue // pipeline not yet filled this deep
				}
				bit, act = snap.inputs[ii], snap.active[ii]
			}
			if !act {
				continue
			}
			det = det && bit.Det
			if p.Type.IsShare() {
				stable = stable.Union(bit.Stable)
				if p.Latency == o.Latency {
					glitch = glitch.Union(bit.Glitch)
				} else {
					glitch = glitch.Union(bit.Stable)
				}
			}
		}

		var out symbolic.Bit
		switch {
		case det:
			out = symbolic.Const(false)
		case o.Type.IsShare() && g.Prop == gadget.PINI:
			// The gadget is assumed PINI: each output share depends on its
			// own share index only, provided the inputs compose.
			own := symbolic.SingleShare(o.ShareIndex)
			out = symbolic.Bit{Stable: own, Glitch: own}
		default:
			out = symbolic.Bit{Stable: stable, Glitch: stable.Union(glitch)}
		}
		pst.wires[w] = out
	}
}

// clockEdge advances all sequential state: flip-flops capture the stable
// view of their D input, pipeline gadgets snapshot their final input values
// and account for consumed randomness.
func (s *Simulation) clockEdge(st, pst *nodeState) {
	sim := st.sim
	switch sim.Kind {
	case nodeTop, nodeFlat:
		for _, c := range st.children {
			s.clockEdge(c, st)
		}
	case nodeCell:
		if sim.Cell == circuit.CellDFF {
			// ins order is C, D.
			st.q = symbolic.Latch(s.in(pst, sim.ins[1]))
		}
	case nodeGadget:
		s.captureGadget(st, pst)
	}
}

// captureGadget snapshots a pipeline gadget's inputs at the clock edge and
// enforces the freshness contract of its randomness ports.
func (s *Simulation) captureGadget(st, pst *nodeState) {
	sim := st.sim
	g := sim.Gadget
	cur, active := s.gadgetPortState(st, pst)

	for i, p := range g.Ports {
		if p.Dir != circuit.DirIn || p.Type != gadget.TypeRandom || !active[i] {
			continue
		}
		bit := cur[i]
		switch {
		case !bit.IsRand:
			s.record(Violation{
				Kind:  GadgetRandomnessReuse,
				Cycle: s.cycle,
				Path:  sim.Path + "." + p.Name,
			})
		case !s.sb.fresh(bit.Rand):
			s.record(Violation{
				Kind:    GadgetInputNotFresh,
				Cycle:   s.cycle,
				Path:    sim.Path + "." + p.Name,
				Rand:    bit.Rand,
				HasRand: true,
			})
			s.sb.gadgetConsume(bit.Rand)
		default:
			s.sb.gadgetConsume(bit.Rand)
		}
	}
	st.push(cur, active)
}

// checkActivityNets verifies the assumption that every consulted top-level
// activity net is deterministic this cycle.
func (s *Simulation) checkActivityNets() {
	g := s.top.Gadget
	m := s.top.Module
	seen := map[string]bool{}
	for _, p := range g.Ports {
		if p.Activity == "" || seen[p.Activity] {
			continue
		}
		seen[p.Activity] = true
		w, ok := m.WireByName(p.Activity)
		if !ok {
			continue
		}
		if !s.state.wires[w].Det {
			s.record(Violation{
				Kind:  ActivityNotDeterministic,
				Cycle: s.cycle,
				Path:  s.dutPath + "." + p.Activity,
			})
		}
	}
}

// checkTopPorts runs the per-cycle output checks of the top-level gadget:
// share and glitch containment when a share output is active, and absence
// of sensitivity when it is not.
func (s *Simulation) checkTopPorts(t int64) {
	g := s.top.Gadget
	m := s.top.Module

	for _, p := range g.Ports {
		if p.Dir != circuit.DirOut || !p.Type.IsShare() {
			continue
		}
		bit := s.state.wires[m.Ports[p.ID].Wire]
		path := s.dutPath + "." + p.Name

		active := true
		if p.Activity != "" {
			v, err := s.trace.Lookup(t, s.tracePath(p.Activity))
			if err == nil {
				active = v
			}
			// A non-deterministic activity net degrades the port to worst
			// case: the checks run as if it were active.
			if w, ok := m.WireByName(p.Activity); ok && !s.state.wires[w].Det {
				active = true
			}
		}

		own := symbolic.SingleShare(p.ShareIndex)
		if active {
			if !bit.Stable.SubsetOf(own) {
				s.record(Violation{
					Kind:  ShareLeakage,
					Cycle: s.cycle,
					Path:  path,
					Extra: bit.Stable.Minus(own),
				})
			}
			if !bit.Glitch.SubsetOf(own) {
				s.record(Violation{
					Kind:  GlitchLeakage,
					Cycle: s.cycle,
					Path:  path,
					Extra: bit.Glitch.Minus(own),
				})
			}
		} else if !bit.Stable.Empty() {
			s.record(Violation{
				Kind:  InconsistentActivity,
				Cycle: s.cycle,
				Path:  path,
				Extra: bit.Stable,
			})
		}
	}
}

// emit streams the attribute log of every wire of every simulated scope.
func (s *Simulation) emit() {
	if s.sink == nil {
		return
	}
	s.sink.BeginCycle(s.cycle)
	s.emitNode(s.state)
	s.sink.EndCycle(s.cycle)
}

func (s *Simulation) emitNode(st *nodeState) {
	if st.wires != nil {
		for w := range st.wires {
			s.sink.WireState(st.sim.Path, st.sim.Module.Wires[w].Name, st.wires[w])
		}
	}
	for _, c := range st.children {
		if c.sim.Kind == nodeFlat {
			s.emitNode(c)
		}
	}
}

// WireBit reads the current value of a wire by module-relative name, for
// tests and debugging.
func (s *Simulation) WireBit(path []string, wire string) (symbolic.Bit, bool) {
	st := s.state
	for _, name := range path {
		found := false
		for _, c := range st.children {
			if c.sim.Name == name && c.sim.Kind == nodeFlat {
				st, found = c, true
				break
			}
		}
		if !found {
			return symbolic.Bit{}, false
		}
	}
	w, ok := st.sim.Module.WireByName(wire)
	if !ok {
		return symbolic.Bit{}, false
	}
	return st.wires[w], true
}
