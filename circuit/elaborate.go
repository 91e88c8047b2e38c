package circuit

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// GadgetView is the slice of the gadget overlay that elaboration needs:
// which modules are opaque (assumed pipeline gadgets, never recursed into)
// and the pipeline latency of their ports.
type GadgetView interface {
	Opaque(ModuleID) bool
	PortLatency(ModuleID, string) (int, bool)
}

// FlatView is a GadgetView with no opaque modules, for designs without
// gadget annotations.
type FlatView struct{}

func (FlatView) Opaque(ModuleID) bool                  { return false }
func (FlatView) PortLatency(ModuleID, string) (int, bool) { return 0, false }

// Elaborate resolves wire drivers, identifies clocks, computes each module's
// combinational port relation, and fixes a deterministic evaluation order.
// It must run once before a simulator is built. Structural defects are
// fatal: any error returned here aborts before simulation starts.
func Elaborate(n *Netlist, top string, gv GadgetView) error {
	topID, ok := n.ModuleByName(top)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoTopModule, top)
	}
	n.Top = topID

	e := &elaborator{n: n, gv: gv, done: map[ModuleID]bool{}, busy: map[ModuleID]bool{}}
	return e.module(topID)
}

type elaborator struct {
	n    *Netlist
	gv   GadgetView
	done map[ModuleID]bool
	busy map[ModuleID]bool
}

func (e *elaborator) module(id ModuleID) error {
	if e.done[id] {
		return nil
	}
	m := e.n.Module(id)
	if e.busy[id] {
		return fmt.Errorf("circuit: recursive instantiation of module %s", m.Name)
	}
	e.busy[id] = true
	defer func() { e.busy[id] = false }()

	// Sub-modules first: their port relations feed this module's ordering.
	for i := range m.Instances {
		inst := &m.Instances[i]
		if inst.Kind == InstSubModule && !e.gv.Opaque(inst.Sub) {
			if err := e.module(inst.Sub); err != nil {
				return err
			}
		}
	}

	if err := e.resolveDrivers(m); err != nil {
		return err
	}
	if err := e.findClock(m); err != nil {
		return err
	}
	e.combClosure(m)
	if err := e.order(m); err != nil {
		return err
	}

	e.done[id] = true
	return nil
}

// resolveDrivers assigns the unique driver of every wire and collects the
// reader lists. Input ports drive their wire; instance output ports drive
// theirs; everything else reads.
func (e *elaborator) resolveDrivers(m *Module) error {
	for w := range m.Wires {
		m.Wires[w].drive = driveNone
		m.Wires[w].driver = WireRef{}
		m.Wires[w].readers = nil
	}

	setDriver := func(w WireID, ref WireRef, fromPort bool) error {
		wire := &m.Wires[w]
		if wire.drive != driveNone {
			return &MultiDriverError{Module: m.Name, Wire: wire.Name}
		}
		if fromPort {
			wire.drive = drivePort
		} else {
			wire.drive = driveInstance
			wire.driver = ref
		}
		return nil
	}

	for p := range m.Ports {
		if m.Ports[p].Dir == DirIn {
			if err := setDriver(m.Ports[p].Wire, WireRef{}, true); err != nil {
				return err
			}
		}
	}

	for i := range m.Instances {
		inst := &m.Instances[i]
		for _, c := range inst.Conns {
			out, err := e.portIsOutput(m, inst, c.Port)
			if err != nil {
				return err
			}
			if out {
				if err := setDriver(c.Wire, WireRef{Inst: InstanceID(i), Port: c.Port}, false); err != nil {
					return err
				}
			} else {
				m.Wires[c.Wire].readers = append(m.Wires[c.Wire].readers,
					WireRef{Inst: InstanceID(i), Port: c.Port})
			}
		}
	}

	// A wire that is read, or exposed through an output port, needs a driver.
	needed := bitset.New(uint(len(m.Wires)))
	for w := range m.Wires {
		if len(m.Wires[w].readers) > 0 {
			needed.Set(uint(w))
		}
	}
	for p := range m.Ports {
		if m.Ports[p].Dir == DirOut {
			needed.Set(uint(m.Ports[p].Wire))
		}
	}
	for w, ok := needed.NextSet(0); ok; w, ok = needed.NextSet(w + 1) {
		if m.Wires[w].drive == driveNone {
			return &NoDriverError{Module: m.Name, Wire: m.Wires[w].Name}
		}
	}
	return nil
}

func (e *elaborator) portIsOutput(m *Module, inst *Instance, port string) (bool, error) {
	switch inst.Kind {
	case InstTieLow, InstTieHigh:
		return port == PortY, nil
	case InstCell:
		if port == inst.Cell.Output() {
			return true, nil
		}
		for _, in := range inst.Cell.Inputs() {
			if in == port {
				return false, nil
			}
		}
		return false, fmt.Errorf("circuit: %s.%s: cell %s has no port %q",
			m.Name, inst.Name, inst.Cell.Name(), port)
	case InstSubModule:
		sub := e.n.Module(inst.Sub)
		pid, ok := sub.PortByName(port)
		if !ok {
			return false, fmt.Errorf("circuit: %s.%s: module %s has no port %q",
				m.Name, inst.Name, sub.Name, port)
		}
		return sub.Ports[pid].Dir == DirOut, nil
	}
	return false, nil
}

// findClock locates the module clock from its flip-flop C pins. The clock
// of a sequential module must be a single net; zero or two candidate nets
// fail elaboration.
func (e *elaborator) findClock(m *Module) error {
	m.SeqCells = nil
	m.ClockWire = InvalidWire

	clocks := map[WireID]bool{}
	for i := range m.Instances {
		inst := &m.Instances[i]
		if inst.Kind == InstCell && inst.Cell == CellDFF {
			m.SeqCells = append(m.SeqCells, InstanceID(i))
			if w, ok := inst.Conn(PortC); ok {
				clocks[w] = true
			} else {
				return fmt.Errorf("circuit: %s.%s: DFF without clock pin", m.Name, inst.Name)
			}
		}
	}
	if len(m.SeqCells) == 0 {
		return nil
	}
	if len(clocks) != 1 {
		err := &ClockAmbiguousError{Module: m.Name}
		for w := range clocks {
			err.Wires = append(err.Wires, m.Wires[w].Name)
		}
		sort.Strings(err.Wires)
		return err
	}
	for w := range clocks {
		m.ClockWire = w
	}
	return nil
}

// combClosure computes, for every input port, the set of output ports it
// reaches combinationally, and whether the port feeds any combinational
// consumer at all. Library cells relate every input to their output; flip
// flops relate nothing; pipeline gadgets relate same-latency ports; flat
// sub-modules contribute their recursively computed relation.
func (e *elaborator) combClosure(m *Module) {
	adj := make([][]WireID, len(m.Wires))
	edge := func(from, to WireID) {
		adj[from] = append(adj[from], to)
	}

	for i := range m.Instances {
		inst := &m.Instances[i]
		switch inst.Kind {
		case InstCell:
			if !inst.Cell.Combinational() {
				continue
			}
			out, ok := inst.Conn(inst.Cell.Output())
			if !ok {
				continue
			}
			for _, in := range inst.Cell.Inputs() {
				if w, ok := inst.Conn(in); ok {
					edge(w, out)
				}
			}
		case InstSubModule:
			sub := e.n.Module(inst.Sub)
			if e.gv.Opaque(inst.Sub) {
				e.opaqueEdges(sub, inst, edge)
			} else {
				for pin, pouts := range sub.combReach {
					win, ok := inst.Conn(sub.Ports[pin].Name)
					if !ok {
						continue
					}
					for _, pout := range pouts {
						if wout, ok := inst.Conn(sub.Ports[pout].Name); ok {
							edge(win, wout)
						}
					}
				}
			}
		}
	}

	outOf := map[WireID][]PortID{}
	for p := range m.Ports {
		if m.Ports[p].Dir == DirOut {
			outOf[m.Ports[p].Wire] = append(outOf[m.Ports[p].Wire], PortID(p))
		}
	}

	m.combReach = map[PortID][]PortID{}
	for p := range m.Ports {
		if m.Ports[p].Dir != DirIn {
			continue
		}
		visited := bitset.New(uint(len(m.Wires)))
		stack := []WireID{m.Ports[p].Wire}
		var reached []PortID
		for len(stack) > 0 {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited.Test(uint(w)) {
				continue
			}
			visited.Set(uint(w))
			reached = append(reached, outOf[w]...)
			stack = append(stack, adj[w]...)
		}
		if len(reached) > 0 {
			sort.Slice(reached, func(a, b int) bool { return reached[a] < reached[b] })
			m.combReach[PortID(p)] = reached
		}
	}

	m.combLive = map[PortID]bool{}
	for p := range m.Ports {
		if m.Ports[p].Dir == DirIn {
			m.combLive[PortID(p)] = e.combConsumed(m, m.Ports[p].Wire)
		}
	}
}

// opaqueEdges adds the conservative same-latency in-to-out relation of an
// assumed pipeline gadget instance.
func (e *elaborator) opaqueEdges(sub *Module, inst *Instance, edge func(WireID, WireID)) {
	for pin := range sub.Ports {
		if sub.Ports[pin].Dir != DirIn {
			continue
		}
		lin, ok := e.gv.PortLatency(inst.Sub, sub.Ports[pin].Name)
		if !ok {
			continue
		}
		win, ok := inst.Conn(sub.Ports[pin].Name)
		if !ok {
			continue
		}
		for pout := range sub.Ports {
			if sub.Ports[pout].Dir != DirOut {
				continue
			}
			lout, ok := e.gv.PortLatency(inst.Sub, sub.Ports[pout].Name)
			if !ok || lout != lin {
				continue
			}
			if wout, ok := inst.Conn(sub.Ports[pout].Name); ok {
				edge(win, wout)
			}
		}
	}
}

// combConsumed reports whether any reader of the wire evaluates it within
// the cycle: any combinational cell pin, any live port of a sub-module.
// Flip-flop D and C pins consume the wire only at the clock edge.
func (e *elaborator) combConsumed(m *Module, w WireID) bool {
	for _, r := range m.Wires[w].readers {
		inst := &m.Instances[r.Inst]
		switch inst.Kind {
		case InstCell:
			if inst.Cell.Combinational() {
				return true
			}
		case InstSubModule:
			sub := e.n.Module(inst.Sub)
			pid, ok := sub.PortByName(r.Port)
			if !ok {
				continue
			}
			if e.gv.Opaque(inst.Sub) {
				if e.opaquePortLive(inst.Sub, sub, pid) {
					return true
				}
			} else if sub.combLive[pid] {
				return true
			}
		}
	}
	return false
}

// opaquePortLive reports whether an input port of an assumed gadget is
// combinational: some output shares its latency stage.
func (e *elaborator) opaquePortLive(id ModuleID, sub *Module, pid PortID) bool {
	lin, ok := e.gv.PortLatency(id, sub.Ports[pid].Name)
	if !ok {
		return false
	}
	for q := range sub.Ports {
		if sub.Ports[q].Dir != DirOut {
			continue
		}
		if lout, ok := e.gv.PortLatency(id, sub.Ports[q].Name); ok && lout == lin {
			return true
		}
	}
	return false
}

// order fixes the module's evaluation order: Kahn's algorithm extracting
// the minimum-id zero-in-degree instance, so the order is reproducible for
// a given netlist. A leftover cycle is reported with its instance path.
func (e *elaborator) order(m *Module) error {
	n := len(m.Instances)
	succ := make([]map[InstanceID]bool, n)
	indeg := make([]int, n)

	// A cell reading its own output forms a self-arc, the smallest loop.
	addArc := func(a, b InstanceID) {
		succ[a] = ensure(succ[a])
		if !succ[a][b] {
			succ[a][b] = true
			indeg[b]++
		}
	}

	for w := range m.Wires {
		wire := &m.Wires[w]
		if wire.drive != driveInstance {
			continue
		}
		for _, r := range wire.readers {
			if e.readerIsComb(m, r) {
				addArc(wire.driver.Inst, r.Inst)
			}
		}
	}

	m.EvalOrder = make([]InstanceID, 0, n)
	placed := bitset.New(uint(n))
	for len(m.EvalOrder) < n {
		picked := InstanceID(-1)
		for i := 0; i < n; i++ {
			if !placed.Test(uint(i)) && indeg[i] == 0 {
				picked = InstanceID(i)
				break
			}
		}
		if picked < 0 {
			return e.loopError(m, succ, placed)
		}
		placed.Set(uint(picked))
		m.EvalOrder = append(m.EvalOrder, picked)
		for s := range succ[picked] {
			indeg[s]--
		}
	}
	return nil
}

// readerIsComb reports whether evaluating the reading instance consumes the
// wire combinationally, i.e. the reader must run after the driver.
func (e *elaborator) readerIsComb(m *Module, r WireRef) bool {
	inst := &m.Instances[r.Inst]
	switch inst.Kind {
	case InstCell:
		return inst.Cell.Combinational()
	case InstSubModule:
		sub := e.n.Module(inst.Sub)
		pid, ok := sub.PortByName(r.Port)
		if !ok {
			return false
		}
		if e.gv.Opaque(inst.Sub) {
			return e.opaquePortLive(inst.Sub, sub, pid)
		}
		return sub.combLive[pid]
	}
	return false
}

// loopError reconstructs one combinational cycle among the unplaced
// instances for the error report.
func (e *elaborator) loopError(m *Module, succ []map[InstanceID]bool, placed *bitset.BitSet) error {
	// Any unplaced node lies on or upstream of a cycle; walk successors
	// within the unplaced set until a node repeats.
	start := InstanceID(-1)
	for i := range m.Instances {
		if !placed.Test(uint(i)) {
			start = InstanceID(i)
			break
		}
	}

	seen := map[InstanceID]int{}
	var walk []InstanceID
	cur := start
	for {
		if at, ok := seen[cur]; ok {
			walk = append(walk[at:], cur)
			break
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)
		next := InstanceID(-1)
		for s := range succ[cur] {
			if !placed.Test(uint(s)) {
				if next < 0 || s < next {
					next = s
				}
			}
		}
		if next < 0 {
			break
		}
		cur = next
	}

	err := &CombinationalLoopError{Module: m.Name}
	for _, i := range walk {
		err.Path = append(err.Path, m.Instances[i].Name)
	}
	return err
}

func ensure(s map[InstanceID]bool) map[InstanceID]bool {
	if s == nil {
		return map[InstanceID]bool{}
	}
	return s
}

// CombReach exposes the computed input-to-output combinational relation of
// an elaborated module.
func (m *Module) CombReach(p PortID) []PortID {
	return m.combReach[p]
}

// CombLive reports whether an input port feeds combinational logic of the
// elaborated module.
func (m *Module) CombLive(p PortID) bool {
	return m.combLive[p]
}
