// Package core lowers an elaborated netlist into a tree of immutable
// simulator nodes and drives the per-cycle recursive symbolic evaluation,
// including randomness bookkeeping and security-violation detection.
package core

import (
	"github.com/sarchlab/masksim/circuit"
	"github.com/sarchlab/masksim/gadget"
	"github.com/sarchlab/masksim/symbolic"
)

// nodeKind tags the simulator-node variants. The engine dispatches on the
// tag; there is no deep type hierarchy.
type nodeKind int

const (
	nodeTop nodeKind = iota
	nodeFlat
	nodeGadget
	nodeCell
	nodeInput
	nodeTie
)

var nodeKindNames = []string{"TopLevel", "FlatModule", "PipelineGadget", "LibCell", "Input", "ConstantTie"}

func (k nodeKind) String() string { return nodeKindNames[k] }

// A Simulator is one static node of the simulator tree. It is built once
// from the netlist and never mutated afterwards; all per-cycle data lives in
// the mirroring nodeState.
type Simulator struct {
	Kind   nodeKind
	Name   string
	Path   string
	Cell   circuit.CellKind
	Module *circuit.Module
	Gadget *gadget.Gadget

	// Children of top and flat nodes, in evaluation order. For the top
	// node the input sources come first.
	Children []*Simulator

	tieHigh bool

	// Library cell wiring: input wires in CellKind.Inputs() order and the
	// output wire, all indices into the parent module.
	ins []circuit.WireID
	out circuit.WireID

	// Input source wiring (top level only).
	port *gadget.PortInfo

	// Sub-module wiring: the parent wire bound to each port of Module,
	// indexed by PortID; InvalidWire when unconnected.
	conns []circuit.WireID
}

// nodeState is the mutable per-cycle mirror of a simulator node. It is
// allocated once and overwritten in place every cycle; only flip-flop and
// pipeline ring contents survive a clock edge.
type nodeState struct {
	sim      *Simulator
	wires    []symbolic.Bit
	children []*nodeState

	// Flip-flop storage.
	q symbolic.Bit

	// Pipeline gadget input history: ring of end-of-cycle snapshots,
	// ring[head] being the most recent completed cycle.
	ring []gadgetSnap
	head int
}

// gadgetSnap is one end-of-cycle capture of a pipeline gadget's inputs.
type gadgetSnap struct {
	valid  bool
	inputs []symbolic.Bit // by gadget PortID; output entries hold the output wires and are not read
	active []bool
}

// newState allocates the state mirror of a simulator tree.
func newState(sim *Simulator) *nodeState {
	st := &nodeState{sim: sim}
	if sim.Module != nil && (sim.Kind == nodeTop || sim.Kind == nodeFlat) {
		st.wires = make([]symbolic.Bit, len(sim.Module.Wires))
	}
	if sim.Kind == nodeGadget {
		depth := sim.Gadget.MaxLatency + 1
		st.ring = make([]gadgetSnap, depth)
		for i := range st.ring {
			st.ring[i].inputs = make([]symbolic.Bit, len(sim.Gadget.Ports))
			st.ring[i].active = make([]bool, len(sim.Gadget.Ports))
		}
	}
	for _, c := range sim.Children {
		st.children = append(st.children, newState(c))
	}
	return st
}

// reset clears every stored value back to power-up: deterministic zeros in
// flip-flops and invalidated pipeline history.
func (st *nodeState) reset() {
	for i := range st.wires {
		st.wires[i] = symbolic.Const(false)
	}
	st.q = symbolic.Const(false)
	for i := range st.ring {
		st.ring[i].valid = false
	}
	st.head = 0
	for _, c := range st.children {
		c.reset()
	}
}

// snapAt returns the input snapshot captured back completed cycles ago
// (back >= 1), or nil while the pipeline has not been filled that deep.
func (st *nodeState) snapAt(back int) *gadgetSnap {
	if back < 1 || back > len(st.ring) {
		return nil
	}
	idx := (st.head - (back - 1) + len(st.ring)) % len(st.ring)
	if !st.ring[idx].valid {
		return nil
	}
	return &st.ring[idx]
}

// push stores the end-of-cycle input snapshot of a pipeline gadget.
func (st *nodeState) push(inputs []symbolic.Bit, active []bool) {
	st.head = (st.head + 1) % len(st.ring)
	snap := &st.ring[st.head]
	copy(snap.inputs, inputs)
	copy(snap.active, active)
	snap.valid = true
}
