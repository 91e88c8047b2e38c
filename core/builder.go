package core

import (
	"fmt"

	"github.com/sarchlab/masksim/circuit"
	"github.com/sarchlab/masksim/gadget"
)

// Builder lowers an elaborated netlist plus its gadget overlay into a
// Simulation. The netlist must have been through circuit.Elaborate with the
// same gadget set.
type Builder struct {
	netlist *circuit.Netlist
	gadgets *gadget.Set
	trace   InputTrace
	sink    TraceSink
	inValid string
	maxCyc  int64
}

// NewBuilder returns a Builder with no options set.
func NewBuilder() Builder {
	return Builder{}
}

// WithNetlist sets the elaborated netlist.
func (b Builder) WithNetlist(nl *circuit.Netlist) Builder {
	b.netlist = nl
	return b
}

// WithGadgets sets the gadget overlay used during elaboration.
func (b Builder) WithGadgets(gs *gadget.Set) Builder {
	b.gadgets = gs
	return b
}

// WithInputTrace sets the value-change record driving the top-level pins.
func (b Builder) WithInputTrace(t InputTrace) Builder {
	b.trace = t
	return b
}

// WithTraceSink sets the attribute-log consumer. Optional.
func (b Builder) WithTraceSink(s TraceSink) Builder {
	b.sink = s
	return b
}

// WithInValid names the signal whose first 1 sample marks cycle 0.
// Optional; without it the trace starts at its first sample.
func (b Builder) WithInValid(name string) Builder {
	b.inValid = name
	return b
}

// WithMaxCycles bounds the number of simulated cycles. Zero means the full
// trace horizon.
func (b Builder) WithMaxCycles(n int64) Builder {
	b.maxCyc = n
	return b
}

// Build creates the simulation rooted at the top module. name is the
// dot-separated scope path of the top instance inside the input trace.
func (b Builder) Build(name string) (*Simulation, error) {
	if b.netlist == nil || b.netlist.Top < 0 {
		return nil, fmt.Errorf("core: builder needs an elaborated netlist")
	}
	if b.gadgets == nil {
		return nil, fmt.Errorf("core: builder needs a gadget overlay")
	}
	if b.trace == nil {
		return nil, fmt.Errorf("core: builder needs an input trace")
	}

	topID := b.netlist.Top
	g, ok := b.gadgets.Gadget(topID)
	if !ok || g.Strat != gadget.CompositeTop {
		return nil, &gadget.AnnotationError{
			Module: b.netlist.Module(topID).Name,
			Attr:   circuit.AttrStrat,
			Reason: "top module is not annotated composite_top",
		}
	}

	top, err := b.buildModule(topID, name, name, true)
	if err != nil {
		return nil, err
	}

	sim := &Simulation{
		top:     top,
		state:   newState(top),
		trace:   b.trace,
		sink:    b.sink,
		gadgets: b.gadgets,
		inValid: b.inValid,
		maxCyc:  b.maxCyc,
		dutPath: name,
		sb:      newScoreboard(),
	}
	sim.Reset()
	return sim, nil
}

// buildModule lowers one flat (fully simulated) module instance.
func (b Builder) buildModule(id circuit.ModuleID, name, path string, top bool) (*Simulator, error) {
	m := b.netlist.Module(id)

	node := &Simulator{
		Kind:   nodeFlat,
		Name:   name,
		Path:   path,
		Module: m,
	}
	if top {
		node.Kind = nodeTop
		node.Gadget, _ = b.gadgets.Gadget(id)

		// The top gadget's input sources evaluate before everything else.
		for _, p := range node.Gadget.Ports {
			if p.Dir != circuit.DirIn {
				continue
			}
			node.Children = append(node.Children, &Simulator{
				Kind: nodeInput,
				Name: p.Name,
				Path: path + "." + p.Name,
				port: p,
				out:  m.Ports[p.ID].Wire,
			})
		}
	}

	for _, iid := range m.EvalOrder {
		inst := &m.Instances[iid]
		child, err := b.buildInstance(inst, path)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func (b Builder) buildInstance(inst *circuit.Instance, path string) (*Simulator, error) {
	childPath := path + "." + inst.Name

	switch inst.Kind {
	case circuit.InstTieLow, circuit.InstTieHigh:
		out, _ := inst.Conn(circuit.PortY)
		return &Simulator{
			Kind:    nodeTie,
			Name:    inst.Name,
			Path:    childPath,
			tieHigh: inst.Kind == circuit.InstTieHigh,
			out:     out,
		}, nil

	case circuit.InstCell:
		node := &Simulator{
			Kind: nodeCell,
			Name: inst.Name,
			Path: childPath,
			Cell: inst.Cell,
		}
		for _, pin := range inst.Cell.Inputs() {
			w, ok := inst.Conn(pin)
			if !ok {
				w = circuit.InvalidWire
			}
			node.ins = append(node.ins, w)
		}
		out, ok := inst.Conn(inst.Cell.Output())
		if !ok {
			return nil, fmt.Errorf("core: %s: cell output %s unconnected",
				childPath, inst.Cell.Output())
		}
		node.out = out
		return node, nil

	case circuit.InstSubModule:
		sub := b.netlist.Module(inst.Sub)
		conns := make([]circuit.WireID, len(sub.Ports))
		for p := range conns {
			conns[p] = circuit.InvalidWire
		}
		for _, c := range inst.Conns {
			if pid, ok := sub.PortByName(c.Port); ok {
				conns[pid] = c.Wire
			}
		}

		if b.gadgets.Opaque(inst.Sub) {
			g, _ := b.gadgets.Gadget(inst.Sub)
			return &Simulator{
				Kind:   nodeGadget,
				Name:   inst.Name,
				Path:   childPath,
				Module: sub,
				Gadget: g,
				conns:  conns,
			}, nil
		}

		node, err := b.buildModule(inst.Sub, inst.Name, childPath, false)
		if err != nil {
			return nil, err
		}
		node.conns = conns
		return node, nil
	}
	return nil, fmt.Errorf("core: %s: unknown instance kind", childPath)
}
