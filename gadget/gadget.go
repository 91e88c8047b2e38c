// Package gadget interprets the matchi_* annotations of a netlist: which
// modules are masked gadgets, how their ports are typed, and how symbolic
// values materialise at gadget boundaries.
package gadget

import (
	"strconv"
	"strings"

	"github.com/sarchlab/masksim/circuit"
)

// Prop is the composition property an assumed gadget is annotated with.
type Prop int

const (
	PINI Prop = iota
	OPINI
)

func (p Prop) String() string {
	if p == OPINI {
		return "OPINI"
	}
	return "PINI"
}

// Strategy states how the simulator treats a gadget.
type Strategy int

const (
	// CompositeTop is the outermost gadget, simulated concretely.
	CompositeTop Strategy = iota
	// Assumed gadgets are opaque abstract transfer functions.
	Assumed
)

// Arch is the gadget architecture annotation.
type Arch int

const (
	Pipeline Arch = iota
	Loopy
)

// PortType classifies a gadget port.
type PortType int

const (
	TypeClock PortType = iota
	TypeControl
	TypeRandom
	TypeShare
	TypeSharingsDense
	TypeSharingsStrided
)

var portTypeNames = []string{"clock", "control", "random", "share", "sharings_dense", "sharings_strided"}

func (t PortType) String() string { return portTypeNames[t] }

// IsShare reports whether the port carries a secret share.
func (t PortType) IsShare() bool {
	return t == TypeShare || t == TypeSharingsDense || t == TypeSharingsStrided
}

// A PortInfo is the resolved annotation of one single-bit gadget port.
type PortInfo struct {
	Name       string
	ID         circuit.PortID
	Dir        circuit.PortDir
	Type       PortType
	ShareIndex int    // valid when Type.IsShare()
	BitIndex   int    // bit position within the original bus
	Latency    int    // pipeline stage, assumed gadgets only
	Activity   string // control net gating the port; "" means always active
}

// A Gadget is the overlay of one annotated module.
type Gadget struct {
	Module     circuit.ModuleID
	Name       string
	Prop       Prop
	Strat      Strategy
	Arch       Arch
	Shares     int
	Ports      []*PortInfo
	MaxLatency int

	byName map[string]*PortInfo
}

// Port returns the annotation of the named port.
func (g *Gadget) Port(name string) (*PortInfo, bool) {
	p, ok := g.byName[name]
	return p, ok
}

// A Set holds the gadget overlay of a whole netlist. It implements
// circuit.GadgetView for elaboration.
type Set struct {
	Shares  int
	byModule map[circuit.ModuleID]*Gadget
}

// Gadget returns the overlay of a module, if it is annotated.
func (s *Set) Gadget(id circuit.ModuleID) (*Gadget, bool) {
	g, ok := s.byModule[id]
	return g, ok
}

// Opaque reports whether the module is an assumed gadget that the simulator
// must not recurse into.
func (s *Set) Opaque(id circuit.ModuleID) bool {
	g, ok := s.byModule[id]
	return ok && g.Strat == Assumed
}

// PortLatency returns the pipeline latency of a gadget port.
func (s *Set) PortLatency(id circuit.ModuleID, port string) (int, bool) {
	g, ok := s.byModule[id]
	if !ok {
		return 0, false
	}
	p, ok := g.byName[port]
	if !ok {
		return 0, false
	}
	return p.Latency, true
}

// FromNetlist builds the gadget overlay for every annotated module. shares
// is the configured share count d; a module annotating a different
// matchi_shares value is rejected.
func FromNetlist(nl *circuit.Netlist, shares int) (*Set, error) {
	s := &Set{Shares: shares, byModule: map[circuit.ModuleID]*Gadget{}}
	for id, m := range nl.Modules {
		if !m.Attrs.Has(circuit.AttrStrat) {
			continue
		}
		g, err := parseGadget(circuit.ModuleID(id), m, shares)
		if err != nil {
			return nil, err
		}
		s.byModule[circuit.ModuleID(id)] = g
	}
	return s, nil
}

func parseGadget(id circuit.ModuleID, m *circuit.Module, shares int) (*Gadget, error) {
	g := &Gadget{
		Module: id,
		Name:   m.Name,
		Shares: shares,
		byName: map[string]*PortInfo{},
	}

	strat, _ := m.Attrs.Get(circuit.AttrStrat)
	switch {
	case strings.EqualFold(strat, "composite_top"):
		g.Strat = CompositeTop
	case strings.EqualFold(strat, "assumed"):
		g.Strat = Assumed
	default:
		return nil, &AnnotationError{Module: m.Name, Attr: circuit.AttrStrat,
			Reason: "must be composite_top or assumed, got " + strconv.Quote(strat)}
	}

	if arch, ok := m.Attrs.Get(circuit.AttrArch); ok {
		switch {
		case strings.EqualFold(arch, "pipeline"):
			g.Arch = Pipeline
		case strings.EqualFold(arch, "loopy"):
			g.Arch = Loopy
		default:
			return nil, &AnnotationError{Module: m.Name, Attr: circuit.AttrArch,
				Reason: "must be pipeline or loopy, got " + strconv.Quote(arch)}
		}
	}
	if g.Strat == Assumed && g.Arch != Pipeline {
		return nil, &AnnotationError{Module: m.Name, Attr: circuit.AttrArch,
			Reason: "only pipeline gadgets may be assumed"}
	}

	if prop, ok := m.Attrs.Get(circuit.AttrProp); ok {
		switch {
		case strings.EqualFold(prop, "PINI"):
			g.Prop = PINI
		case strings.EqualFold(prop, "OPINI"):
			g.Prop = OPINI
		default:
			return nil, &AnnotationError{Module: m.Name, Attr: circuit.AttrProp,
				Reason: "must be PINI or OPINI, got " + strconv.Quote(prop)}
		}
	}

	if d, ok := m.Attrs.Int(circuit.AttrShares); ok && d != shares {
		return nil, &AnnotationError{Module: m.Name, Attr: circuit.AttrShares,
			Reason: "module declares " + strconv.Itoa(d) + " shares, configured " + strconv.Itoa(shares)}
	}

	clocks := 0
	for pid := range m.Ports {
		p, err := parsePort(m, circuit.PortID(pid), g, shares)
		if err != nil {
			return nil, err
		}
		if p.Type == TypeClock {
			clocks++
		}
		g.Ports = append(g.Ports, p)
		g.byName[p.Name] = p
		if p.Latency > g.MaxLatency {
			g.MaxLatency = p.Latency
		}
	}
	if clocks != 1 {
		return nil, &AnnotationError{Module: m.Name, Attr: circuit.AttrType,
			Reason: "gadget needs exactly one clock port, found " + strconv.Itoa(clocks)}
	}
	return g, nil
}

func parsePort(m *circuit.Module, pid circuit.PortID, g *Gadget, shares int) (*PortInfo, error) {
	port := &m.Ports[pid]
	p := &PortInfo{
		Name:     port.Name,
		ID:       pid,
		Dir:      port.Dir,
		BitIndex: bitIndex(port.Name),
	}

	tname, ok := port.Attrs.Get(circuit.AttrType)
	if !ok {
		// Untyped ports on the top gadget default to control; assumed
		// gadgets must annotate everything.
		if g.Strat == Assumed {
			return nil, &AnnotationError{Module: m.Name, Port: port.Name,
				Attr: circuit.AttrType, Reason: "assumed gadget port lacks a type"}
		}
		p.Type = TypeControl
	} else {
		found := false
		for t, n := range portTypeNames {
			if strings.EqualFold(tname, n) {
				p.Type = PortType(t)
				found = true
				break
			}
		}
		if !found {
			return nil, &AnnotationError{Module: m.Name, Port: port.Name,
				Attr: circuit.AttrType, Reason: "unknown port type " + strconv.Quote(tname)}
		}
	}

	switch p.Type {
	case TypeShare:
		idx, ok := port.Attrs.Int(circuit.AttrShare)
		if !ok {
			return nil, &AnnotationError{Module: m.Name, Port: port.Name,
				Attr: circuit.AttrShare, Reason: "share port lacks a share index"}
		}
		p.ShareIndex = idx
	case TypeSharingsDense:
		p.ShareIndex = p.BitIndex % shares
	case TypeSharingsStrided:
		count, ok := port.Attrs.Int(circuit.AttrCount)
		if !ok || count <= 0 {
			return nil, &AnnotationError{Module: m.Name, Port: port.Name,
				Attr: circuit.AttrCount, Reason: "strided sharing lacks matchi_count"}
		}
		p.ShareIndex = p.BitIndex / count
	}
	if p.Type.IsShare() && (p.ShareIndex < 0 || p.ShareIndex >= shares) {
		return nil, &AnnotationError{Module: m.Name, Port: port.Name, Attr: circuit.AttrShare,
			Reason: "share index " + strconv.Itoa(p.ShareIndex) +
				" outside [0," + strconv.Itoa(shares) + ")"}
	}

	if act, ok := port.Attrs.Get(circuit.AttrActive); ok {
		p.Activity = act
	} else if p.Type.IsShare() || p.Type == TypeRandom {
		return nil, &AnnotationError{Module: m.Name, Port: port.Name,
			Attr: circuit.AttrActive, Reason: p.Type.String() + " port lacks an activity net"}
	}

	if g.Strat == Assumed && p.Type != TypeClock {
		lat, ok := port.Attrs.Int(circuit.AttrLatency)
		if !ok {
			lat, ok = port.Attrs.Int(circuit.AttrRndLat + trimIndex(port.Name))
		}
		if !ok || lat < 0 {
			return nil, &AnnotationError{Module: m.Name, Port: port.Name,
				Attr: circuit.AttrLatency, Reason: "pipeline gadget port lacks a latency"}
		}
		p.Latency = lat
	}

	return p, nil
}

// bitIndex extracts i from a bit-blasted port name "bus[i]"; plain names
// are bit 0.
func bitIndex(name string) int {
	open := strings.LastIndexByte(name, '[')
	if open < 0 || !strings.HasSuffix(name, "]") {
		return 0
	}
	i, err := strconv.Atoi(name[open+1 : len(name)-1])
	if err != nil || i < 0 {
		return 0
	}
	return i
}

// trimIndex strips the "[i]" suffix of a bit-blasted port name.
func trimIndex(name string) string {
	if open := strings.LastIndexByte(name, '['); open >= 0 && strings.HasSuffix(name, "]") {
		return name[:open]
	}
	return name
}
