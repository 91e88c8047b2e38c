// Package yosys reads the JSON netlist format produced by `yosys -o
// design.json` into the circuit arena. Multi-bit ports and nets are blasted
// to one wire per bit, named name[i]; matchi_* attributes are copied
// verbatim for the gadget overlay to interpret.
package yosys

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sarchlab/masksim/circuit"
)

// ErrUnknownNetlistValue indicates an x or z constant in a connection list;
// the simulator represents only 0 and 1.
var ErrUnknownNetlistValue = errors.New("yosys: x/z constant in netlist")

type jsonDesign struct {
	Modules map[string]jsonModule `json:"modules"`
}

type jsonModule struct {
	Attributes map[string]any      `json:"attributes"`
	Ports      map[string]jsonPort `json:"ports"`
	Cells      map[string]jsonCell `json:"cells"`
	Netnames   map[string]jsonNet  `json:"netnames"`
}

type jsonPort struct {
	Direction string `json:"direction"`
	Bits      []any  `json:"bits"`
}

type jsonCell struct {
	Type        string           `json:"type"`
	Attributes  map[string]any   `json:"attributes"`
	Connections map[string][]any `json:"connections"`
}

type jsonNet struct {
	Bits       []any          `json:"bits"`
	Attributes map[string]any `json:"attributes"`
}

// Load parses a Yosys JSON stream into a netlist. The result still needs
// gadget.FromNetlist and circuit.Elaborate before simulation.
func Load(r io.Reader) (*circuit.Netlist, error) {
	var design jsonDesign
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&design); err != nil {
		return nil, fmt.Errorf("yosys: decoding netlist: %w", err)
	}

	nl := circuit.NewNetlist()

	// Module ids must exist before cell references resolve; two passes.
	names := make([]string, 0, len(design.Modules))
	for name := range design.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := map[string]circuit.ModuleID{}
	for _, name := range names {
		ids[name] = nl.Add(circuit.NewModule(name))
	}
	for _, name := range names {
		if err := fillModule(nl.Module(ids[name]), design.Modules[name], ids); err != nil {
			return nil, err
		}
	}
	return nl, nil
}

func fillModule(m *circuit.Module, jm jsonModule, ids map[string]circuit.ModuleID) error {
	copyAttrs(m.Attrs, jm.Attributes)

	ld := &loader{m: m, netOf: map[int]circuit.WireID{}}

	// Net names first, so bit numbers resolve to friendly wire names.
	netNames := make([]string, 0, len(jm.Netnames))
	for name := range jm.Netnames {
		netNames = append(netNames, name)
	}
	sort.Strings(netNames)
	for _, name := range netNames {
		net := jm.Netnames[name]
		for i, b := range net.Bits {
			num, ok := bitNum(b)
			if !ok {
				continue
			}
			if _, seen := ld.netOf[num]; seen {
				continue
			}
			w := m.AddWire(bitName(name, i, len(net.Bits)))
			ld.netOf[num] = w
			copyAttrs(m.Wires[w].Attrs, net.Attributes)
		}
	}

	portNames := make([]string, 0, len(jm.Ports))
	for name := range jm.Ports {
		portNames = append(portNames, name)
	}
	sort.Strings(portNames)
	for _, name := range portNames {
		port := jm.Ports[name]
		dir := circuit.DirIn
		if strings.EqualFold(port.Direction, "output") {
			dir = circuit.DirOut
		}
		for i, b := range port.Bits {
			w, err := ld.wire(b)
			if err != nil {
				return fmt.Errorf("%w (module %s, port %s)", err, m.Name, name)
			}
			pname := bitName(name, i, len(port.Bits))
			attrs := circuit.Attributes{}
			if net, ok := jm.Netnames[name]; ok {
				copyAttrs(attrs, net.Attributes)
			}
			m.AddPort(pname, dir, w, attrs)
		}
	}

	cellNames := make([]string, 0, len(jm.Cells))
	for name := range jm.Cells {
		cellNames = append(cellNames, name)
	}
	sort.Strings(cellNames)
	for _, name := range cellNames {
		if err := ld.addCell(name, jm.Cells[name], ids); err != nil {
			return err
		}
	}
	return nil
}

type loader struct {
	m     *circuit.Module
	netOf map[int]circuit.WireID
	ties  int
}

// wire resolves one connection bit: a net number, or the constants "0" and
// "1" which grow a tie instance.
func (ld *loader) wire(b any) (circuit.WireID, error) {
	if num, ok := bitNum(b); ok {
		if w, seen := ld.netOf[num]; seen {
			return w, nil
		}
		w := ld.m.AddWire(fmt.Sprintf("$net%d", num))
		ld.netOf[num] = w
		return w, nil
	}
	s, _ := b.(string)
	switch s {
	case "0", "1":
		w := ld.m.AddWire(fmt.Sprintf("$const%s_%d", s, ld.ties))
		ld.m.AddTie(fmt.Sprintf("$tie%d", ld.ties), s == "1", w)
		ld.ties++
		return w, nil
	}
	return circuit.InvalidWire, fmt.Errorf("%w: %v", ErrUnknownNetlistValue, b)
}

func (ld *loader) addCell(name string, jc jsonCell, ids map[string]circuit.ModuleID) error {
	if sub, ok := ids[jc.Type]; ok {
		var conns []circuit.Connection
		ports := make([]string, 0, len(jc.Connections))
		for p := range jc.Connections {
			ports = append(ports, p)
		}
		sort.Strings(ports)
		for _, p := range ports {
			bits := jc.Connections[p]
			for i, b := range bits {
				w, err := ld.wire(b)
				if err != nil {
					return fmt.Errorf("%w (cell %s.%s)", err, ld.m.Name, name)
				}
				conns = append(conns, circuit.Connection{
					Port: bitName(p, i, len(bits)),
					Wire: w,
				})
			}
		}
		ld.m.AddSub(name, sub, conns)
		return nil
	}

	kind, err := cellKind(jc.Type)
	if err != nil {
		return err
	}
	var conns []circuit.Connection
	for _, p := range append(kind.Inputs(), kind.Output()) {
		bits, ok := jc.Connections[p]
		if !ok || len(bits) == 0 {
			continue
		}
		w, err := ld.wire(bits[0])
		if err != nil {
			return fmt.Errorf("%w (cell %s.%s)", err, ld.m.Name, name)
		}
		conns = append(conns, circuit.Connection{Port: p, Wire: w})
	}
	ld.m.AddCell(name, kind, conns)
	return nil
}

// cellKind maps Yosys internal gate names ($_AND_, $_DFF_P_, ...) and plain
// library names onto the fixed cell set.
func cellKind(t string) (circuit.CellKind, error) {
	trimmed := strings.Trim(t, "$_")
	switch strings.ToUpper(trimmed) {
	case "DFF_P", "DFF":
		return circuit.CellDFF, nil
	case "DFF_N":
		return 0, &circuit.UnsupportedCellError{Cell: t}
	}
	kind, err := circuit.ParseCellKind(trimmed)
	if err != nil {
		return 0, &circuit.UnsupportedCellError{Cell: t}
	}
	return kind, nil
}

// bitNum extracts a net number from a connection bit.
func bitNum(b any) (int, bool) {
	switch v := b.(type) {
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case float64:
		return int(v), true
	}
	return 0, false
}

// bitName names bit i of a width-wide port or net.
func bitName(base string, i, width int) string {
	if width == 1 {
		return base
	}
	return fmt.Sprintf("%s[%d]", base, i)
}

// copyAttrs flattens JSON attribute values to strings.
func copyAttrs(dst circuit.Attributes, src map[string]any) {
	for k, v := range src {
		switch t := v.(type) {
		case string:
			dst.Set(k, t)
		case json.Number:
			dst.Set(k, t.String())
		case float64:
			dst.Set(k, fmt.Sprintf("%v", t))
		case bool:
			if t {
				dst.Set(k, "1")
			} else {
				dst.Set(k, "0")
			}
		}
	}
}
