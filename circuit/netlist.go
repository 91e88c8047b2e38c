// Package circuit models a synthesized hierarchical netlist as an arena of
// modules, instances, and single-bit wires, and computes the combinational
// evaluation order each module needs for cycle-accurate symbolic simulation.
package circuit

import "fmt"

// Typed indices into the netlist arenas. References between modules, wires,
// and instances are always by index; no ownership cycles can form.
type (
	ModuleID   int
	InstanceID int
	WireID     int
	PortID     int
)

// InvalidWire marks an unbound wire reference.
const InvalidWire WireID = -1

// PortDir is the direction of a module port.
type PortDir int

const (
	DirIn PortDir = iota
	DirOut
)

func (d PortDir) String() string {
	if d == DirIn {
		return "input"
	}
	return "output"
}

// A Port is one single-bit port of a module.
type Port struct {
	Name  string
	Dir   PortDir
	Wire  WireID // the wire of this module bound to the port
	Attrs Attributes
}

// InstanceKind classifies an instance.
type InstanceKind int

const (
	InstSubModule InstanceKind = iota
	InstCell
	InstTieLow
	InstTieHigh
)

// A Connection binds one instance port to a wire of the enclosing module.
type Connection struct {
	Port string
	Wire WireID
}

// An Instance is a reference to a sub-module or library cell inside a module.
type Instance struct {
	Name  string
	Kind  InstanceKind
	Cell  CellKind // valid when Kind == InstCell
	Sub   ModuleID // valid when Kind == InstSubModule
	Conns []Connection
}

// WireRef points at one instance port reading or driving a wire.
type WireRef struct {
	Inst InstanceID
	Port string
}

// driverKind records what drives a wire; filled in by Elaborate.
type driverKind int

const (
	driveNone driverKind = iota
	driveInstance
	drivePort
)

// A Wire is one single-bit net of a module, with exactly one driver once
// elaborated.
type Wire struct {
	Name  string
	Attrs Attributes

	drive   driverKind
	driver  WireRef // valid when drive == driveInstance
	readers []WireRef
}

// DrivenByPort reports whether the wire is driven by a module input port.
func (w *Wire) DrivenByPort() bool { return w.drive == drivePort }

// Driver returns the instance port driving the wire, if any.
func (w *Wire) Driver() (WireRef, bool) {
	return w.driver, w.drive == driveInstance
}

// Readers returns the instance ports reading the wire.
func (w *Wire) Readers() []WireRef { return w.readers }

// A Module is one module of the netlist. The computed fields (evaluation
// order, sequential cells, combinational closure) are filled by Elaborate.
type Module struct {
	Name      string
	Ports     []Port
	Wires     []Wire
	Instances []Instance
	Attrs     Attributes

	byWireName map[string]WireID
	byPortName map[string]PortID

	// Computed by Elaborate.
	EvalOrder []InstanceID
	SeqCells  []InstanceID
	ClockWire WireID
	combReach map[PortID][]PortID
	combLive  map[PortID]bool
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:       name,
		Attrs:      Attributes{},
		byWireName: map[string]WireID{},
		byPortName: map[string]PortID{},
	}
}

// AddWire adds a named wire and returns its id. Adding a name twice returns
// the existing wire, so frontends may interleave declarations freely.
func (m *Module) AddWire(name string) WireID {
	if id, ok := m.byWireName[name]; ok {
		return id
	}
	id := WireID(len(m.Wires))
	m.Wires = append(m.Wires, Wire{Name: name, Attrs: Attributes{}})
	m.byWireName[name] = id
	return id
}

// WireByName looks a wire up by name.
func (m *Module) WireByName(name string) (WireID, bool) {
	id, ok := m.byWireName[name]
	return id, ok
}

// AddPort declares a port bound to an existing wire.
func (m *Module) AddPort(name string, dir PortDir, w WireID, attrs Attributes) PortID {
	if attrs == nil {
		attrs = Attributes{}
	}
	id := PortID(len(m.Ports))
	m.Ports = append(m.Ports, Port{Name: name, Dir: dir, Wire: w, Attrs: attrs})
	m.byPortName[name] = id
	return id
}

// PortByName looks a port up by name.
func (m *Module) PortByName(name string) (PortID, bool) {
	id, ok := m.byPortName[name]
	return id, ok
}

// AddCell instantiates a library cell.
func (m *Module) AddCell(name string, kind CellKind, conns []Connection) InstanceID {
	id := InstanceID(len(m.Instances))
	m.Instances = append(m.Instances, Instance{
		Name: name, Kind: InstCell, Cell: kind, Conns: conns,
	})
	return id
}

// AddSub instantiates a sub-module.
func (m *Module) AddSub(name string, sub ModuleID, conns []Connection) InstanceID {
	id := InstanceID(len(m.Instances))
	m.Instances = append(m.Instances, Instance{
		Name: name, Kind: InstSubModule, Sub: sub, Conns: conns,
	})
	return id
}

// AddTie drives a wire with a constant 0 or 1.
func (m *Module) AddTie(name string, high bool, w WireID) InstanceID {
	kind := InstTieLow
	if high {
		kind = InstTieHigh
	}
	id := InstanceID(len(m.Instances))
	m.Instances = append(m.Instances, Instance{
		Name: name, Kind: kind, Conns: []Connection{{Port: "Y", Wire: w}},
	})
	return id
}

// Conn returns the wire bound to the named instance port.
func (inst *Instance) Conn(port string) (WireID, bool) {
	for _, c := range inst.Conns {
		if c.Port == port {
			return c.Wire, true
		}
	}
	return InvalidWire, false
}

// A Netlist is the arena of all modules of a design.
type Netlist struct {
	Modules []*Module
	Top     ModuleID

	byName map[string]ModuleID
}

// NewNetlist creates an empty netlist with no top module selected.
func NewNetlist() *Netlist {
	return &Netlist{Top: -1, byName: map[string]ModuleID{}}
}

// Add registers a module and returns its id.
func (n *Netlist) Add(m *Module) ModuleID {
	if _, ok := n.byName[m.Name]; ok {
		panic(fmt.Sprintf("module %q added twice", m.Name))
	}
	id := ModuleID(len(n.Modules))
	n.Modules = append(n.Modules, m)
	n.byName[m.Name] = id
	return id
}

// ModuleByName looks a module up by name.
func (n *Netlist) ModuleByName(name string) (ModuleID, bool) {
	id, ok := n.byName[name]
	return id, ok
}

// Module returns the module with the given id.
func (n *Netlist) Module(id ModuleID) *Module {
	return n.Modules[id]
}
