package gadget

import "github.com/sarchlab/masksim/symbolic"

// PortValue materialises the symbolic value of a gadget input port for one
// cycle, given the concrete level from the input trace and the resolved
// activity of the port.
//
// Clock and control ports are always deterministic. An active randomness
// port is a fresh random identified by (cycle, port, bit); an active share
// port carries its share index in both sensitivity sets. Inactive share and
// random ports degrade to deterministic non-sensitive bits.
func (p *PortInfo) PortValue(cycle int64, concrete bool, active bool) symbolic.Bit {
	switch p.Type {
	case TypeClock, TypeControl:
		return symbolic.Const(concrete)
	case TypeRandom:
		if !active {
			return symbolic.Const(concrete)
		}
		return symbolic.Random(concrete, symbolic.RandomID{
			Cycle: cycle,
			Port:  trimIndex(p.Name),
			Bit:   p.BitIndex,
		})
	default:
		if !active {
			return symbolic.Const(concrete)
		}
		return symbolic.Share(concrete, p.ShareIndex)
	}
}
