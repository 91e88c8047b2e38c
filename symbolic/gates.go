package symbolic

// A Scoreboard receives the randomness bookkeeping events of gate
// evaluation. The engine implements it per cycle; tests may pass Nop.
type Scoreboard interface {
	// RandomMasked is called when a fresh random survives into the output of
	// a linear XOR mask. At most one masked use per cycle is legal.
	RandomMasked(id RandomID)

	// RandomConsumed is called when a gate destroys the identity of a fresh
	// random. sensitive is true when any other operand of the gate carries a
	// non-empty glitch sensitivity set, i.e. the random was observed in a
	// sensitive context.
	RandomConsumed(id RandomID, sensitive bool)
}

// Nop is a Scoreboard that ignores every event.
var Nop Scoreboard = nopScoreboard{}

type nopScoreboard struct{}

func (nopScoreboard) RandomMasked(RandomID)        {}
func (nopScoreboard) RandomConsumed(RandomID, bool) {}

// consume reports every random operand of a non-preserving gate to the
// scoreboard. The context is sensitive when any other operand may carry
// share information, glitches included.
func consume(sb Scoreboard, ins ...Bit) {
	for i := range ins {
		if !ins[i].IsRand {
			continue
		}
		sensitive := false
		for j := range ins {
			if j != i && !ins[j].Glitch.Empty() {
				sensitive = true
				break
			}
		}
		sb.RandomConsumed(ins[i].Rand, sensitive)
	}
}

// combine2 merges two operands into a non-random result. aRel/bRel state
// whether the operand is combinationally relevant under the stable (glitch
// free) view; the glitch view always unions both.
func combine2(v bool, a, b Bit, aRel, bRel bool, sb Scoreboard) Bit {
	out := Bit{Value: v, Det: a.Det && b.Det}
	if aRel {
		out.Stable = out.Stable.Union(a.Stable)
	}
	if bRel {
		out.Stable = out.Stable.Union(b.Stable)
	}
	out.Glitch = a.Glitch.Union(b.Glitch)
	consume(sb, a, b)
	return out
}

// Buf passes a bit through unchanged. It preserves a random identity.
func Buf(a Bit) Bit {
	return a
}

// Not inverts the concrete value only. Masking is mod 2, so a random
// identity survives inversion.
func Not(a Bit) Bit {
	a.Value = !a.Value
	return a
}

// And evaluates a two-input AND. A deterministic constant 0 on one input
// short-circuits the other out of the stable view.
func And(a, b Bit, sb Scoreboard) Bit {
	aRel := !(b.Det && !b.Value)
	bRel := !(a.Det && !a.Value)
	return combine2(a.Value && b.Value, a, b, aRel, bRel, sb)
}

// Nand evaluates a two-input NAND with AND's short-circuit rule.
func Nand(a, b Bit, sb Scoreboard) Bit {
	aRel := !(b.Det && !b.Value)
	bRel := !(a.Det && !a.Value)
	return combine2(!(a.Value && b.Value), a, b, aRel, bRel, sb)
}

// Or evaluates a two-input OR. A deterministic constant 1 on one input
// short-circuits the other out of the stable view.
func Or(a, b Bit, sb Scoreboard) Bit {
	aRel := !(b.Det && b.Value)
	bRel := !(a.Det && a.Value)
	return combine2(a.Value || b.Value, a, b, aRel, bRel, sb)
}

// Nor evaluates a two-input NOR with OR's short-circuit rule.
func Nor(a, b Bit, sb Scoreboard) Bit {
	aRel := !(b.Det && b.Value)
	bRel := !(a.Det && a.Value)
	return combine2(!(a.Value || b.Value), a, b, aRel, bRel, sb)
}

// Xor evaluates a two-input XOR. The linear mask pattern — one deterministic
// operand, one fresh random — is the only combination that preserves a
// random identity.
func Xor(a, b Bit, sb Scoreboard) Bit {
	v := a.Value != b.Value
	switch {
	case a.Det && b.IsRand:
		sb.RandomMasked(b.Rand)
		return Bit{Value: v, Rand: b.Rand, IsRand: true}
	case b.Det && a.IsRand:
		sb.RandomMasked(a.Rand)
		return Bit{Value: v, Rand: a.Rand, IsRand: true}
	}
	return combine2(v, a, b, true, true, sb)
}

// Xnor evaluates a two-input XNOR. It never preserves a random identity;
// both operands are always combinationally relevant.
func Xnor(a, b Bit, sb Scoreboard) Bit {
	return combine2(a.Value == b.Value, a, b, true, true, sb)
}

// Mux evaluates a 2:1 multiplexer: d0 when sel is 0, d1 when sel is 1.
// With a deterministic select only the chosen data input is relevant in the
// stable view; the glitch view unions all three operands.
func Mux(sel, d0, d1 Bit, sb Scoreboard) Bit {
	v := d0.Value
	if sel.Value {
		v = d1.Value
	}
	out := Bit{Value: v, Det: sel.Det && d0.Det && d1.Det}
	if sel.Det {
		if sel.Value {
			out.Stable = d1.Stable
		} else {
			out.Stable = d0.Stable
		}
	} else {
		out.Stable = sel.Stable.Union(d0.Stable).Union(d1.Stable)
	}
	out.Glitch = sel.Glitch.Union(d0.Glitch).Union(d1.Glitch)
	consume(sb, sel, d0, d1)
	return out
}

// Latch is the clock-edge capture of a flip-flop. The stored value is the
// stable view of the D input: the glitch set collapses onto the stable set.
// This is the only operation that narrows a glitch set.
func Latch(d Bit) Bit {
	d.Glitch = d.Stable
	return d
}
