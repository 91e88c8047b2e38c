package symbolic

import "fmt"

// A RandomID names one fresh random bit: the value sampled on a
// randomness-typed port bit at a given cycle. Two bits are the same random
// iff their RandomIDs are equal.
type RandomID struct {
	Cycle int64
	Port  string
	Bit   int
}

func (r RandomID) String() string {
	return fmt.Sprintf("%s[%d]@%d", r.Port, r.Bit, r.Cycle)
}

// A Bit is the symbolic value of one wire at one cycle.
//
// Value is the concrete logical level. Det is true iff no share, no fresh
// random, and no value derived from either can influence the wire. Rand
// (valid iff IsRand) identifies the bit as exactly one fresh random, sampled
// at the cycle recorded in the id and never combined with anything else. Stable and Glitch are the sets of
// share indices the wire may depend on, respectively assuming no glitches and
// assuming worst-case glitch propagation until the next clock edge.
type Bit struct {
	Value  bool
	Det    bool
	Rand   RandomID
	IsRand bool
	Stable ShareSet
	Glitch ShareSet
}

// Const returns a deterministic bit of the given level.
func Const(v bool) Bit {
	return Bit{Value: v, Det: true}
}

// Share returns a bit carrying share index idx in both sensitivity sets.
func Share(v bool, idx int) Bit {
	s := SingleShare(idx)
	return Bit{Value: v, Stable: s, Glitch: s}
}

// Random returns a bit that is exactly the fresh random id.
func Random(v bool, id RandomID) Bit {
	return Bit{Value: v, Rand: id, IsRand: true}
}

// Sensitive reports whether the bit may depend on any share, including
// through glitches.
func (b Bit) Sensitive() bool {
	return !b.Glitch.Empty()
}

// WellFormed checks the structural invariants of the attribute tuple:
// a random bit is non-deterministic with empty sets, a deterministic bit has
// empty sets and no random identity, and Stable never exceeds Glitch.
func (b Bit) WellFormed() bool {
	if b.IsRand && (b.Det || !b.Stable.Empty() || !b.Glitch.Empty()) {
		return false
	}
	if b.Det && (b.IsRand || !b.Stable.Empty() || !b.Glitch.Empty()) {
		return false
	}
	return b.Stable.SubsetOf(b.Glitch)
}

func (b Bit) String() string {
	v := "0"
	if b.Value {
		v = "1"
	}
	switch {
	case b.Det:
		return v + " det"
	case b.IsRand:
		return fmt.Sprintf("%s rand=%s", v, b.Rand)
	default:
		return fmt.Sprintf("%s stable=%s glitch=%s", v, b.Stable, b.Glitch)
	}
}
