// Package symbolic defines the four-attribute symbolic bit that masksim
// attaches to every wire in every cycle, together with the share-set algebra
// and the transfer functions of the fixed cell library.
package symbolic

import (
	"fmt"
	"math/bits"
	"strings"
)

// MaxShares is the largest share count the fixed-width ShareSet can hold.
const MaxShares = 128

// A ShareSet is a finite set of secret-share indices in [0, MaxShares).
// It is a plain value; union, membership, and comparison are O(1).
type ShareSet struct {
	lo, hi uint64
}

// SingleShare returns the set {i}.
func SingleShare(i int) ShareSet {
	return ShareSet{}.With(i)
}

// With returns the set extended with index i.
func (s ShareSet) With(i int) ShareSet {
	if i < 0 || i >= MaxShares {
		panic(fmt.Sprintf("share index %d out of range [0, %d)", i, MaxShares))
	}
	if i < 64 {
		s.lo |= 1 << uint(i)
	} else {
		s.hi |= 1 << uint(i-64)
	}
	return s
}

// Has reports whether index i is in the set.
func (s ShareSet) Has(i int) bool {
	if i < 0 || i >= MaxShares {
		return false
	}
	if i < 64 {
		return s.lo&(1<<uint(i)) != 0
	}
	return s.hi&(1<<uint(i-64)) != 0
}

// Union returns the set union of s and o.
func (s ShareSet) Union(o ShareSet) ShareSet {
	return ShareSet{lo: s.lo | o.lo, hi: s.hi | o.hi}
}

// Empty reports whether the set has no members.
func (s ShareSet) Empty() bool {
	return s.lo == 0 && s.hi == 0
}

// Size returns the number of members.
func (s ShareSet) Size() int {
	return bits.OnesCount64(s.lo) + bits.OnesCount64(s.hi)
}

// SubsetOf reports whether every member of s is also in o.
func (s ShareSet) SubsetOf(o ShareSet) bool {
	return s.lo&^o.lo == 0 && s.hi&^o.hi == 0
}

// Minus returns the members of s that are not in o.
func (s ShareSet) Minus(o ShareSet) ShareSet {
	return ShareSet{lo: s.lo &^ o.lo, hi: s.hi &^ o.hi}
}

// Indices returns the members in ascending order.
func (s ShareSet) Indices() []int {
	if s.Empty() {
		return nil
	}
	out := make([]int, 0, s.Size())
	for i := 0; i < MaxShares; i++ {
		if s.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// String renders the set as "{0,2,5}".
func (s ShareSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for n, i := range s.Indices() {
		if n > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", i)
	}
	b.WriteByte('}')
	return b.String()
}
