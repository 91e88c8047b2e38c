package core

import (
	"fmt"

	"github.com/sarchlab/masksim/symbolic"
)

// ViolationKind categorises one detected violation.
type ViolationKind string

const (
	// Security violations: the verdict turns insecure but the run goes on.
	ShareLeakage          ViolationKind = "ShareLeakage"
	GlitchLeakage         ViolationKind = "GlitchLeakage"
	RandomReused          ViolationKind = "RandomReused"
	GadgetInputNotFresh   ViolationKind = "GadgetInputNotFresh"
	GadgetRandomnessReuse ViolationKind = "GadgetRandomnessReuse"
	InconsistentActivity  ViolationKind = "InconsistentActivity"

	// Assumption violations: the affected port degrades to worst case for
	// the cycle; the verdict is unaffected.
	ActivityNotDeterministic ViolationKind = "ActivityNotDeterministic"
)

// Security reports whether the kind flips the verdict.
func (k ViolationKind) Security() bool {
	return k != ActivityNotDeterministic
}

// A Violation is one logged finding, with the cycle and wire path it
// originates from.
type Violation struct {
	Kind  ViolationKind
	Cycle int64
	Path  string

	// Extra holds the offending share indices for leakage kinds.
	Extra symbolic.ShareSet

	// Rand names the random involved in randomness kinds.
	Rand    symbolic.RandomID
	HasRand bool
}

func (v Violation) String() string {
	s := fmt.Sprintf("%s at cycle %d on %s", v.Kind, v.Cycle, v.Path)
	if !v.Extra.Empty() {
		s += " extra shares " + v.Extra.String()
	}
	if v.HasRand {
		s += " random " + v.Rand.String()
	}
	return s
}
