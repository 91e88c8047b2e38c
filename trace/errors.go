package trace

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownValue indicates an x or z sample on a wire the simulation
	// consults; only 0 and 1 are representable.
	ErrUnknownValue = errors.New("trace: x/z value where 0/1 is required")

	// ErrNoClock indicates the VCD carries no edge of the named clock.
	ErrNoClock = errors.New("trace: clock signal not found or never toggles")
)

// MissingInputError indicates a consulted wire has no sample at a cycle.
// It is fatal before the offending cycle takes effect.
type MissingInputError struct {
	Wire  string
	Cycle int64
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("trace: no value for %s at cycle %d", e.Wire, e.Cycle)
}
