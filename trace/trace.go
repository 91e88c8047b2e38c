// Package trace supplies the value-change surfaces of the simulator: input
// traces feeding the top-level pins and the VCD attribute-log writer. The
// engine consumes any type with Horizon/Lookup; both MapTrace and VCDTrace
// satisfy it.
package trace

// MapTrace is a programmatic input trace for tests and generated
// testbenches. A signal holds its last driven value, like a value-change
// record; Lookup fails for signals that were never driven at or before the
// consulted cycle.
type MapTrace struct {
	horizon int64
	waves   map[string]map[int64]bool
}

// NewMapTrace creates an empty trace with the given horizon.
func NewMapTrace(horizon int64) *MapTrace {
	return &MapTrace{
		horizon: horizon,
		waves:   map[string]map[int64]bool{},
	}
}

// Set drives a signal to a value from the given cycle on.
func (t *MapTrace) Set(path string, cycle int64, v bool) *MapTrace {
	if t.waves[path] == nil {
		t.waves[path] = map[int64]bool{}
	}
	t.waves[path][cycle] = v
	return t
}

// Constant drives a signal for the whole trace.
func (t *MapTrace) Constant(path string, v bool) *MapTrace {
	return t.Set(path, 0, v)
}

// Pulse drives a signal to v for cycles [from, to) and back afterwards.
func (t *MapTrace) Pulse(path string, from, to int64, v bool) *MapTrace {
	t.Set(path, from, v)
	t.Set(path, to, !v)
	return t
}

// Horizon returns the number of cycles the trace covers.
func (t *MapTrace) Horizon() int64 { return t.horizon }

// Lookup returns the value of a signal at a cycle.
func (t *MapTrace) Lookup(cycle int64, path string) (bool, error) {
	wave, ok := t.waves[path]
	if !ok {
		return false, &MissingInputError{Wire: path, Cycle: cycle}
	}
	best := int64(-1)
	val := false
	for c, v := range wave {
		if c <= cycle && c > best {
			best, val = c, v
		}
	}
	if best < 0 {
		return false, &MissingInputError{Wire: path, Cycle: cycle}
	}
	return val, nil
}
