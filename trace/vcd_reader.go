package trace

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// VCDTrace is an input trace backed by a value-change-dump file. The dump
// is sampled once per rising edge of the named clock: edge i becomes trace
// cycle i, taking for every signal the last value at or before the edge
// timestamp.
type VCDTrace struct {
	cycles []map[string]vcdSample // per cycle, per path
	known  map[string]bool
}

type vcdSample struct {
	value   bool
	unknown bool // x or z
}

// vcdChange is one raw change parsed from the dump body.
type vcdChange struct {
	time   int64
	id     string
	sample vcdSample
}

// ReadVCD parses a four-state VCD stream and samples it on the rising
// edges of the clock signal named by clock (a dot-separated path or a bare
// name matched against any scope).
func ReadVCD(r io.Reader, clock string) (*VCDTrace, error) {
	idToPaths := map[string][]string{}
	var scope []string
	var changes []vcdChange

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	now := int64(0)
	inDefs := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch {
		case strings.HasPrefix(line, "$scope"):
			if len(fields) >= 3 {
				scope = append(scope, fields[2])
			}
		case strings.HasPrefix(line, "$upscope"):
			if len(scope) > 0 {
				scope = scope[:len(scope)-1]
			}
		case strings.HasPrefix(line, "$var"):
			// $var wire <width> <id> <name> [range] $end
			if len(fields) < 5 {
				return nil, fmt.Errorf("trace: malformed $var line %q", line)
			}
			width, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("trace: malformed $var width in %q", line)
			}
			id := fields[3]
			name := fields[4]
			if len(fields) >= 6 && strings.HasPrefix(fields[5], "[") {
				name += fields[5]
			}
			base := strings.Join(append(append([]string{}, scope...), name), ".")
			if width == 1 {
				idToPaths[id] = append(idToPaths[id], base)
			} else {
				// Bit-blast vectors: bit i of b-values maps to name[i].
				for i := 0; i < width; i++ {
					idToPaths[id] = append(idToPaths[id],
						fmt.Sprintf("%s[%d]", strings.TrimSuffix(base, vectorRange(name)), i))
				}
			}
		case strings.HasPrefix(line, "$enddefinitions"):
			inDefs = false
		case strings.HasPrefix(line, "$"):
			// $date, $version, $timescale, $dumpvars, $end and friends.
		case line[0] == '#':
			t, err := strconv.ParseInt(line[1:], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("trace: malformed timestamp %q", line)
			}
			now = t
		case !inDefs && (line[0] == '0' || line[0] == '1' || line[0] == 'x' ||
			line[0] == 'X' || line[0] == 'z' || line[0] == 'Z'):
			changes = append(changes, vcdChange{
				time:   now,
				id:     line[1:],
				sample: scalarSample(line[0]),
			})
		case !inDefs && (line[0] == 'b' || line[0] == 'B'):
			if len(fields) != 2 {
				return nil, fmt.Errorf("trace: malformed vector change %q", line)
			}
			bits := fields[0][1:]
			// Bit 0 is the rightmost character.
			for i := 0; i < len(bits); i++ {
				changes = append(changes, vcdChange{
					time:   now,
					id:     fields[1] + "#" + strconv.Itoa(len(bits)-1-i),
					sample: scalarSample(bits[i]),
				})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trace: reading vcd: %w", err)
	}

	return sampleOnClock(idToPaths, changes, clock)
}

func vectorRange(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		return name[i:]
	}
	return ""
}

func scalarSample(c byte) vcdSample {
	switch c {
	case '1':
		return vcdSample{value: true}
	case '0':
		return vcdSample{value: false}
	default:
		return vcdSample{unknown: true}
	}
}

// sampleOnClock replays the change list and snapshots all signal values at
// every rising clock edge.
func sampleOnClock(idToPaths map[string][]string, changes []vcdChange, clock string) (*VCDTrace, error) {
	sort.SliceStable(changes, func(a, b int) bool { return changes[a].time < changes[b].time })

	// Resolve the clock id: exact path match first, then bare-name suffix.
	clockIDs := map[string]bool{}
	for id, paths := range idToPaths {
		for _, p := range paths {
			if p == clock {
				clockIDs[id] = true
			}
		}
	}
	if len(clockIDs) == 0 {
		for id, paths := range idToPaths {
			for _, p := range paths {
				if strings.HasSuffix(p, "."+clock) {
					clockIDs[id] = true
				}
			}
		}
	}
	if len(clockIDs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoClock, clock)
	}

	// pathOf maps the synthetic per-bit ids of vector changes.
	pathOf := func(chID string) []string {
		if paths, ok := idToPaths[chID]; ok {
			return paths
		}
		if hash := strings.LastIndexByte(chID, '#'); hash >= 0 {
			id, bitStr := chID[:hash], chID[hash+1:]
			bit, err := strconv.Atoi(bitStr)
			if err != nil {
				return nil
			}
			if paths, ok := idToPaths[id]; ok && bit < len(paths) {
				return paths[bit : bit+1]
			}
		}
		return nil
	}

	tr := &VCDTrace{known: map[string]bool{}}
	current := map[string]vcdSample{}
	clkHigh := false
	i := 0
	for i < len(changes) {
		t := changes[i].time
		edge := false
		for i < len(changes) && changes[i].time == t {
			ch := changes[i]
			i++
			for _, p := range pathOf(ch.id) {
				current[p] = ch.sample
				tr.known[p] = true
			}
			if isClock(ch.id, clockIDs) {
				if ch.sample.value && !ch.sample.unknown && !clkHigh {
					edge = true
				}
				clkHigh = ch.sample.value && !ch.sample.unknown
			}
		}
		if edge {
			snap := make(map[string]vcdSample, len(current))
			for p, v := range current {
				snap[p] = v
			}
			tr.cycles = append(tr.cycles, snap)
		}
	}
	if len(tr.cycles) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoClock, clock)
	}
	return tr, nil
}

func isClock(chID string, clockIDs map[string]bool) bool {
	if clockIDs[chID] {
		return true
	}
	if hash := strings.LastIndexByte(chID, '#'); hash >= 0 {
		return clockIDs[chID[:hash]]
	}
	return false
}

// Horizon returns the number of sampled clock edges.
func (t *VCDTrace) Horizon() int64 { return int64(len(t.cycles)) }

// Lookup returns the value of a signal at a sampled cycle. An x or z sample
// on a consulted wire is fatal.
func (t *VCDTrace) Lookup(cycle int64, path string) (bool, error) {
	if cycle < 0 || cycle >= int64(len(t.cycles)) {
		return false, &MissingInputError{Wire: path, Cycle: cycle}
	}
	s, ok := t.cycles[cycle][path]
	if !ok {
		return false, &MissingInputError{Wire: path, Cycle: cycle}
	}
	if s.unknown {
		return false, fmt.Errorf("%w: %s at cycle %d", ErrUnknownValue, path, cycle)
	}
	return s.value, nil
}
