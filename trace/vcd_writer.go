package trace

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sarchlab/masksim/symbolic"
)

// VCDWriter renders the attribute log as a value-change dump. Every wire
// expands to its five symbolic fields: the concrete value, the det flag,
// the fresh-random flag, and one boolean per share index for each of the
// stable and glitch sensitivity sets. A clock and a cycle counter are added
// at the root scope. Each cycle occupies two timesteps, with the clock high
// on the first.
//
// The writer learns the wire population during the first cycle and emits
// the header at its end, so it plugs directly into the engine's trace sink
// without a pre-registration pass.
type VCDWriter struct {
	w      *bufio.Writer
	shares int

	headerDone bool
	err        error

	order []string            // wire keys in first-seen order
	codes map[string][]string // wire key -> id codes of its signals
	last  map[string][]bool   // wire key -> last emitted signal values
	pend  map[string][]bool   // values accumulated for the current cycle

	nextCode int
	clkCode  string
	cycCode  string
}

// NewVCDWriter creates a writer emitting d share flags per sensitivity set.
func NewVCDWriter(w io.Writer, shares int) *VCDWriter {
	return &VCDWriter{
		w:      bufio.NewWriter(w),
		shares: shares,
		codes:  map[string][]string{},
		last:   map[string][]bool{},
		pend:   map[string][]bool{},
	}
}

// signalsPerWire is the expansion width of one wire.
func (v *VCDWriter) signalsPerWire() int {
	return 3 + 2*v.shares
}

// BeginCycle starts a cycle record.
func (v *VCDWriter) BeginCycle(cycle int64) {}

// WireState records the symbolic value of one wire for the current cycle.
func (v *VCDWriter) WireState(scope, wire string, bit symbolic.Bit) {
	key := scope + "." + wire
	vals, ok := v.pend[key]
	if !ok {
		vals = make([]bool, v.signalsPerWire())
		v.pend[key] = vals
		if !v.headerDone {
			v.order = append(v.order, key)
		}
	}
	vals[0] = bit.Value
	vals[1] = bit.Det
	vals[2] = bit.IsRand
	for i := 0; i < v.shares; i++ {
		vals[3+i] = bit.Stable.Has(i)
		vals[3+v.shares+i] = bit.Glitch.Has(i)
	}
}

// EndCycle flushes the cycle to the stream, writing the header first if
// this was the opening cycle.
func (v *VCDWriter) EndCycle(cycle int64) {
	if v.err != nil {
		return
	}
	if !v.headerDone {
		v.writeHeader()
		v.headerDone = true
	}

	// Rising edge: clock high, cycle counter, then the changed signals.
	v.printf("#%d\n", 2*cycle)
	v.printf("1%s\n", v.clkCode)
	v.printf("b%b %s\n", cycle, v.cycCode)
	for _, key := range v.order {
		vals, ok := v.pend[key]
		if !ok {
			continue
		}
		codes, ok := v.codes[key]
		if !ok {
			continue
		}
		prev := v.last[key]
		for i, val := range vals {
			if prev != nil && prev[i] == val {
				continue
			}
			v.printf("%s%s\n", bitChar(val), codes[i])
		}
		if prev == nil {
			prev = make([]bool, len(vals))
			v.last[key] = prev
		}
		copy(prev, vals)
	}

	// Falling edge.
	v.printf("#%d\n", 2*cycle+1)
	v.printf("0%s\n", v.clkCode)
}

// Close flushes the stream.
func (v *VCDWriter) Close() error {
	if v.err != nil {
		return v.err
	}
	return v.w.Flush()
}

func (v *VCDWriter) printf(format string, args ...any) {
	if v.err != nil {
		return
	}
	_, v.err = fmt.Fprintf(v.w, format, args...)
}

// writeHeader declares all signals seen during the first cycle, grouped
// into scopes by their dotted path.
func (v *VCDWriter) writeHeader() {
	v.printf("$version masksim attribute trace $end\n")
	v.printf("$timescale 1ns $end\n")

	v.clkCode = v.code()
	v.cycCode = v.code()
	v.printf("$var wire 1 %s clk $end\n", v.clkCode)
	v.printf("$var wire 64 %s cycle $end\n", v.cycCode)

	// Group wires by scope; emit scopes sorted for reproducible output.
	byScope := map[string][]string{}
	for _, key := range v.order {
		dot := strings.LastIndexByte(key, '.')
		byScope[key[:dot]] = append(byScope[key[:dot]], key)
	}
	scopes := make([]string, 0, len(byScope))
	for s := range byScope {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		for _, part := range strings.Split(scope, ".") {
			v.printf("$scope module %s $end\n", part)
		}
		for _, key := range byScope[scope] {
			wire := key[strings.LastIndexByte(key, '.')+1:]
			codes := make([]string, v.signalsPerWire())
			names := v.signalNames(wire)
			for i := range codes {
				codes[i] = v.code()
				v.printf("$var wire 1 %s %s $end\n", codes[i], names[i])
			}
			v.codes[key] = codes
		}
		for range strings.Split(scope, ".") {
			v.printf("$upscope $end\n")
		}
	}
	v.printf("$enddefinitions $end\n")
}

func (v *VCDWriter) signalNames(wire string) []string {
	names := []string{wire, wire + "_det", wire + "_rand"}
	for i := 0; i < v.shares; i++ {
		names = append(names, fmt.Sprintf("%s_stable_share_%d", wire, i))
	}
	for i := 0; i < v.shares; i++ {
		names = append(names, fmt.Sprintf("%s_glitch_share_%d", wire, i))
	}
	return names
}

// code mints the next short id, using the printable VCD identifier range.
func (v *VCDWriter) code() string {
	n := v.nextCode
	v.nextCode++
	const lo, hi = 33, 126
	var b []byte
	for {
		b = append(b, byte(lo+n%(hi-lo+1)))
		n = n/(hi-lo+1) - 1
		if n < 0 {
			break
		}
	}
	return string(b)
}

func bitChar(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
