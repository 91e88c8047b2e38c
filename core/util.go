package core

import (
	"context"
	"log/slog"

	"github.com/sarchlab/masksim/symbolic"
)

const (
	// LevelTrace carries engine progress events; LevelWaveform carries the
	// per-cycle wire attribute records. Both sit above Info, so a handler
	// at the default Info level emits them.
	LevelTrace    slog.Level = slog.LevelInfo + 1
	LevelWaveform slog.Level = slog.LevelInfo + 2
)

// WireStateLog is the canonical waveform record for one wire at one cycle.
type WireStateLog struct {
	Cycle  int64  `json:"cycle"`
	Scope  string `json:"scope"`
	Wire   string `json:"wire"`
	Value  bool   `json:"value"`
	Det    bool   `json:"det"`
	Rand   string `json:"rand,omitempty"`
	Stable string `json:"stable,omitempty"`
	Glitch string `json:"glitch,omitempty"`
}

// LogWireState emits one waveform record through slog.
func LogWireState(cycle int64, scope, wire string, bit symbolic.Bit) {
	rec := &WireStateLog{
		Cycle: cycle,
		Scope: scope,
		Wire:  wire,
		Value: bit.Value,
		Det:   bit.Det,
	}
	if bit.IsRand {
		rec.Rand = bit.Rand.String()
	}
	if !bit.Stable.Empty() {
		rec.Stable = bit.Stable.String()
	}
	if !bit.Glitch.Empty() {
		rec.Glitch = bit.Glitch.String()
	}
	slog.Log(context.Background(), LevelWaveform, "WireState", slog.Any("state", rec))
}

// Trace emits an engine progress event.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

func logViolation(v Violation) {
	Trace("Violation",
		"kind", string(v.Kind),
		"cycle", v.Cycle,
		"path", v.Path,
	)
}

// SlogSink forwards the attribute log to slog waveform records, so a JSON
// run log captures the full trace alongside the engine events.
type SlogSink struct {
	cycle int64
}

func (s *SlogSink) BeginCycle(cycle int64) {
	s.cycle = cycle
	Trace("CycleBegin", "cycle", cycle)
}

func (s *SlogSink) WireState(scope, wire string, bit symbolic.Bit) {
	LogWireState(s.cycle, scope, wire, bit)
}

func (s *SlogSink) EndCycle(cycle int64) {
	Trace("CycleEnd", "cycle", cycle)
}
