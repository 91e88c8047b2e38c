package core

import (
	"sort"

	"github.com/sarchlab/masksim/symbolic"
)

// scoreboard tracks how fresh randoms are used within the current cycle.
// It implements symbolic.Scoreboard; the tables are cleared at every cycle
// boundary.
type scoreboard struct {
	cycle  int64
	uses   map[symbolic.RandomID]int
	leaked map[symbolic.RandomID]bool
	sink   func(Violation)
}

func newScoreboard() *scoreboard {
	return &scoreboard{
		uses:   map[symbolic.RandomID]int{},
		leaked: map[symbolic.RandomID]bool{},
	}
}

// reset clears the per-cycle tables.
func (s *scoreboard) reset(cycle int64) {
	s.cycle = cycle
	clear(s.uses)
	clear(s.leaked)
}

// RandomMasked records the one legal masking use of a fresh random.
func (s *scoreboard) RandomMasked(id symbolic.RandomID) {
	s.bump(id)
}

// RandomConsumed records a non-preserving combination. A sensitive context
// marks the random as leaked.
func (s *scoreboard) RandomConsumed(id symbolic.RandomID, sensitive bool) {
	s.bump(id)
	if sensitive {
		s.leaked[id] = true
	}
}

// gadgetConsume records an assumed gadget absorbing a random. The gadget
// contract violations are reported separately, so no RandomReused fires
// here.
func (s *scoreboard) gadgetConsume(id symbolic.RandomID) {
	s.uses[id]++
}

// fresh reports whether the random has not been used this cycle.
func (s *scoreboard) fresh(id symbolic.RandomID) bool {
	return s.uses[id] == 0
}

// leakedList returns the randoms observed in a sensitive context this
// cycle, in a reproducible order.
func (s *scoreboard) leakedList() []symbolic.RandomID {
	out := make([]symbolic.RandomID, 0, len(s.leaked))
	for id := range s.leaked {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].String() < out[b].String()
	})
	return out
}

func (s *scoreboard) bump(id symbolic.RandomID) {
	s.uses[id]++
	if s.uses[id] == 2 && s.sink != nil {
		s.sink(Violation{
			Kind:    RandomReused,
			Cycle:   s.cycle,
			Path:    id.Port,
			Rand:    id,
			HasRand: true,
		})
	}
}
