// Package usage accumulates token and call counts across remote AI calls.
package usage

import (
	"sort"
	"sync"

	"github.com/jonathan/storybook-agent/internal/types"
)

// Key identifies one stage/provider combination.
type Key struct {
	Stage    types.Stage
	Provider string
}

// Record is the running total for one stage/provider combination.
type Record struct {
	Calls        int `json:"calls"`
	Failures     int `json:"failures"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stats is an append-only accumulator shared across pipeline runs. Updates
// are atomic per completed call.
type Stats struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// NewStats returns an empty accumulator.
func NewStats() *Stats {
	return &Stats{records: make(map[Key]*Record)}
}

// RecordCall appends one successful call's token counts.
func (s *Stats) RecordCall(stage types.Stage, provider string, inputTokens, outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(stage, provider)
	r.Calls++
	r.InputTokens += inputTokens
	r.OutputTokens += outputTokens
}

// RecordFailure appends one failed call. Failed calls still count toward
// call totals so every issued request stays attributable.
func (s *Stats) RecordFailure(stage types.Stage, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(stage, provider)
	r.Calls++
	r.Failures++
}

func (s *Stats) record(stage types.Stage, provider string) *Record {
	key := Key{Stage: stage, Provider: provider}
	r, ok := s.records[key]
	if !ok {
		r = &Record{}
		s.records[key] = r
	}
	return r
}

// Snapshot returns a copy of the current totals.
func (s *Stats) Snapshot() map[Key]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Key]Record, len(s.records))
	for k, r := range s.records {
		out[k] = *r
	}
	return out
}

// Totals sums all records into one.
func (s *Stats) Totals() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total Record
	for _, r := range s.records {
		total.Calls += r.Calls
		total.Failures += r.Failures
		total.InputTokens += r.InputTokens
		total.OutputTokens += r.OutputTokens
	}
	return total
}

// Keys returns the recorded keys sorted by stage then provider, for stable
// reporting output.
func (s *Stats) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Stage != keys[j].Stage {
			return keys[i].Stage < keys[j].Stage
		}
		return keys[i].Provider < keys[j].Provider
	})
	return keys
}
