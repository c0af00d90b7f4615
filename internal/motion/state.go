// Package motion decides whether the front door camera saw motion and keeps
// the most recent confirmed event.
package motion

import (
	"sync"
	"time"
)

// Event is a confirmed motion detection.
type Event struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurred_at"`
	Snapshot     Handle    `json:"snapshot"`
	LargeRegions int       `json:"large_regions"`
}

// State holds the last confirmed event. The Classifier is its only writer;
// any number of goroutines may read it.
type State struct {
	mu    sync.RWMutex
	last  *Event
	count uint64
}

// NewState returns an empty state.
func NewState() *State {
	return &State{}
}

// record replaces the last event. The snapshot must already be on disk.
func (s *State) record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &ev
	s.count++
}

// Last returns a copy of the most recent event, if any.
func (s *State) Last() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Event{}, false
	}
	return *s.last, true
}

// Count returns the number of events recorded since start.
func (s *State) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// ActiveAt reports whether the last event falls within window of now.
func (s *State) ActiveAt(now time.Time, window time.Duration) bool {
	ev, ok := s.Last()
	return ok && now.Sub(ev.OccurredAt) < window
}
