package kernel

import (
	"sync"
	"time"

	"github.com/francescomaiomascio/yai/pkg/canonicalize"
)

// Reader is the read-only view of the event log handed out by the Emitter.
type Reader interface {
	// All returns a snapshot of the whole log in append order.
	All() []*Event
	// ByRun returns the events of one run in append order.
	ByRun(runID string) []*Event
	// Find returns the event with eventID in runID.
	Find(runID, eventID string) (*Event, bool)
	// Last returns the most recently appended event.
	Last() (*Event, bool)
	// Len returns the number of appended events.
	Len() int
	// Since returns the events at positions >= offset.
	Since(offset int) []*Event
	// Head returns the hash chained over every appended integrity value.
	Head() string
}

type runIndex struct {
	known IDSet
	last  time.Time
	pos   []int
	byID  map[string]int
}

// Store is the append-only in-memory event log. Appends are only reachable
// through the Emitter.
type Store struct {
	mu     sync.RWMutex
	events []*Event
	runs   map[string]*runIndex
	head   string
}

// NewStore creates an empty log.
func NewStore() *Store {
	return &Store{
		events: make([]*Event, 0),
		runs:   make(map[string]*runIndex),
		head:   genesisHead,
	}
}

const genesisHead = "genesis"

// append commits e. guard runs under the write lock against the live run
// state; a guard error aborts the append without side effects.
func (s *Store) append(e *Event, guard func(RunState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.runs[e.runID]
	if guard != nil {
		state := RunState{}
		if idx != nil {
			state = RunState{Known: idx.known, LastTimestamp: idx.last}
		}
		if err := guard(state); err != nil {
			return err
		}
	}

	if idx == nil {
		idx = &runIndex{known: make(IDSet), byID: make(map[string]int)}
		s.runs[e.runID] = idx
	}
	idx.known[e.eventID] = struct{}{}
	if e.timestamp.After(idx.last) {
		idx.last = e.timestamp
	}
	idx.byID[e.eventID] = len(s.events)
	idx.pos = append(idx.pos, len(s.events))
	s.events = append(s.events, e)
	s.head = canonicalize.HashBytes([]byte(s.head + e.integrity))
	return nil
}

func (s *Store) All() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Event(nil), s.events...)
}

func (s *Store) ByRun(runID string) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.runs[runID]
	if idx == nil {
		return []*Event{}
	}
	out := make([]*Event, len(idx.pos))
	for i, p := range idx.pos {
		out[i] = s.events[p]
	}
	return out
}

func (s *Store) Find(runID, eventID string) (*Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.runs[runID]
	if idx == nil {
		return nil, false
	}
	p, ok := idx.byID[eventID]
	if !ok {
		return nil, false
	}
	return s.events[p], true
}

func (s *Store) Last() (*Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, false
	}
	return s.events[len(s.events)-1], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) Since(offset int) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.events) {
		return []*Event{}
	}
	return append([]*Event(nil), s.events[offset:]...)
}

func (s *Store) Head() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// LastTimestamp returns the latest timestamp recorded for runID.
func (s *Store) LastTimestamp(runID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.runs[runID]
	if idx == nil {
		return time.Time{}, false
	}
	return idx.last, true
}

// inspect runs fn under the read lock against the live run state. fn must
// not retain or mutate state.Known.
func (s *Store) inspect(runID string, fn func(RunState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := RunState{}
	if idx := s.runs[runID]; idx != nil {
		state = RunState{Known: idx.known, LastTimestamp: idx.last}
	}
	return fn(state)
}

// RunState returns a private copy of the run's validation context.
func (s *Store) RunState(runID string) RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.runs[runID]
	if idx == nil {
		return RunState{Known: IDSet{}}
	}
	known := make(IDSet, len(idx.known))
	for id := range idx.known {
		known[id] = struct{}{}
	}
	return RunState{Known: known, LastTimestamp: idx.last}
}

// ChainHead folds integrity values the same way the Store does. It lets
// an archived copy of the log be checked against a live Head.
func ChainHead(events []*Event) string {
	head := genesisHead
	for _, e := range events {
		head = canonicalize.HashBytes([]byte(head + e.integrity))
	}
	return head
}
