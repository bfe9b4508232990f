package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/francescomaiomascio/yai/pkg/kernel"
)

// Status is a memory lifecycle state. Every status except Active is terminal.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusExpired     Status = "EXPIRED"
	StatusDeprecated  Status = "DEPRECATED"
	StatusSuperseded  Status = "SUPERSEDED"
	StatusInvalidated Status = "INVALIDATED"
)

func (s Status) eventType() kernel.EventType {
	switch s {
	case StatusExpired:
		return kernel.MemoryExpired
	case StatusDeprecated:
		return kernel.MemoryDeprecated
	case StatusSuperseded:
		return kernel.MemorySuperseded
	case StatusInvalidated:
		return kernel.MemoryInvalidated
	default:
		return ""
	}
}

// ParseStatus maps a transition target name to its status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusExpired, StatusDeprecated, StatusSuperseded, StatusInvalidated:
		return st, nil
	}
	return "", fmt.Errorf("unknown memory status %q", s)
}

// State is the lifecycle position of one memory.
type State struct {
	MemoryID   string `json:"memory_id"`
	Status     Status `json:"status"`
	ReplacedBy string `json:"replaced_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type lifecycleEntry struct {
	mu    sync.Mutex
	state State
}

// Lifecycle tracks memory states. Each transition is checked, announced
// through the journal and committed while the memory's entry is locked; a
// rejected announcement leaves the state unchanged.
type Lifecycle struct {
	mu      sync.RWMutex
	entries map[string]*lifecycleEntry
	journal *Journal
	logger  *slog.Logger
}

// NewLifecycle returns a manager that announces transitions through journal.
func NewLifecycle(journal *Journal) *Lifecycle {
	return &Lifecycle{
		entries: make(map[string]*lifecycleEntry),
		journal: journal,
		logger:  slog.Default().With("component", "memory.lifecycle"),
	}
}

// WithLogger replaces the logger.
func (l *Lifecycle) WithLogger(logger *slog.Logger) *Lifecycle {
	l.logger = logger.With("component", "memory.lifecycle")
	return l
}

// RegisterNew starts tracking id as ACTIVE.
func (l *Lifecycle) RegisterNew(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[id]; ok {
		return &DuplicateError{Code: CodeDuplicate, MemoryID: id}
	}
	l.entries[id] = &lifecycleEntry{state: State{MemoryID: id, Status: StatusActive}}
	return nil
}

func (l *Lifecycle) Expire(ctx context.Context, id, reason string) error {
	return l.transition(ctx, id, StatusExpired, "", reason)
}

func (l *Lifecycle) Deprecate(ctx context.Context, id, reason string) error {
	return l.transition(ctx, id, StatusDeprecated, "", reason)
}

// Supersede marks id as replaced by replacedBy.
func (l *Lifecycle) Supersede(ctx context.Context, id, replacedBy, reason string) error {
	if replacedBy == "" || replacedBy == id {
		return &TransitionError{
			Code: CodeIllegalTransition, MemoryID: id, From: StatusActive, To: StatusSuperseded,
			Message: "replacement must name a different memory",
		}
	}
	return l.transition(ctx, id, StatusSuperseded, replacedBy, reason)
}

func (l *Lifecycle) Invalidate(ctx context.Context, id, reason string) error {
	return l.transition(ctx, id, StatusInvalidated, "", reason)
}

// Transition applies the named terminal status.
func (l *Lifecycle) Transition(ctx context.Context, id string, to Status, replacedBy, reason string) error {
	switch to {
	case StatusExpired:
		return l.Expire(ctx, id, reason)
	case StatusDeprecated:
		return l.Deprecate(ctx, id, reason)
	case StatusSuperseded:
		return l.Supersede(ctx, id, replacedBy, reason)
	case StatusInvalidated:
		return l.Invalidate(ctx, id, reason)
	default:
		return &TransitionError{Code: CodeIllegalTransition, MemoryID: id, To: to, Message: "not a terminal status"}
	}
}

func (l *Lifecycle) transition(ctx context.Context, id string, to Status, replacedBy, reason string) error {
	l.mu.RLock()
	entry, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return notFound(id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	from := entry.state.Status
	if from != StatusActive {
		return &TransitionError{Code: CodeIllegalTransition, MemoryID: id, From: from, To: to}
	}

	payload := map[string]any{
		"memory_id":   id,
		"new_status":  string(to),
		"replaced_by": nil,
		"reason":      nil,
	}
	if replacedBy != "" {
		payload["replaced_by"] = replacedBy
	}
	if reason != "" {
		payload["reason"] = reason
	}
	ev, err := l.journal.Emit(ctx, "", to.eventType(), payload)
	if err != nil {
		return fmt.Errorf("announce %s for memory %s: %w", to, id, err)
	}

	entry.state = State{MemoryID: id, Status: to, ReplacedBy: replacedBy, Reason: reason}
	l.logger.InfoContext(ctx, "memory transitioned",
		"memory_id", id,
		"from", string(from),
		"to", string(to),
		"event_id", ev.ID(),
	)
	return nil
}

// GetState returns the state of id or a NotFoundError.
func (l *Lifecycle) GetState(id string) (State, error) {
	l.mu.RLock()
	entry, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return State{}, notFound(id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, nil
}

// IsActive reports whether id is tracked and ACTIVE.
func (l *Lifecycle) IsActive(id string) bool {
	st, err := l.GetState(id)
	return err == nil && st.Status == StatusActive
}

// States returns every tracked state sorted by memory id.
func (l *Lifecycle) States() []State {
	l.mu.RLock()
	entries := make([]*lifecycleEntry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out
}
