package memory

import (
	"context"
	"sync"
	"time"

	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

// Emitter is the subset of kernel.Emitter the memory subsystem needs.
type Emitter interface {
	Emit(ctx context.Context, e *kernel.Event) error
}

// lastTimestamper is implemented by emitters that expose the last admitted
// timestamp of a run (kernel.Emitter does).
type lastTimestamper interface {
	LastTimestamp(runID string) (time.Time, bool)
}

// Journal emits MEMORY events for one governance run under the runtime
// origin. Emissions are serialized and timestamps never go backwards, neither
// past the journal's own last emission nor past the run's recorded tail.
type Journal struct {
	mu      sync.Mutex
	emitter Emitter
	runID   string
	now     func() time.Time
	last    time.Time
}

// NewJournal binds emissions to runID.
func NewJournal(emitter Emitter, runID string) *Journal {
	return &Journal{emitter: emitter, runID: runID, now: time.Now}
}

// WithClock overrides the time source (for testing).
func (j *Journal) WithClock(now func() time.Time) *Journal {
	j.now = now
	return j
}

// RunID returns the governance run.
func (j *Journal) RunID() string { return j.runID }

// Emit builds and emits one event. The event id is generated when empty.
func (j *Journal) Emit(ctx context.Context, eventID string, t kernel.EventType, payload map[string]any) (*kernel.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if eventID == "" {
		eventID = ids.NewEventID()
	}
	ts := j.now().UTC()
	if ts.Before(j.last) {
		ts = j.last
	}
	if lt, ok := j.emitter.(lastTimestamper); ok {
		if tail, ok := lt.LastTimestamp(j.runID); ok && ts.Before(tail) {
			ts = tail
		}
	}
	e, err := kernel.NewEvent(kernel.EventSpec{
		EventID:   eventID,
		RunID:     j.runID,
		Type:      t,
		Timestamp: ts,
		Origin:    kernel.OriginRuntime,
		Payload:   payload,
	})
	if err != nil {
		return nil, err
	}
	if err := j.emitter.Emit(ctx, e); err != nil {
		return nil, err
	}
	j.last = ts
	return e, nil
}
