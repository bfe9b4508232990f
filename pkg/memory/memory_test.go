package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

var t0 = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

const (
	workRun       = "7c1d9a4b-2e3f-4a5b-8c6d-9e0f1a2b3c4d"
	governanceRun = "1f2e3d4c-5b6a-4978-8695-a4b3c2d1e0f9"
)

type harness struct {
	emitter   *kernel.Emitter
	journal   *Journal
	registry  *Registry
	lifecycle *Lifecycle
	service   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	em := kernel.NewEmitter(kernel.NewStore(), nil)
	j := NewJournal(em, governanceRun).WithClock(func() time.Time { return t0 })
	reg := NewRegistry()
	lc := NewLifecycle(j)
	svc := NewService(j, reg, lc).WithLedger(em.Store()).WithClock(func() time.Time { return t0 })
	return &harness{emitter: em, journal: j, registry: reg, lifecycle: lc, service: svc}
}

// domainEvent emits a DOMAIN event into the work run and returns it.
func (h *harness) domainEvent(t *testing.T, typ kernel.EventType, payload map[string]any) *kernel.Event {
	t.Helper()
	e := newEvent(t, typ, kernel.OriginRuntime, payload)
	require.NoError(t, h.emitter.Emit(context.Background(), e))
	return e
}

func newEvent(t *testing.T, typ kernel.EventType, origin string, payload map[string]any) *kernel.Event {
	t.Helper()
	e, err := kernel.NewEvent(kernel.EventSpec{
		EventID:   ids.NewEventID(),
		RunID:     workRun,
		Type:      typ,
		Timestamp: t0,
		Origin:    origin,
		Payload:   payload,
	})
	require.NoError(t, err)
	return e
}

func persistent(extra map[string]any) map[string]any {
	p := map[string]any{PersistentKey: true}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

var errEmitDown = errors.New("emitter unavailable")

// flakyEmitter rejects every emission while failing is set.
type flakyEmitter struct {
	mu      sync.Mutex
	next    Emitter
	failing bool
}

func (f *flakyEmitter) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyEmitter) Emit(ctx context.Context, e *kernel.Event) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errEmitDown
	}
	return f.next.Emit(ctx, e)
}
