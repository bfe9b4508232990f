package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francescomaiomascio/yai/pkg/ids"
)

type recordingObserver struct {
	mu       sync.Mutex
	admitted []string
	rejected []string
}

func (o *recordingObserver) EventAdmitted(_ context.Context, e *Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admitted = append(o.admitted, e.ID())
}

func (o *recordingObserver) EventRejected(_ context.Context, e *Event, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, e.ID())
}

func TestEmitter_AdmitsValidEvent(t *testing.T) {
	em := NewEmitter(NewStore(), nil)
	e := mustEvent(t, RunProvisioned, OriginRuntime)

	require.NoError(t, em.Emit(context.Background(), e))

	assert.Equal(t, 1, em.Store().Len())
	last, ok := em.Store().Last()
	require.True(t, ok)
	assert.Same(t, e, last)
	assert.Equal(t, e.Integrity(), last.Integrity())
}

func TestEmitter_RejectedEventLeavesNoTrace(t *testing.T) {
	obs := &recordingObserver{}
	em := NewEmitter(NewStore(), nil).WithObserver(obs)
	ctx := context.Background()

	require.NoError(t, em.Emit(ctx, mustEvent(t, RunProvisioned, OriginRuntime)))
	head := em.Store().Head()

	bad := mustEvent(t, RunProvisioned, "agent:x")
	err := em.Emit(ctx, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthorityViolation))

	var emErr *EmissionError
	require.True(t, errors.As(err, &emErr))
	assert.Equal(t, bad.ID(), emErr.EventID)

	assert.Equal(t, 1, em.Store().Len())
	assert.Equal(t, head, em.Store().Head())
	assert.Len(t, em.Store().ByRun(testRunID), 1)
	assert.Equal(t, []string{bad.ID()}, obs.rejected)
	assert.Len(t, obs.admitted, 1)
}

func TestEmitter_NilEvent(t *testing.T) {
	em := NewEmitter(NewStore(), nil)
	err := em.Emit(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrStructuralViolation))
	assert.Zero(t, em.Store().Len())
}

func TestEmitter_ParentMustBeRecordedInRun(t *testing.T) {
	em := NewEmitter(NewStore(), nil)
	ctx := context.Background()

	root := mustEvent(t, TaskStarted, OriginRuntime)
	require.NoError(t, em.Emit(ctx, root))

	child := mustEvent(t, TaskCompleted, OriginRuntime, withCausality(Parent(root.ID())), withTime(baseTime.Add(time.Second)))
	require.NoError(t, em.Emit(ctx, child))

	otherRun := mustEvent(t, TaskCompleted, OriginRuntime, withRun(ids.NewRunID()), withCausality(Parent(root.ID())))
	err := em.Emit(ctx, otherRun)
	assert.True(t, errors.Is(err, ErrCausalityViolation))

	err = em.Emit(ctx, root)
	assert.True(t, errors.Is(err, ErrStructuralViolation))
	assert.Equal(t, 2, em.Store().Len())
}

func TestEmitter_TemporalOrderPerRun(t *testing.T) {
	em := NewEmitter(NewStore(), nil)
	ctx := context.Background()

	require.NoError(t, em.Emit(ctx, mustEvent(t, TaskStarted, OriginRuntime, withTime(baseTime))))
	err := em.Emit(ctx, mustEvent(t, TaskCompleted, OriginRuntime, withTime(baseTime.Add(-time.Millisecond))))
	assert.True(t, errors.Is(err, ErrTemporalViolation))

	// Another run has its own clock.
	require.NoError(t, em.Emit(ctx, mustEvent(t, TaskStarted, OriginRuntime, withRun(ids.NewRunID()), withTime(baseTime.Add(-time.Hour)))))
	assert.Equal(t, 2, em.Store().Len())
}

func TestEmitter_EndToEndAuthority(t *testing.T) {
	em := NewEmitter(NewStore(), nil)
	ctx := context.Background()

	require.NoError(t, em.Emit(ctx, mustEvent(t, RunProvisioned, OriginRuntime)))
	assert.Equal(t, 1, em.Store().Len())

	err := em.Emit(ctx, mustEvent(t, RunProvisioned, "agent:x"))
	assert.Equal(t, AuthorityViolation, KindOf(err))
	assert.Equal(t, 1, em.Store().Len())
}

func TestEmitter_ConcurrentEmitsKeepRunOrdered(t *testing.T) {
	em := NewEmitter(NewStore(), nil)
	ctx := context.Background()

	const workers = 16
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ts := baseTime.Add(time.Duration(w*perWorker+i) * time.Millisecond)
				e, err := NewEvent(EventSpec{
					EventID:   ids.NewEventID(),
					RunID:     testRunID,
					Type:      InferenceStep,
					Timestamp: ts,
					Origin:    AgentOrigin("worker"),
				})
				if err != nil {
					t.Error(err)
					return
				}
				// Temporal rejections are expected under contention.
				_ = em.Emit(ctx, e)
			}
		}(w)
	}
	wg.Wait()

	events := em.Store().ByRun(testRunID)
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp().Before(events[i-1].Timestamp()), "run timestamps regressed at %d", i)
	}
	assert.Equal(t, len(events), em.Store().Len())
	assert.Equal(t, ChainHead(em.Store().All()), em.Store().Head())
}
