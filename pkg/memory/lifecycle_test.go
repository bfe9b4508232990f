package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francescomaiomascio/yai/pkg/kernel"
)

func TestLifecycle_ExpireOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.lifecycle.RegisterNew("m1"))
	assert.True(t, h.lifecycle.IsActive("m1"))

	require.NoError(t, h.lifecycle.Expire(ctx, "m1", "ttl"))
	st, err := h.lifecycle.GetState("m1")
	require.NoError(t, err)
	assert.Equal(t, State{MemoryID: "m1", Status: StatusExpired, Reason: "ttl"}, st)
	assert.False(t, h.lifecycle.IsActive("m1"))

	err = h.lifecycle.Expire(ctx, "m1", "ttl")
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusExpired, te.From)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	events := h.emitter.Store().ByRun(governanceRun)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, kernel.MemoryExpired, ev.Type())
	assert.Equal(t, kernel.OriginRuntime, ev.Origin())
	assert.Equal(t, map[string]any{
		"memory_id":   "m1",
		"new_status":  "EXPIRED",
		"replaced_by": nil,
		"reason":      "ttl",
	}, ev.Payload())
}

func TestLifecycle_EachTransitionEmitsItsType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.lifecycle.RegisterNew(id))
	}

	require.NoError(t, h.lifecycle.Expire(ctx, "a", ""))
	require.NoError(t, h.lifecycle.Deprecate(ctx, "b", "stale"))
	require.NoError(t, h.lifecycle.Supersede(ctx, "c", "d", "newer"))
	require.NoError(t, h.lifecycle.Invalidate(ctx, "d", "wrong"))

	var types []kernel.EventType
	for _, e := range h.emitter.Store().ByRun(governanceRun) {
		types = append(types, e.Type())
	}
	assert.Equal(t, []kernel.EventType{kernel.MemoryExpired, kernel.MemoryDeprecated, kernel.MemorySuperseded, kernel.MemoryInvalidated}, types)

	st, err := h.lifecycle.GetState("c")
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, st.Status)
	assert.Equal(t, "d", st.ReplacedBy)

	superseded := h.emitter.Store().ByRun(governanceRun)[2]
	v, _ := superseded.PayloadValue("replaced_by")
	assert.Equal(t, "d", v)

	states := h.lifecycle.States()
	require.Len(t, states, 4)
	assert.Equal(t, "a", states[0].MemoryID)
}

func TestLifecycle_TerminalStatesAreFinal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.lifecycle.RegisterNew("m"))
	require.NoError(t, h.lifecycle.Deprecate(ctx, "m", ""))

	for _, to := range []Status{StatusExpired, StatusDeprecated, StatusSuperseded, StatusInvalidated} {
		err := h.lifecycle.Transition(ctx, "m", to, "other", "")
		assert.True(t, errors.Is(err, ErrIllegalTransition), to)
	}
	assert.Len(t, h.emitter.Store().ByRun(governanceRun), 1)
}

func TestLifecycle_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.True(t, errors.Is(h.lifecycle.Expire(ctx, "ghost", ""), ErrNotFound))
	_, err := h.lifecycle.GetState("ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, h.lifecycle.IsActive("ghost"))

	require.NoError(t, h.lifecycle.RegisterNew("m"))
	assert.True(t, errors.Is(h.lifecycle.RegisterNew("m"), ErrDuplicate))

	assert.True(t, errors.Is(h.lifecycle.Supersede(ctx, "m", "", ""), ErrIllegalTransition))
	assert.True(t, errors.Is(h.lifecycle.Supersede(ctx, "m", "m", ""), ErrIllegalTransition))
	assert.True(t, errors.Is(h.lifecycle.Transition(ctx, "m", StatusActive, "", ""), ErrIllegalTransition))
	assert.True(t, h.lifecycle.IsActive("m"))
}

func TestLifecycle_RejectedEmissionDoesNotCommit(t *testing.T) {
	em := kernel.NewEmitter(kernel.NewStore(), nil)
	flaky := &flakyEmitter{next: em, failing: true}
	lc := NewLifecycle(NewJournal(flaky, governanceRun))
	ctx := context.Background()

	require.NoError(t, lc.RegisterNew("m"))
	err := lc.Expire(ctx, "m", "ttl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errEmitDown))
	assert.True(t, lc.IsActive("m"))
	assert.Zero(t, em.Store().Len())

	flaky.setFailing(false)
	require.NoError(t, lc.Expire(ctx, "m", "ttl"))
	assert.False(t, lc.IsActive("m"))
	assert.Equal(t, 1, em.Store().Len())
}

func TestLifecycle_ConcurrentTransitionsCommitOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.lifecycle.RegisterNew("m"))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = h.lifecycle.Expire(ctx, "m", "race")
			} else {
				err = h.lifecycle.Invalidate(ctx, "m", "race")
			}
			if err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Len(t, h.emitter.Store().ByRun(governanceRun), 1)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("SUPERSEDED")
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, st)
	_, err = ParseStatus("archived")
	assert.Error(t, err)
}
