package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
)

func TestJournal_ClockRegressionIsClamped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	clock := t0
	h.journal.WithClock(func() time.Time { return clock })

	first, err := h.journal.Emit(ctx, "", kernel.MemoryDeprecated, map[string]any{"memory_id": ids.NewMemoryID()})
	require.NoError(t, err)

	clock = t0.Add(-time.Hour)
	second, err := h.journal.Emit(ctx, "", kernel.MemoryDeprecated, map[string]any{"memory_id": ids.NewMemoryID()})
	require.NoError(t, err)
	assert.True(t, second.Timestamp().Equal(first.Timestamp()))
}

func TestJournal_FollowsRunTailWrittenByOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ahead := t0.Add(24 * time.Hour)
	foreign, err := kernel.NewEvent(kernel.EventSpec{
		EventID: ids.NewEventID(), RunID: governanceRun, Type: kernel.RunProvisioned,
		Timestamp: ahead, Origin: kernel.OriginRuntime,
	})
	require.NoError(t, err)
	require.NoError(t, h.emitter.Emit(ctx, foreign))

	e, err := h.journal.Emit(ctx, "", kernel.MemoryDeprecated, map[string]any{"memory_id": ids.NewMemoryID()})
	require.NoError(t, err)
	assert.True(t, e.Timestamp().Equal(ahead))
	assert.Len(t, h.emitter.Store().ByRun(governanceRun), 2)
}
