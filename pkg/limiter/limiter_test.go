package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_Burst(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()
	p := Policy{PerMinute: 60, Burst: 2}

	for i := 0; i < 2; i++ {
		ok, err := s.Allow(ctx, "agent:a", p, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.Allow(ctx, "agent:a", p, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other keys have their own bucket.
	ok, err = s.Allow(ctx, "agent:b", p, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, err = s.Allow(ctx, "agent:a", p, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInMemoryStore_CostAboveBurst(t *testing.T) {
	s := NewInMemoryStore()
	ok, err := s.Allow(context.Background(), "k", Policy{PerMinute: 60, Burst: 1}, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryStore_Prune(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()
	_, _ = s.Allow(ctx, "old", Policy{}, 1)
	now = now.Add(5 * time.Minute)
	_, _ = s.Allow(ctx, "new", Policy{}, 1)

	assert.Equal(t, 1, s.Prune(time.Minute))
	assert.Equal(t, 1, s.Len())
}

func TestCheck(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	p := Policy{PerMinute: 1, Burst: 1}

	require.NoError(t, Check(ctx, s, "k", p))
	err := Check(ctx, s, "k", p)
	assert.True(t, errors.Is(err, ErrLimited))

	assert.Error(t, Check(ctx, nil, "k", p))
}

// Requires a local Redis; skipped otherwise.
func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()
	s, err := DialRedis(ctx, "localhost:6379", "", 0)
	if err != nil {
		t.Skip("redis not available")
	}
	defer func() { _ = s.Close() }()

	key := "test-" + time.Now().Format("150405.000000")
	p := Policy{PerMinute: 60, Burst: 1}

	ok, err := s.Allow(ctx, key, p, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Allow(ctx, key, p, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(1100 * time.Millisecond)
	ok, err = s.Allow(ctx, key, p, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
