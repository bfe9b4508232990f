package capabilities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runA = "0b6f3c1e-4f55-4b8e-9a53-0f1c0f6a2b11"

func TestGrantTable(t *testing.T) {
	g := NewGrantTable()
	ctx := context.Background()

	err := g.RequireCapability(ctx, runA, MemoryRead)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAccessDenied))

	g.Grant(runA, MemoryRead)
	require.NoError(t, g.RequireCapability(ctx, runA, MemoryRead))
	assert.Error(t, g.RequireCapability(ctx, "other", MemoryRead))

	g.Revoke(runA, MemoryRead)
	assert.False(t, g.Has(runA, MemoryRead))

	g.Grant(AnyRun, EventEmit)
	assert.True(t, g.Has("whatever", EventEmit))
}

func TestTokenManager_IssueAndParse(t *testing.T) {
	tm, err := NewTokenManager([]byte("0123456789abcdef-secret"))
	require.NoError(t, err)

	tok, err := tm.Issue("agent:planner", runA, []Type{MemoryRead}, time.Minute)
	require.NoError(t, err)

	claims, err := tm.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "agent:planner", claims.Origin())
	assert.Equal(t, runA, claims.RunID)

	ctx := context.Background()
	require.NoError(t, claims.RequireCapability(ctx, runA, MemoryRead))

	err = claims.RequireCapability(ctx, runA, MemoryWrite)
	var denied *AccessDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "agent:planner", denied.Subject)
	assert.Equal(t, CodeAccessDenied, denied.Code)

	assert.Error(t, claims.RequireCapability(ctx, "another-run", MemoryRead))
}

func TestTokenManager_RejectsForeignAndExpired(t *testing.T) {
	tm, err := NewTokenManager([]byte("0123456789abcdef-secret"))
	require.NoError(t, err)
	other, err := NewTokenManager([]byte("fedcba9876543210-secret"))
	require.NoError(t, err)

	tok, err := other.Issue("runtime", runA, nil, time.Minute)
	require.NoError(t, err)
	_, err = tm.Parse(tok)
	assert.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))

	past := time.Now().Add(-time.Hour)
	tm.WithClock(func() time.Time { return past })
	tok, err = tm.Issue("runtime", runA, nil, time.Minute)
	require.NoError(t, err)
	tm.WithClock(time.Now)
	_, err = tm.Parse(tok)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))

	_, err = tm.Parse("not.a.token")
	assert.Error(t, err)
}

func TestTokenManager_Validation(t *testing.T) {
	_, err := NewTokenManager([]byte("short"))
	assert.Error(t, err)

	tm, err := NewTokenManager([]byte("0123456789abcdef"))
	require.NoError(t, err)
	_, err = tm.Issue("", runA, nil, time.Minute)
	assert.Error(t, err)
	_, err = tm.Issue("runtime", "", nil, time.Minute)
	assert.Error(t, err)
	_, err = tm.Issue("runtime", runA, nil, 0)
	assert.Error(t, err)
}

func TestClaims_AnyRun(t *testing.T) {
	c := &Claims{RunID: AnyRun, Capabilities: []Type{MemoryRead}}
	assert.True(t, c.Has(runA, MemoryRead))
	assert.False(t, c.Has(runA, EventEmit))
}
