// Package limiter throttles ledger writers per origin.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrLimited is returned by Check when a key has exhausted its budget.
var ErrLimited = errors.New("rate limit exceeded")

// Policy is a token bucket: PerMinute refill with Burst capacity.
type Policy struct {
	PerMinute int
	Burst     int
}

func (p Policy) perSecond() float64 {
	if p.PerMinute <= 0 {
		return 1
	}
	return float64(p.PerMinute) / 60.0
}

func (p Policy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// Store decides whether key may spend cost tokens now.
type Store interface {
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// Check spends one token for key and returns ErrLimited when none is left.
// A nil store denies.
func Check(ctx context.Context, store Store, key string, policy Policy) error {
	if store == nil {
		return errors.New("limiter: no store configured")
	}
	ok, err := store.Allow(ctx, key, policy, 1)
	if err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w for %s", ErrLimited, key)
	}
	return nil
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// InMemoryStore keeps one rate.Limiter per key. Suitable for a single
// ledger process.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*bucket), clock: time.Now}
}

// WithClock overrides the time source.
func (s *InMemoryStore) WithClock(clock func() time.Time) *InMemoryStore {
	s.clock = clock
	return s
}

func (s *InMemoryStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	if cost <= 0 {
		return true, nil
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(policy.perSecond()), policy.burst())}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, cost), nil
}

// Prune drops buckets idle for longer than idle and returns how many went.
func (s *InMemoryStore) Prune(idle time.Duration) int {
	cutoff := s.clock().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, k)
			n++
		}
	}
	return n
}

// Len reports the number of tracked keys.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
