package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/francescomaiomascio/yai/pkg/kernel"
)

// Sink receives batches of admitted events.
type Sink interface {
	Append(ctx context.Context, events []*kernel.Event) (int, error)
}

// Follower copies the tail of the in-memory log into a Sink.
type Follower struct {
	mu     sync.Mutex
	source kernel.Reader
	sink   Sink
	offset int
	logger *slog.Logger
}

// NewFollower starts following source from its first event.
func NewFollower(source kernel.Reader, sink Sink) *Follower {
	return &Follower{
		source: source,
		sink:   sink,
		logger: slog.Default().With("component", "archive.follower"),
	}
}

// WithLogger replaces the logger.
func (f *Follower) WithLogger(l *slog.Logger) *Follower {
	f.logger = l.With("component", "archive.follower")
	return f
}

// Offset returns how many source events have been handed to the sink.
func (f *Follower) Offset() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Sync archives everything appended since the previous call.
func (f *Follower) Sync(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.source.Since(f.offset)
	if len(batch) == 0 {
		return 0, nil
	}
	written, err := f.sink.Append(ctx, batch)
	if err != nil {
		return 0, err
	}
	f.offset += len(batch)
	return written, nil
}

// Run syncs every interval until ctx is done, then performs a final sync.
func (f *Follower) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final flush with a fresh context so shutdown does not drop the tail.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := f.Sync(flushCtx); err != nil {
				f.logger.Error("final archive sync failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if n, err := f.Sync(ctx); err != nil {
				f.logger.WarnContext(ctx, "archive sync failed", "error", err)
			} else if n > 0 {
				f.logger.DebugContext(ctx, "archived events", "count", n, "offset", f.Offset())
			}
		}
	}
}
