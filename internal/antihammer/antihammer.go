package antihammer

import (
	"context"
	"log/slog"
	"time"
)

// Defaults match the window existing deployments are tuned for.
const (
	DefaultCooldown      = 60 * time.Second
	DefaultBlockAttempts = 100

	// minCooldown keeps a misconfigured window from spinning the decay loop.
	minCooldown = time.Second
)

// Store counts failures per key.
type Store interface {
	// Hit records one failure for key and returns the new count.
	Hit(ctx context.Context, key string) (int64, error)

	// Count returns the current failure count for key.
	Count(ctx context.Context, key string) (int64, error)
}

// Guard applies a block threshold to a Store.
//
// Store errors never lock clients out: a failing store reports "not blocked"
// and the error is logged.
//
// Thread Safety:
//   - Safe for concurrent use if the Store is.
type Guard struct {
	store  Store
	limit  int64
	logger *slog.Logger
}

// New creates a Guard blocking keys with at least blockAttempts failures.
// A non-positive blockAttempts uses DefaultBlockAttempts.
func New(store Store, blockAttempts int, logger *slog.Logger) *Guard {
	if blockAttempts <= 0 {
		blockAttempts = DefaultBlockAttempts
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{store: store, limit: int64(blockAttempts), logger: logger}
}

// Blocked reports whether key has reached the threshold.
func (g *Guard) Blocked(ctx context.Context, key string) bool {
	n, err := g.store.Count(ctx, key)
	if err != nil {
		g.logger.WarnContext(ctx, "antihammer count failed", "key", key, "error", err)
		return false
	}
	return n >= g.limit
}

// Fail records an authentication failure for key.
func (g *Guard) Fail(ctx context.Context, key string) {
	n, err := g.store.Hit(ctx, key)
	if err != nil {
		g.logger.WarnContext(ctx, "antihammer hit failed", "key", key, "error", err)
		return
	}
	if n == g.limit {
		g.logger.WarnContext(ctx, "client blocked after repeated authentication failures",
			"key", key,
			"failures", n,
		)
	}
}

// Limit returns the block threshold.
func (g *Guard) Limit() int64 {
	return g.limit
}

func normaliseCooldown(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCooldown
	}
	if d < minCooldown {
		return minCooldown
	}
	return d
}
