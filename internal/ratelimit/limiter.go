// Package ratelimit implements the sliding-window request counter and
// token-budget counter of spec.md §4.1, with a shared Redis-backed store
// and an in-process fallback, grounded on the teacher's
// internal/middleware/rate_limit.go for the admission shape and on
// creastat-storage's redis.go for the Redis client idiom.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/nightloom/chatcore/internal/metrics"
)

// Decision is the result of a single admission check.
type Decision struct {
	Allowed      bool
	Remaining    int64
	ResetAtEpoch int64
	Total        int64
	Current      int64
}

// store is the pluggable backing algorithm. Both the Redis-backed and
// in-process implementations satisfy it so Limiter shares one admission
// algorithm across both, per spec.md §4.1.
type store interface {
	checkRequest(ctx context.Context, key string, window time.Duration, max int64) (Decision, error)
	checkTokens(ctx context.Context, key string, window time.Duration, charge, max int64) (Decision, error)
	close() error
}

// Limiter is the public entry point: checkRequest/checkTokens per
// spec.md §4.1, fail-open on any internal error.
type Limiter struct {
	primary  store
	fallback store
	metrics  metrics.Sink
	logger   *slog.Logger
}

// New constructs a Limiter. redisStore may be nil, in which case the
// in-process fallback is the only backing store.
func New(redisStore store, m metrics.Sink, logger *slog.Logger) *Limiter {
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		primary:  redisStore,
		fallback: newMemoryStore(),
		metrics:  m,
		logger:   logger,
	}
}

// CheckRequest admits or rejects a request event for key under a sliding
// window of length window, bounded to max events.
func (l *Limiter) CheckRequest(ctx context.Context, key string, window time.Duration, max int64) Decision {
	return l.run(ctx, "checkRequest", max, func(s store) (Decision, error) {
		return s.checkRequest(ctx, key, window, max)
	})
}

// CheckTokens charges tokensToCharge against key's token-budget counter,
// only when the charge keeps the window total within max.
func (l *Limiter) CheckTokens(ctx context.Context, key string, window time.Duration, tokensToCharge, max int64) Decision {
	return l.run(ctx, "checkTokens", max, func(s store) (Decision, error) {
		return s.checkTokens(ctx, key, window, tokensToCharge, max)
	})
}

func (l *Limiter) run(ctx context.Context, op string, max int64, call func(store) (Decision, error)) Decision {
	if l.primary != nil {
		d, err := call(l.primary)
		if err == nil {
			return d
		}
		l.logger.Warn("rate limit store unavailable, falling back to in-process", "op", op, "error", err)
		l.metrics.Inc("ratelimit_fallback", map[string]string{"op": op})
	}

	d, err := call(l.fallback)
	if err != nil {
		l.logger.Error("rate limit fallback failed, failing open", "op", op, "error", err)
		l.metrics.Inc("ratelimit_error", map[string]string{"op": op})
		return Decision{Allowed: true, Remaining: max, Total: max}
	}
	return d
}

// Close releases the backing stores.
func (l *Limiter) Close() error {
	var err error
	if l.primary != nil {
		err = l.primary.close()
	}
	if ferr := l.fallback.close(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}
