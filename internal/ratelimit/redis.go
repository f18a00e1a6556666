package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore delegates the sliding window to a Redis sorted set
// (ZADD/ZREMRANGEBYSCORE/ZCARD) and the token budget to an
// INCRBY/EXPIRE counter, per spec.md §4.1's backing-store policy.
// Grounded on creastat-storage's redis.go for the client idiom.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-configured *redis.Client.
func NewRedisStore(client *redis.Client) *redisStore {
	return &redisStore{client: client}
}

func (r *redisStore) checkRequest(ctx context.Context, key string, window time.Duration, max int64) (Decision, error) {
	redisKey := "rl:req:" + key
	now := time.Now()
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%d", cutoff))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("trim window: %w", err)
	}

	current := countCmd.Val()
	allowed := current < max
	if allowed {
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())
		addPipe := r.client.TxPipeline()
		addPipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: member})
		addPipe.Expire(ctx, redisKey, window+time.Minute)
		if _, err := addPipe.Exec(ctx); err != nil {
			return Decision{}, fmt.Errorf("record event: %w", err)
		}
		current++
	}

	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}

	oldest, err := r.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	resetAt := nowMs + window.Milliseconds()
	if err == nil && len(oldest) > 0 {
		resetAt = int64(oldest[0].Score) + window.Milliseconds()
	}

	return Decision{
		Allowed:      allowed,
		Remaining:    remaining,
		ResetAtEpoch: resetAt,
		Total:        max,
		Current:      current,
	}, nil
}

func (r *redisStore) checkTokens(ctx context.Context, key string, window time.Duration, charge, max int64) (Decision, error) {
	redisKey := "rl:tok:" + key

	current, err := r.client.Get(ctx, redisKey).Int64()
	if err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("read token budget: %w", err)
	}

	// max <= 0 is the documented "unlimited" convention (domain.User's
	// zero-value quota fields), mirrored from HasExceededQuotas's own
	// max > 0 guard.
	if max <= 0 {
		if err := r.client.IncrBy(ctx, redisKey, charge).Err(); err != nil {
			return Decision{}, fmt.Errorf("charge token budget: %w", err)
		}
		r.client.Expire(ctx, redisKey, window)
		return Decision{Allowed: true, Remaining: 0, ResetAtEpoch: time.Now().Add(window).UnixMilli(), Total: max, Current: current + charge}, nil
	}

	allowed := current+charge <= max
	if allowed {
		pipe := r.client.TxPipeline()
		incr := pipe.IncrBy(ctx, redisKey, charge)
		pipe.Expire(ctx, redisKey, window)
		if _, err := pipe.Exec(ctx); err != nil {
			return Decision{}, fmt.Errorf("charge token budget: %w", err)
		}
		current = incr.Val()
	}

	ttl, err := r.client.TTL(ctx, redisKey).Result()
	resetAt := time.Now().Add(window).UnixMilli()
	if err == nil && ttl > 0 {
		resetAt = time.Now().Add(ttl).UnixMilli()
	}

	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:      allowed,
		Remaining:    remaining,
		ResetAtEpoch: resetAt,
		Total:        max,
		Current:      current,
	}, nil
}

func (r *redisStore) close() error {
	return r.client.Close()
}
