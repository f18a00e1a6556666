package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nightloom/chatcore/internal/domain"
)

// UserStore persists domain.User, grounded on the teacher's
// service/user.go for the pgxpool + hand-rolled query shape (the teacher
// itself goes through sqlc; this pack does not carry the generator or
// its query files, so the SQL is written directly against pgx — see
// DESIGN.md).
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// EnsureExists creates a user row with default quotas if one doesn't
// already exist, so the core never has to special-case a missing
// principal on first contact.
func (s *UserStore) EnsureExists(ctx context.Context, userID string, defaultTokenLimit, defaultRequestLimit int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, daily_token_limit, daily_request_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		userID, defaultTokenLimit, defaultRequestLimit)
	if err != nil {
		return fmt.Errorf("ensure user exists: %w", err)
	}
	return nil
}

// Get loads a user by id.
func (s *UserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, role, pref_provider, pref_model, pref_temperature, pref_system_prompt,
		       total_tokens, total_requests, daily_tokens, daily_requests, last_request_at,
		       daily_token_limit, daily_request_limit, reset_date
		FROM users WHERE id = $1`, userID)

	var u domain.User
	var lastRequestAt *time.Time
	if err := row.Scan(
		&u.ID, &u.Role, &u.Preferences.Provider, &u.Preferences.Model, &u.Preferences.Temperature, &u.Preferences.SystemPrompt,
		&u.Usage.TotalTokens, &u.Usage.TotalRequests, &u.Usage.DailyTokens, &u.Usage.DailyRequests, &lastRequestAt,
		&u.Quotas.DailyTokenLimit, &u.Quotas.DailyRequestLimit, &u.Quotas.ResetDate,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if lastRequestAt != nil {
		u.Usage.LastRequestAt = *lastRequestAt
	}
	return &u, nil
}

// ApplyTurnUsage atomically folds a completed turn's token usage into a
// user's lifetime and daily counters, and increments total/daily request
// counts by one, per spec.md §3's "increments by 1 iff ... reaches
// completed or error" invariant. Callers only invoke this once per turn.
func (s *UserStore) ApplyTurnUsage(ctx context.Context, userID string, tokens int64, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET total_tokens = total_tokens + $2,
		    total_requests = total_requests + 1,
		    daily_tokens = daily_tokens + $2,
		    daily_requests = daily_requests + 1,
		    last_request_at = $3
		WHERE id = $1`,
		userID, tokens, now)
	if err != nil {
		return fmt.Errorf("apply turn usage: %w", err)
	}
	return nil
}

// ResetDailyIfElapsed zeroes a user's daily counters once their reset
// date has passed, rolling it forward to the next UTC midnight. Used by
// the per-turn ADMIT path; the background quota-reset sweep uses
// ResetAllElapsed.
func (s *UserStore) ResetDailyIfElapsed(ctx context.Context, userID string, now time.Time) error {
	nextReset := startOfNextUTCDay(now)
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET daily_tokens = 0, daily_requests = 0, reset_date = $2
		WHERE id = $1 AND reset_date <= $3`,
		userID, nextReset, now)
	if err != nil {
		return fmt.Errorf("reset daily usage: %w", err)
	}
	return nil
}

// ResetAllElapsed is the background sweep's bulk variant of
// ResetDailyIfElapsed, run periodically rather than per-turn.
func (s *UserStore) ResetAllElapsed(ctx context.Context, now time.Time) (int64, error) {
	nextReset := startOfNextUTCDay(now)
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET daily_tokens = 0, daily_requests = 0, reset_date = $1
		WHERE reset_date <= $2`, nextReset, now)
	if err != nil {
		return 0, fmt.Errorf("reset all elapsed: %w", err)
	}
	return tag.RowsAffected(), nil
}

func startOfNextUTCDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
