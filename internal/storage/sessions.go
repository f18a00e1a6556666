package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nightloom/chatcore/internal/domain"
)

// SessionStore persists domain.Session, grounded on the teacher's
// service/session.go for the method shape (FindOrCreate-adjacent
// lookups, activity bookkeeping) translated onto the spec's
// UUID-keyed, single-user-per-session model.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create inserts a new session owned by userID.
func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	sess.LastActivityAt = sess.CreatedAt
	sess.IsActive = true

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, title, provider, model, system_prompt, temperature, max_tokens,
		                       is_active, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, $9)`,
		sess.ID, sess.UserID, sess.Title, sess.Provider, sess.Model, sess.SystemPrompt,
		sess.Settings.Temperature, sess.Settings.MaxTokens, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get loads a session by id, scoped to the owning user to avoid leaking
// existence of sessions owned by others (spec.md §8: "never unauthorised,
// to avoid leakage").
func (s *SessionStore) Get(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, provider, model, system_prompt, temperature, max_tokens,
		       total_tokens, message_count, last_summarised_at, summary_hash, is_active,
		       last_activity_at, created_at
		FROM sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	return scanSession(row)
}

// GetByID loads a session by id without a user scope, for internal use
// (the context manager's summariser, which runs with no caller identity
// or after the HTTP handler has already checked ownership with Get).
func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, provider, model, system_prompt, temperature, max_tokens,
		       total_tokens, message_count, last_summarised_at, summary_hash, is_active,
		       last_activity_at, created_at
		FROM sessions WHERE id = $1`, sessionID)
	return scanSession(row)
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	var lastSummarisedAt *time.Time
	if err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Title, &sess.Provider, &sess.Model, &sess.SystemPrompt,
		&sess.Settings.Temperature, &sess.Settings.MaxTokens,
		&sess.Context.TotalTokens, &sess.Context.MessageCount, &lastSummarisedAt, &sess.Context.SummaryHash,
		&sess.IsActive, &sess.LastActivityAt, &sess.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if lastSummarisedAt != nil {
		sess.Context.LastSummarisedAt = *lastSummarisedAt
	}
	return &sess, nil
}

// List returns a user's sessions ordered by most recent activity.
func (s *SessionStore) List(ctx context.Context, userID string, limit, offset int) ([]domain.Session, int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, provider, model, system_prompt, temperature, max_tokens,
		       total_tokens, message_count, last_summarised_at, summary_hash, is_active,
		       last_activity_at, created_at
		FROM sessions WHERE user_id = $1
		ORDER BY last_activity_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// SetTitle sets a session's title, used once when the first user message of
// the session derives it per spec.md §4.5.
func (s *SessionStore) SetTitle(ctx context.Context, sessionID, title string) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET title = $2 WHERE id = $1`, sessionID, title)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

// TouchActivity bumps last_activity_at to now.
func (s *SessionStore) TouchActivity(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`, sessionID, now)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

// AddContextTokens atomically folds a token delta (positive on append,
// negative on summarisation) into the session's running total, and
// adjusts message_count by countDelta, per spec.md §3's totalTokens
// invariant.
func (s *SessionStore) AddContextTokens(ctx context.Context, sessionID string, tokenDelta int64, countDelta int, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET total_tokens = total_tokens + $2,
		    message_count = message_count + $3,
		    last_activity_at = $4
		WHERE id = $1`,
		sessionID, tokenDelta, countDelta, now)
	if err != nil {
		return fmt.Errorf("add context tokens: %w", err)
	}
	return nil
}

// MarkSummarised records the summarisation bookkeeping fields in one
// statement, applied alongside AddContextTokens's negative delta.
func (s *SessionStore) MarkSummarised(ctx context.Context, sessionID, summaryHash string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET last_summarised_at = $2, summary_hash = $3 WHERE id = $1`,
		sessionID, now, summaryHash)
	if err != nil {
		return fmt.Errorf("mark summarised: %w", err)
	}
	return nil
}

// ClearContext zeroes a session's token/count bookkeeping, used by
// Clear.
func (s *SessionStore) ClearContext(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET total_tokens = 0, message_count = 0 WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("clear context: %w", err)
	}
	return nil
}

// Deactivate flips is_active to false.
func (s *SessionStore) Deactivate(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET is_active = false WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

// DeactivateExpired deactivates sessions whose last activity is older
// than the TTL, for the background inactivity sweep.
func (s *SessionStore) DeactivateExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET is_active = false
		WHERE is_active = true AND last_activity_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
