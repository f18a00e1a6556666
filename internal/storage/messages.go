package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nightloom/chatcore/internal/domain"
)

// MessageStore persists domain.Message, grounded on the teacher's
// service/session.go AddMessage/GetMessages shape, generalised from the
// teacher's role/text/images columns to the full metadata/status/error
// structure spec.md §3 requires.
type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Create inserts a message, assigning an id and server-side created-at
// timestamp if unset — spec.md §5 requires the orchestrator to assign
// timestamps server-side for strict ordering.
func (s *MessageStore) Create(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, user_id, role, content, provider, model,
		                       token_count, prompt_tokens, completion_tokens, total_tokens,
		                       response_time_ms, correlation_id, is_streaming, streaming_complete,
		                       status, error_message, error_code, error_retryable, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		m.ID, m.SessionID, m.UserID, m.Role, m.Content, m.Metadata.Provider, m.Metadata.Model,
		m.Metadata.TokenCount, m.Metadata.Usage.PromptTokens, m.Metadata.Usage.CompletionTokens, m.Metadata.Usage.TotalTokens,
		m.Metadata.ResponseTimeMs, m.Metadata.CorrelationID, m.Metadata.IsStreaming, m.Metadata.StreamingComplete,
		m.Status, errMessage(m.Error), errCode(m.Error), errRetryable(m.Error), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func errMessage(e *domain.MessageError) string {
	if e == nil {
		return ""
	}
	return e.Message
}
func errCode(e *domain.MessageError) string {
	if e == nil {
		return ""
	}
	return e.Code
}
func errRetryable(e *domain.MessageError) bool {
	if e == nil {
		return false
	}
	return e.Retryable
}

// CompareAndSetStatus transitions a message's status only if its current
// status matches fromStatus, implementing the compare-and-set described
// in spec.md §3's "Ownership" note — robust to duplicate completion
// paths (a replayed onDone/onError per spec.md §4.5's idempotency rule).
func (s *MessageStore) CompareAndSetStatus(ctx context.Context, messageID, fromStatus string, m *domain.Message) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET content = $3, status = $4, token_count = $5,
		    prompt_tokens = $6, completion_tokens = $7, total_tokens = $8,
		    response_time_ms = $9, streaming_complete = $10,
		    error_message = $11, error_code = $12, error_retryable = $13
		WHERE id = $1 AND status = $2`,
		messageID, fromStatus,
		m.Content, m.Status, m.Metadata.TokenCount,
		m.Metadata.Usage.PromptTokens, m.Metadata.Usage.CompletionTokens, m.Metadata.Usage.TotalTokens,
		m.Metadata.ResponseTimeMs, m.Metadata.StreamingComplete,
		errMessage(m.Error), errCode(m.Error), errRetryable(m.Error))
	if err != nil {
		return false, fmt.Errorf("compare-and-set message status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get loads a single message by id.
func (s *MessageStore) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx, selectMessageColumns+` WHERE id = $1`, messageID)
	m, err := scanMessage(row)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, domain.ErrMessageNotFound
	}
	return m, err
}

const selectMessageColumns = `
	SELECT id, session_id, user_id, role, content, provider, model,
	       token_count, prompt_tokens, completion_tokens, total_tokens,
	       response_time_ms, correlation_id, is_streaming, streaming_complete,
	       status, error_message, error_code, error_retryable, created_at
	FROM messages`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	var errMsg, errCodeVal string
	var errRetry bool
	if err := row.Scan(
		&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &m.Metadata.Provider, &m.Metadata.Model,
		&m.Metadata.TokenCount, &m.Metadata.Usage.PromptTokens, &m.Metadata.Usage.CompletionTokens, &m.Metadata.Usage.TotalTokens,
		&m.Metadata.ResponseTimeMs, &m.Metadata.CorrelationID, &m.Metadata.IsStreaming, &m.Metadata.StreamingComplete,
		&m.Status, &errMsg, &errCodeVal, &errRetry, &m.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if errMsg != "" || errCodeVal != "" {
		m.Error = &domain.MessageError{Message: errMsg, Code: errCodeVal, Retryable: errRetry}
	}
	return &m, nil
}

// ListBySession returns a session's messages in ascending creation
// order, per spec.md §3/§4.4's ordering requirement.
func (s *MessageStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := selectMessageColumns + ` WHERE session_id = $1 ORDER BY created_at ASC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+` LIMIT $2`, sessionID, limit)
	} else {
		rows, err = s.pool.Query(ctx, query, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListOlderThan returns a session's user/assistant messages created
// before cutoff, ascending — the summarisation candidate set of
// spec.md §4.4.
func (s *MessageStore) ListOlderThan(ctx context.Context, sessionID string, cutoff time.Time) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, selectMessageColumns+`
		WHERE session_id = $1 AND role IN ('user','assistant') AND created_at < $2
		ORDER BY created_at ASC`, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list older messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteByIDs removes a specific set of messages, used after
// summarisation folds them into a single summary message.
func (s *MessageStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// DeleteBySession removes all messages for a session, optionally keeping
// the leading system message, per spec.md §4.4's clear(sessionId,
// keepSystem).
func (s *MessageStore) DeleteBySession(ctx context.Context, sessionID string, keepSystem bool) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	if keepSystem {
		tag, err = s.pool.Exec(ctx, `DELETE FROM messages WHERE session_id = $1 AND role != $2`, sessionID, domain.RoleSystem)
	} else {
		tag, err = s.pool.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("delete session messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountBySession returns per-role message counts for stats().
func (s *MessageStore) CountBySession(ctx context.Context, sessionID string) (userCount, assistantCount int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE role = 'user'),
			count(*) FILTER (WHERE role = 'assistant')
		FROM messages WHERE session_id = $1`, sessionID).Scan(&userCount, &assistantCount)
	if err != nil {
		return 0, 0, fmt.Errorf("count by session: %w", err)
	}
	return userCount, assistantCount, nil
}

// MarkStaleStreamingAsError repairs assistant messages stuck in
// "streaming" past cutoff, the background sweep of SPEC_FULL.md §5
// ("Stale-turn cleanup").
func (s *MessageStore) MarkStaleStreamingAsError(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = $2, error_message = 'turn exceeded wall-clock timeout', error_code = 'provider-error', error_retryable = true
		WHERE status = $3 AND created_at < $1`,
		cutoff, domain.StatusError, domain.StatusStreaming)
	if err != nil {
		return 0, fmt.Errorf("mark stale streaming: %w", err)
	}
	return tag.RowsAffected(), nil
}
