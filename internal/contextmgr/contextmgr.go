// Package contextmgr implements the Context Manager of spec.md §4.4: it
// assembles what the provider adapter sees, persists what a session
// owes, and keeps session.context.totalTokens bounded via on-demand
// summarisation. Grounded on the teacher's service/session.go for the
// load/append method shape, and on mestarz-agentic's SummarizerPass for
// the summarisation algorithm (pack older messages into one LLM call,
// replace them with a single compressed message).
package contextmgr

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nightloom/chatcore/internal/clock"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/domain"
	"github.com/nightloom/chatcore/internal/llm"
	"github.com/nightloom/chatcore/internal/metrics"
	"github.com/nightloom/chatcore/internal/storage"
)

// LoadedContext is what load(sessionId) returns to the orchestrator: the
// messages a provider adapter should see, ready to pass through
// verbatim, per spec.md §4.4.
type LoadedContext struct {
	Messages     []llm.Message
	SystemPrompt string
	TotalTokens  int64
	MessageCount int
}

// SummariseResult is summarise(sessionId)'s non-nil return per spec.md
// §4.4; nil signals "nothing to summarise" or an internal error that
// must never block the caller.
type SummariseResult struct {
	MessagesSummarised int
	TokensSaved        int64
	SummaryTokens      int
}

// Stats is stats(sessionId)'s return value.
type Stats struct {
	TotalTokens         int64
	MessageCount        int
	UserMessages        int
	AssistantMessages   int
	NeedsSummarisation  bool
	LastSummarisedAt    time.Time
}

const summarySystemPrompt = "Summarize the following conversation history concisely, " +
	"preserving key facts, user preferences, and decisions. Be objective and brief."

// Manager owns session state per spec.md §4.4, serialising summarisation
// per session with an in-process lock registry (spec.md's own
// "session-scoped lock" design note, generalised here from the
// teacher's per-chat active-request DB flag to an in-process mutex map
// because summarisation is local CPU/IO-bound work, not a distributed
// resource — see DESIGN.md).
type Manager struct {
	sessions *storage.SessionStore
	messages *storage.MessageStore
	summary  llm.Adapter
	clock    clock.Clock
	cfg      *config.Config
	metrics  metrics.Sink
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Manager. summaryAdapter is the provider dedicated to
// compressing older history (spec.md §4.4: "a designated summarisation
// provider").
func New(sessions *storage.SessionStore, messages *storage.MessageStore, summaryAdapter llm.Adapter, c clock.Clock, cfg *config.Config, m metrics.Sink, logger *slog.Logger) *Manager {
	if c == nil {
		c = clock.Real{}
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: sessions,
		messages: messages,
		summary:  summaryAdapter,
		clock:    c,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// Load returns the ordered message history and bookkeeping the
// orchestrator needs to build a provider request, per spec.md §4.4.
func (m *Manager) Load(ctx context.Context, sess *domain.Session) (LoadedContext, error) {
	rows, err := m.messages.ListBySession(ctx, sess.ID, 0)
	if err != nil {
		return LoadedContext{}, fmt.Errorf("load context: %w", err)
	}

	out := LoadedContext{SystemPrompt: sess.SystemPrompt, TotalTokens: sess.Context.TotalTokens, MessageCount: sess.Context.MessageCount}
	for _, msg := range rows {
		if msg.Role == domain.RoleSystem {
			continue
		}
		role := msg.Role
		if role == domain.RoleSummary {
			role = domain.RoleSystem
		}
		out.Messages = append(out.Messages, llm.Message{Role: role, Content: msg.Content})
	}
	return out, nil
}

// Append creates a message, estimates or accepts its token count, and
// atomically folds the delta into the session's running totals, per
// spec.md §4.4. When the new total crosses SUMMARISATION_THRESHOLD, it
// schedules summarisation in a detached goroutine whose failure never
// blocks the caller.
func (m *Manager) Append(ctx context.Context, sess *domain.Session, role, content string, metadata domain.MessageMetadata) (*domain.Message, error) {
	tokenCount := metadata.TokenCount
	if tokenCount == 0 {
		tokenCount = domain.EstimateTokens(content)
	}
	metadata.TokenCount = tokenCount

	now := m.clock.Now()
	msg := &domain.Message{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Status:    domain.StatusCompleted,
		CreatedAt: now,
	}
	if role == domain.RoleAssistant {
		msg.Status = domain.StatusPending
	}

	if err := m.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if err := m.applyTokenDelta(ctx, sess, int64(tokenCount), 1, now); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	return msg, nil
}

// RecordAssistantTokens folds an already-persisted assistant message's
// token usage into the session's running totals and checks the
// summarisation threshold, without creating a new message row. The
// orchestrator calls this from finalize/fallbackSafe once a turn's
// assistant message is written directly (via messages.Create plus
// CompareAndSetStatus) rather than through Append, so that the
// assistant's contribution to a turn — normally the larger one — is
// still checked against SUMMARISATION_THRESHOLD, per spec.md §8's
// "a turn crosses the threshold only once the assistant's tokens are
// added" scenario.
func (m *Manager) RecordAssistantTokens(ctx context.Context, sess *domain.Session, tokenCount int64, at time.Time) error {
	return m.applyTokenDelta(ctx, sess, tokenCount, 1, at)
}

// applyTokenDelta is the shared bookkeeping behind Append and
// RecordAssistantTokens: persist the session's new running totals, mirror
// them onto the in-memory sess, and schedule summarisation in a detached
// goroutine once SUMMARISATION_THRESHOLD is crossed.
func (m *Manager) applyTokenDelta(ctx context.Context, sess *domain.Session, tokenDelta int64, countDelta int, now time.Time) error {
	if err := m.sessions.AddContextTokens(ctx, sess.ID, tokenDelta, countDelta, now); err != nil {
		return err
	}
	sess.Context.TotalTokens += tokenDelta
	sess.Context.MessageCount += countDelta

	threshold := m.cfg.SummarisationThreshold
	if threshold > 0 && sess.Context.TotalTokens > int64(threshold) {
		sessionID := sess.ID
		go func() {
			bgCtx := context.Background()
			if _, err := m.Summarise(bgCtx, sessionID); err != nil {
				m.logger.Warn("background summarisation failed", "session_id", sessionID, "error", err)
			}
		}()
	}
	return nil
}

// Summarise compresses a session's older user/assistant messages into a
// single summary message, per spec.md §4.4. Returns nil (no error) when
// there is nothing to do or an internal failure occurs — summarisation
// must never surface an error to a turn in flight.
func (m *Manager) Summarise(ctx context.Context, sessionID string) (*SummariseResult, error) {
	lock := m.sessionLock(sessionID)
	if !lock.TryLock() {
		// Already summarising this session; the caller's turn proceeds
		// against the pre-summary message set per spec.md §4.4's
		// documented bounded skew.
		return nil, nil
	}
	defer lock.Unlock()

	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		m.metrics.Inc("summarisation_error", map[string]string{"stage": "load_session"})
		return nil, nil
	}

	recentWindow := time.Duration(m.cfg.SummarisationRecentWindowMinutes) * time.Minute
	cutoff := m.clock.Now().Add(-recentWindow)

	candidates, err := m.messages.ListOlderThan(ctx, sessionID, cutoff)
	if err != nil {
		m.metrics.Inc("summarisation_error", map[string]string{"stage": "list_candidates"})
		return nil, nil
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	var transcript strings.Builder
	var tokensRemoved int64
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		fmt.Fprintf(&transcript, "%s: %s\n", c.Role, c.Content)
		tokensRemoved += int64(c.Metadata.TokenCount)
		ids = append(ids, c.ID)
	}

	result, err := m.summary.Complete(ctx, []llm.Message{{Role: "user", Content: transcript.String()}}, summarySystemPrompt, llm.Options{})
	if err != nil {
		m.logger.Warn("summarisation provider call failed", "session_id", sessionID, "error", err)
		m.metrics.Inc("summarisation_error", map[string]string{"stage": "provider"})
		return nil, nil
	}

	summaryTokens := result.Usage.CompletionTokens
	if summaryTokens == 0 {
		summaryTokens = domain.EstimateTokens(result.Text)
	}

	now := m.clock.Now()
	summaryMsg := &domain.Message{
		SessionID: sessionID,
		UserID:    sess.UserID,
		Role:      domain.RoleSummary,
		Content:   result.Text,
		Metadata:  domain.MessageMetadata{Provider: m.summary.Name(), TokenCount: summaryTokens},
		Status:    domain.StatusCompleted,
		CreatedAt: candidates[0].CreatedAt, // take the slot of the earliest message it replaces
	}
	if err := m.messages.Create(ctx, summaryMsg); err != nil {
		m.metrics.Inc("summarisation_error", map[string]string{"stage": "persist_summary"})
		return nil, nil
	}

	if err := m.messages.DeleteByIDs(ctx, ids); err != nil {
		m.metrics.Inc("summarisation_error", map[string]string{"stage": "delete_summarised"})
		return nil, nil
	}

	netTokenDelta := int64(summaryTokens) - tokensRemoved
	netCountDelta := 1 - len(ids)
	if err := m.sessions.AddContextTokens(ctx, sessionID, netTokenDelta, netCountDelta, now); err != nil {
		m.metrics.Inc("summarisation_error", map[string]string{"stage": "update_session"})
		return nil, nil
	}

	hash := md5.Sum([]byte(transcript.String()))
	if err := m.sessions.MarkSummarised(ctx, sessionID, hex.EncodeToString(hash[:]), now); err != nil {
		m.metrics.Inc("summarisation_error", map[string]string{"stage": "mark_summarised"})
	}

	m.metrics.Inc("summarisation_completed", map[string]string{})
	return &SummariseResult{
		MessagesSummarised: len(ids),
		TokensSaved:        tokensRemoved - int64(summaryTokens),
		SummaryTokens:       summaryTokens,
	}, nil
}

// Clear deletes a session's messages (optionally keeping the system
// message) and zeroes its context counters, per spec.md §4.4.
func (m *Manager) Clear(ctx context.Context, sessionID string, keepSystem bool) (int64, error) {
	count, err := m.messages.DeleteBySession(ctx, sessionID, keepSystem)
	if err != nil {
		return 0, fmt.Errorf("clear context: %w", err)
	}
	if err := m.sessions.ClearContext(ctx, sessionID); err != nil {
		return 0, fmt.Errorf("clear context: %w", err)
	}
	return count, nil
}

// Stats returns the session's bookkeeping summary, per spec.md §4.4.
func (m *Manager) Stats(ctx context.Context, sess *domain.Session) (Stats, error) {
	userCount, assistantCount, err := m.messages.CountBySession(ctx, sess.ID)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return Stats{
		TotalTokens:        sess.Context.TotalTokens,
		MessageCount:       sess.Context.MessageCount,
		UserMessages:       userCount,
		AssistantMessages:  assistantCount,
		NeedsSummarisation: m.cfg.SummarisationThreshold > 0 && sess.Context.TotalTokens > int64(m.cfg.SummarisationThreshold),
		LastSummarisedAt:   sess.Context.LastSummarisedAt,
	}, nil
}
