// Package chat implements the Turn Orchestrator of spec.md §4.5 — the
// only component that knows how a turn becomes an assistant message.
// Grounded on the teacher's handler/text_private.go for the numbered,
// sequential-guard-clause shape of a single turn handler; translated
// from Telegram-chat-with-balance-checks onto the ADMIT → LOAD_CTX →
// SELECT_PROVIDER → STREAM → FINALIZE/FALLBACK_SAFE → COMPLETE state
// machine spec.md §4.5 specifies.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nightloom/chatcore/internal/clock"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/contextmgr"
	"github.com/nightloom/chatcore/internal/domain"
	"github.com/nightloom/chatcore/internal/llm"
	"github.com/nightloom/chatcore/internal/metrics"
	"github.com/nightloom/chatcore/internal/ratelimit"
	"github.com/nightloom/chatcore/internal/safety"
	"github.com/nightloom/chatcore/internal/storage"
)

// Principal is the already-authenticated caller identity the core
// receives per spec.md §1 ("the core receives an already-validated
// principal").
type Principal struct {
	UserID string
	Role   string
}

// Options narrows what a caller can override for one turn.
type Options struct {
	ProviderOverride string
	CorrelationID    string
}

// Sink is the one thing both transport bindings implement, so the
// orchestrator never imports gin or the websocket package directly
// (Design Note §9's typed push channel, carried one level further into
// the transport boundary per SPEC_FULL.md §4.6).
type Sink interface {
	EmitToken(messageID, token string)
	EmitDone(messageID string, usage llm.Usage, responseTimeMs int64, fallback bool)
	EmitError(message string, retryable bool, messageID string)
}

// Outcome is the discriminated union spec.md Design Note §9 asks for in
// place of exception-based control flow.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
	OutcomeFallback  Outcome = "fallback"
)

// TurnResult is HandleTurn's return value.
type TurnResult struct {
	Outcome          Outcome
	UserMessage      *domain.Message
	AssistantMessage *domain.Message
	CoreErr          *domain.CoreError
}

// Orchestrator is the central state machine of spec.md §4.5.
type Orchestrator struct {
	users    *storage.UserStore
	sessions *storage.SessionStore
	messages *storage.MessageStore
	context  *contextmgr.Manager
	registry *llm.Registry
	limiter  *ratelimit.Limiter
	gate     *safety.Gate
	clock    clock.Clock
	cfg      *config.Config
	metrics  metrics.Sink
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs an Orchestrator from its collaborators.
func New(
	users *storage.UserStore,
	sessions *storage.SessionStore,
	messages *storage.MessageStore,
	context *contextmgr.Manager,
	registry *llm.Registry,
	limiter *ratelimit.Limiter,
	gate *safety.Gate,
	c clock.Clock,
	cfg *config.Config,
	m metrics.Sink,
	logger *slog.Logger,
) *Orchestrator {
	if c == nil {
		c = clock.Real{}
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		users: users, sessions: sessions, messages: messages, context: context,
		registry: registry, limiter: limiter, gate: gate, clock: c, cfg: cfg,
		metrics: m, logger: logger, locks: make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[sessionID] = l
	}
	return l
}

// AdmittedTurn is an opaque handle to a turn that has passed ADMIT: the
// session is locked and its context established. A caller splitting
// admission from streaming (spec.md §4.6's SSE binding needs to respond
// with a synchronous HTTP status/headers before ever committing to an
// event stream) calls Admit first, inspects the returned *domain.CoreError,
// and only calls Run once admission succeeded. Run always releases the
// session lock and cancels the turn's detached context, so every
// AdmittedTurn returned by Admit must reach exactly one Run call.
type AdmittedTurn struct {
	user          *domain.User
	session       *domain.Session
	content       string
	opts          Options
	correlationID string
	ctx           context.Context
	cancel        context.CancelFunc
	unlock        func()
	logger        *slog.Logger
}

// Admit runs the ADMIT step of spec.md §4.5 synchronously: safety
// pre-screen, quota/rate-limit checks, inbound content screen, and
// session lookup. A non-nil *domain.CoreError means the turn was
// rejected — the caller never calls Run and is responsible for surfacing
// the rejection (HTTP status/headers for a synchronous transport, or
// sink.EmitError for a push transport). A non-nil error means an internal
// failure unrelated to the turn itself.
func (o *Orchestrator) Admit(ctx context.Context, principal Principal, sessionID, content string, opts Options) (*AdmittedTurn, *domain.CoreError, error) {
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := o.logger.With("correlation_id", correlationID, "user_id", principal.UserID, "session_id", sessionID)

	if err := o.gate.ValidateMessage(safety.MessageInput{Content: content, Role: domain.RoleUser, SessionID: sessionID}); err != nil {
		return nil, o.reject(logger, err), nil
	}

	if err := o.users.EnsureExists(ctx, principal.UserID, o.cfg.DefaultDailyTokenLimit, o.cfg.DefaultDailyRequestLimit); err != nil {
		return nil, nil, fmt.Errorf("ensure user: %w", err)
	}
	now := o.clock.Now()
	if err := o.users.ResetDailyIfElapsed(ctx, principal.UserID, now); err != nil {
		logger.Warn("reset daily usage failed", "error", err)
	}
	user, err := o.users.Get(ctx, principal.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	// A zero-value limit is the documented "unlimited" convention
	// (domain.User.HasExceededQuotas), so the token budget check is
	// skipped entirely rather than charged against a max of 0.
	if user.Quotas.DailyTokenLimit > 0 {
		estimatedTokens := int64(domain.EstimateTokens(content))
		tokenDecision := o.limiter.CheckTokens(ctx, "tokens:"+principal.UserID, config.TokenRateLimitWindow, estimatedTokens, user.Quotas.DailyTokenLimit)
		if !tokenDecision.Allowed {
			retryAfter := retryAfterSeconds(now, tokenDecision.ResetAtEpoch)
			return nil, o.reject(logger, &domain.CoreError{Kind: domain.KindQuotaExceeded, Message: "Daily usage quota exceeded", RetryAfterSeconds: retryAfter}), nil
		}
	}
	if user.HasExceededQuotas(now) {
		return nil, o.reject(logger, domain.NewCoreError(domain.KindQuotaExceeded, "Daily usage quota exceeded", nil)), nil
	}

	rateDecision := o.limiter.CheckRequest(ctx, "chat:"+principal.UserID, config.ChatRateLimitWindow, int64(o.cfg.ChatRateLimitMaxRequests))
	if !rateDecision.Allowed {
		retryAfter := retryAfterSeconds(now, rateDecision.ResetAtEpoch)
		return nil, o.reject(logger, &domain.CoreError{Kind: domain.KindRateLimited, Message: "Too Many Requests", RetryAfterSeconds: retryAfter}), nil
	}

	screen := safety.ScreenInbound(content)
	if screen.Flagged && screen.Confidence > o.gate.InboundThreshold() {
		return nil, o.reject(logger, &domain.CoreError{Kind: domain.KindSafetyBlock, Message: "Content flagged", Flags: screen.Flags}), nil
	}

	sess, err := o.sessions.Get(ctx, sessionID, principal.UserID)
	if err != nil {
		// Per spec.md §8: a turn against a session owned by another user
		// (or a missing session) is not-found, never unauthorised.
		return nil, o.reject(logger, domain.NewCoreError(domain.KindNotFound, "session not found", err)), nil
	}
	if !sess.IsActive {
		return nil, o.reject(logger, domain.NewCoreError(domain.KindNotFound, "session not found", nil)), nil
	}

	// One in-flight turn per session (spec.md §5).
	lock := o.sessionLock(sessionID)
	lock.Lock()

	// Detach from the caller's request context: a client disconnect must
	// not cut the adapter call or persistence short (spec.md §4.5/§5).
	turnCtx, cancel := context.WithTimeout(context.Background(), config.TurnWallClockTimeout)

	return &AdmittedTurn{
		user: user, session: sess, content: content, opts: opts,
		correlationID: correlationID, ctx: turnCtx, cancel: cancel,
		unlock: lock.Unlock, logger: logger,
	}, nil, nil
}

// Run executes LOAD_CTX onward for a turn Admit already cleared,
// releasing the session lock and detached context when it returns.
func (o *Orchestrator) Run(at *AdmittedTurn, sink Sink) (*TurnResult, error) {
	defer at.cancel()
	defer at.unlock()
	return o.runAdmittedTurn(at.ctx, at.user, at.session, at.content, at.opts, at.correlationID, sink, at.logger)
}

// HandleTurn drives one user turn from admission to a terminal event,
// per spec.md §4.5, for callers that don't need to split ADMIT from
// streaming (the websocket and buffered-HTTP bindings, where every
// outcome — including rejection — is reported through the same sink).
func (o *Orchestrator) HandleTurn(ctx context.Context, principal Principal, sessionID, content string, opts Options, sink Sink) (*TurnResult, error) {
	at, ce, err := o.Admit(ctx, principal, sessionID, content, opts)
	if err != nil {
		return nil, err
	}
	if ce != nil {
		sink.EmitError(ce.Message, ce.Kind.Retryable(), "")
		return &TurnResult{Outcome: OutcomeError, CoreErr: ce}, nil
	}
	return o.Run(at, sink)
}

// reject logs and counts a rejection at its taxonomy kind, passing the
// CoreError through unchanged so callers can chain it straight into a
// return statement.
func (o *Orchestrator) reject(logger *slog.Logger, err error) *domain.CoreError {
	ce, ok := err.(*domain.CoreError)
	if !ok {
		ce = domain.NewCoreError(domain.KindInternal, err.Error(), err)
	}
	logger.Warn("turn rejected at admission", "kind", ce.Kind, "message", ce.Message)
	o.metrics.Inc("turn_rejected", map[string]string{"kind": string(ce.Kind)})
	return ce
}

// retryAfterSeconds converts a limiter's reset epoch (unix millis) into a
// whole-second Retry-After value, floored at 1 so a reset that's already
// passed still tells the client to back off briefly rather than implying
// it may retry immediately.
func retryAfterSeconds(now time.Time, resetAtEpochMs int64) int64 {
	secs := (resetAtEpochMs - now.UnixMilli()) / 1000
	if secs < 1 {
		return 1
	}
	return secs
}

// runAdmittedTurn executes LOAD_CTX → SELECT_PROVIDER → STREAM →
// FINALIZE/FALLBACK_SAFE → COMPLETE against an already-admitted turn.
func (o *Orchestrator) runAdmittedTurn(ctx context.Context, user *domain.User, sess *domain.Session, content string, opts Options, correlationID string, sink Sink, logger *slog.Logger) (*TurnResult, error) {
	turnStart := o.clock.Now()

	// --- LOAD_CTX ----------------------------------------------------
	loaded, err := o.context.Load(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	userMsg, err := o.context.Append(ctx, sess, domain.RoleUser, content, domain.MessageMetadata{CorrelationID: correlationID})
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if loaded.MessageCount == 0 && sess.Title == "" {
		title := content
		if len(title) > config.TitleMaxLen {
			title = title[:config.TitleMaxLen]
		}
		if err := o.sessions.SetTitle(ctx, sess.ID, title); err != nil {
			logger.Warn("set session title failed", "error", err)
		}
		sess.Title = title
	}
	loaded.Messages = append(loaded.Messages, llm.Message{Role: domain.RoleUser, Content: content})

	// --- SELECT_PROVIDER ----------------------------------------------
	providerName := opts.ProviderOverride
	if providerName == "" {
		providerName = sess.Provider
	}
	adapter, ok := o.registry.Get(providerName)
	if !ok {
		return o.fallbackSafe(ctx, sess, userMsg, nil, correlationID, turnStart,
			domain.NewCoreError(domain.KindProviderError, fmt.Sprintf("unknown provider %q", providerName), nil), sink, logger)
	}

	// --- STREAM --------------------------------------------------------
	assistantMsg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Role:      domain.RoleAssistant,
		Status:    domain.StatusStreaming,
		Metadata: domain.MessageMetadata{
			Provider:      providerName,
			Model:         sess.Model,
			CorrelationID: correlationID,
			IsStreaming:   true,
		},
		CreatedAt: o.clock.Now(),
	}
	if err := o.messages.Create(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("create pending assistant message: %w", err)
	}

	events, err := adapter.StreamChat(ctx, loaded.Messages, sess.SystemPrompt, llm.Options{
		Model:       sess.Model,
		Temperature: sess.Settings.Temperature,
		MaxTokens:   sess.Settings.MaxTokens,
	})
	if err != nil {
		return o.fallbackSafe(ctx, sess, userMsg, assistantMsg, correlationID, turnStart,
			domain.NewCoreError(domain.KindProviderError, "provider failed to start stream", err), sink, logger)
	}

	var buffer []byte
	for ev := range events {
		if ev.Token != "" {
			buffer = append(buffer, ev.Token...)
			sink.EmitToken(assistantMsg.ID, ev.Token)
			continue
		}
		if ev.Err != nil {
			return o.fallbackSafe(ctx, sess, userMsg, assistantMsg, correlationID, turnStart,
				domain.NewCoreError(domain.KindProviderError, "provider stream failed", ev.Err), sink, logger)
		}
		if ev.Done != nil {
			return o.finalize(ctx, user, sess, assistantMsg, userMsg, ev.Done, string(buffer), turnStart, sink, logger)
		}
	}

	// Channel closed without a terminal event: treat as a provider error.
	return o.fallbackSafe(ctx, sess, userMsg, assistantMsg, correlationID, turnStart,
		domain.NewCoreError(domain.KindProviderError, "provider stream closed without a terminal event", nil), sink, logger)
}

// finalize implements the onDone transition of spec.md §4.5: the
// assistant message completes, session/user counters advance by the
// provider's reported usage (or the estimate if it reported none).
func (o *Orchestrator) finalize(ctx context.Context, user *domain.User, sess *domain.Session, assistantMsg, userMsg *domain.Message, result *llm.Result, buffered string, turnStart time.Time, sink Sink, logger *slog.Logger) (*TurnResult, error) {
	text := result.Text
	if text == "" {
		text = buffered
	}
	usage := result.Usage
	if usage.TotalTokens == 0 {
		usage.CompletionTokens = domain.EstimateTokens(text)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	responseTimeMs := o.clock.Now().Sub(turnStart).Milliseconds()

	outboundScreen := safety.ScreenOutbound(text)
	if outboundScreen.Flagged {
		logger.Warn("outbound content flagged", "flags", outboundScreen.Flags, "message_id", assistantMsg.ID)
		o.metrics.Inc("outbound_flagged", map[string]string{"flags": strings.Join(outboundScreen.Flags, ",")})
	}

	assistantMsg.Content = text
	assistantMsg.Status = domain.StatusCompleted
	assistantMsg.Metadata.Usage = domain.MessageUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, TotalTokens: usage.TotalTokens}
	assistantMsg.Metadata.TokenCount = usage.TotalTokens
	assistantMsg.Metadata.ResponseTimeMs = responseTimeMs
	assistantMsg.Metadata.StreamingComplete = true
	assistantMsg.Metadata.SafetyFlags = outboundScreen.Flags

	changed, err := o.messages.CompareAndSetStatus(ctx, assistantMsg.ID, domain.StatusStreaming, assistantMsg)
	if err != nil {
		return nil, fmt.Errorf("finalize assistant message: %w", err)
	}
	if !changed {
		// Already finalized by a replayed onDone — idempotent no-op per
		// spec.md §4.5.
		sink.EmitDone(assistantMsg.ID, llm.Usage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, TotalTokens: usage.TotalTokens}, responseTimeMs, false)
		return &TurnResult{Outcome: OutcomeCompleted, UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
	}

	now := o.clock.Now()
	if err := o.context.RecordAssistantTokens(ctx, sess, int64(usage.TotalTokens), now); err != nil {
		logger.Warn("update session context tokens failed", "error", err)
	}
	if err := o.users.ApplyTurnUsage(ctx, user.ID, int64(usage.TotalTokens), now); err != nil {
		logger.Warn("update user usage failed", "error", err)
	}

	sink.EmitDone(assistantMsg.ID, llm.Usage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, TotalTokens: usage.TotalTokens}, responseTimeMs, false)
	o.metrics.Inc("turn_completed", map[string]string{"provider": assistantMsg.Metadata.Provider})
	return &TurnResult{Outcome: OutcomeCompleted, UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// fallbackSafe implements the FALLBACK_SAFE transition: a canned
// response substitutes for the failed provider, the assistant message
// still reaches "completed" with error metadata captured, per spec.md
// §4.5/§7. assistantMsg is nil when SELECT_PROVIDER failed before one
// was created.
func (o *Orchestrator) fallbackSafe(ctx context.Context, sess *domain.Session, userMsg, assistantMsg *domain.Message, correlationID string, turnStart time.Time, coreErr *domain.CoreError, sink Sink, logger *slog.Logger) (*TurnResult, error) {
	logger.Error("turn fell back to safe response", "kind", coreErr.Kind, "error", coreErr.Error())

	resp := safety.SafeResponse(coreErr)
	responseTimeMs := o.clock.Now().Sub(turnStart).Milliseconds()

	if assistantMsg == nil {
		assistantMsg = &domain.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Status:    domain.StatusStreaming,
			Role:      domain.RoleAssistant,
			Metadata:  domain.MessageMetadata{CorrelationID: correlationID},
			CreatedAt: o.clock.Now(),
		}
		if err := o.messages.Create(ctx, assistantMsg); err != nil {
			return nil, fmt.Errorf("create fallback assistant message: %w", err)
		}
	}

	assistantMsg.Content = resp.Text
	assistantMsg.Status = domain.StatusCompleted
	assistantMsg.Metadata.TokenCount = domain.EstimateTokens(resp.Text)
	assistantMsg.Metadata.ResponseTimeMs = responseTimeMs
	assistantMsg.Metadata.StreamingComplete = true
	assistantMsg.Error = &domain.MessageError{Message: coreErr.Error(), Code: resp.ErrorType, Retryable: resp.Retryable}

	changed, err := o.messages.CompareAndSetStatus(ctx, assistantMsg.ID, domain.StatusStreaming, assistantMsg)
	if err != nil {
		return nil, fmt.Errorf("finalize fallback assistant message: %w", err)
	}
	if changed {
		now := o.clock.Now()
		tokens := int64(assistantMsg.Metadata.TokenCount)
		if err := o.context.RecordAssistantTokens(ctx, sess, tokens, now); err != nil {
			logger.Warn("update session context tokens failed", "error", err)
		}
		if err := o.users.ApplyTurnUsage(ctx, sess.UserID, tokens, now); err != nil {
			logger.Warn("update user usage failed", "error", err)
		}
	}

	sink.EmitToken(assistantMsg.ID, resp.Text)
	sink.EmitDone(assistantMsg.ID, llm.Usage{}, responseTimeMs, true)
	o.metrics.Inc("turn_fallback", map[string]string{"kind": string(coreErr.Kind)})

	return &TurnResult{Outcome: OutcomeFallback, UserMessage: userMsg, AssistantMessage: assistantMsg, CoreErr: coreErr}, nil
}
