package transport

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nightloom/chatcore/internal/chat"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/domain"
	"github.com/nightloom/chatcore/internal/safety"
)

// handleCreateSession implements POST /chat/session of spec.md §6.
func (s *Server) handleCreateSession(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.Provider == "" {
		req.Provider = s.cfg.DefaultProvider
	}
	if req.Temperature == 0 {
		req.Temperature = config.DefaultTemperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = config.DefaultMaxTokens
	}

	if err := s.gate.ValidateSessionCreate(safety.SessionCreateInput{
		Provider: req.Provider, Model: req.Model, Temperature: req.Temperature,
		MaxTokens: req.MaxTokens, SystemPrompt: req.SystemPrompt,
	}); err != nil {
		respondError(c, err)
		return
	}

	sess := &domain.Session{
		UserID:       principal.UserID,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Settings:     domain.Settings{Temperature: req.Temperature, MaxTokens: req.MaxTokens},
	}
	if err := s.sessions.Create(c.Request.Context(), sess); err != nil {
		respondError(c, fmt.Errorf("create session: %w", err))
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

// handleListSessions implements GET /chat/sessions.
func (s *Server) handleListSessions(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	sessions, total, err := s.sessions.List(c.Request.Context(), principal.UserID, limit, offset)
	if err != nil {
		respondError(c, fmt.Errorf("list sessions: %w", err))
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		resp = append(resp, toSessionResponse(&sessions[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp, "total": total})
}

// handleSessionMessages implements GET /chat/sessions/:sid/messages.
func (s *Server) handleSessionMessages(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}
	sessionID := c.Param("sid")
	sess, err := s.sessions.Get(c.Request.Context(), sessionID, principal.UserID)
	if err != nil {
		respondError(c, domain.NewCoreError(domain.KindNotFound, "session not found", err))
		return
	}

	limit := queryInt(c, "limit", 0)
	rows, err := s.messages.ListBySession(c.Request.Context(), sessionID, limit)
	if err != nil {
		respondError(c, fmt.Errorf("list messages: %w", err))
		return
	}
	resp := make([]messageResponse, 0, len(rows))
	for i := range rows {
		resp = append(resp, toMessageResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "messages": resp, "session": toSessionResponse(sess)})
}

// handleClearContext implements DELETE /chat/sessions/:sid/context.
func (s *Server) handleClearContext(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}
	sessionID := c.Param("sid")
	if _, err := s.sessions.Get(c.Request.Context(), sessionID, principal.UserID); err != nil {
		respondError(c, domain.NewCoreError(domain.KindNotFound, "session not found", err))
		return
	}

	count, err := s.context.Clear(c.Request.Context(), sessionID, true)
	if err != nil {
		respondError(c, fmt.Errorf("clear context: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"cleared": count}})
}

// handleSummarize implements POST /chat/sessions/:sid/summarize.
func (s *Server) handleSummarize(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}
	sessionID := c.Param("sid")
	if _, err := s.sessions.Get(c.Request.Context(), sessionID, principal.UserID); err != nil {
		respondError(c, domain.NewCoreError(domain.KindNotFound, "session not found", err))
		return
	}

	result, err := s.context.Summarise(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, fmt.Errorf("summarize: %w", err))
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"result": gin.H{"summarised": false}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{
		"summarised":         true,
		"messagesSummarised": result.MessagesSummarised,
		"tokensSaved":        result.TokensSaved,
	}})
}

// handleStats implements GET /chat/sessions/:sid/stats.
func (s *Server) handleStats(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}
	sessionID := c.Param("sid")
	sess, err := s.sessions.Get(c.Request.Context(), sessionID, principal.UserID)
	if err != nil {
		respondError(c, domain.NewCoreError(domain.KindNotFound, "session not found", err))
		return
	}

	stats, err := s.context.Stats(c.Request.Context(), sess)
	if err != nil {
		respondError(c, fmt.Errorf("stats: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// handleExport implements GET /chat/sessions/:sid/export.
func (s *Server) handleExport(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}
	sessionID := c.Param("sid")
	sess, err := s.sessions.Get(c.Request.Context(), sessionID, principal.UserID)
	if err != nil {
		respondError(c, domain.NewCoreError(domain.KindNotFound, "session not found", err))
		return
	}
	rows, err := s.messages.ListBySession(c.Request.Context(), sessionID, 0)
	if err != nil {
		respondError(c, fmt.Errorf("export: %w", err))
		return
	}

	format := c.DefaultQuery("format", "json")
	filename := fmt.Sprintf("session-%s.%s", sessionID, format)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if format == "text" {
		c.Header("Content-Type", "text/plain")
		var body string
		for _, m := range rows {
			body += fmt.Sprintf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), m.Role, m.Content)
		}
		c.String(http.StatusOK, body)
		return
	}

	resp := make([]messageResponse, 0, len(rows))
	for i := range rows {
		resp = append(resp, toMessageResponse(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"session": toSessionResponse(sess), "messages": resp})
}

// handleSimpleMessage implements POST /chat/message/simple: the
// non-streaming variant of spec.md §4.6, driving the same orchestrator
// through a buffering transport instead of a live SSE/websocket sink.
func (s *Server) handleSimpleMessage(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated", "missing principal")
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", err.Error())
		return
	}

	sink := &bufferedSink{}
	result, err := s.orchestrator.HandleTurn(c.Request.Context(), principal, req.SessionID, req.Message,
		chat.Options{ProviderOverride: req.Provider}, sink)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Outcome == chat.OutcomeError {
		ce := result.CoreErr
		status, _ := statusFor(ce)
		if ce.RetryAfterSeconds > 0 {
			c.Header("Retry-After", fmt.Sprintf("%d", ce.RetryAfterSeconds))
		}
		body := gin.H{"success": false, "error": ce.Message}
		if len(ce.Flags) > 0 {
			body["flags"] = ce.Flags
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"userMessage":      toMessageResponse(result.UserMessage),
		"assistantMessage": toMessageResponse(result.AssistantMessage),
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
