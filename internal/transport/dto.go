package transport

import (
	"time"

	"github.com/nightloom/chatcore/internal/domain"
)

type createSessionRequest struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"systemPrompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
}

type sessionResponse struct {
	SessionID    string   `json:"sessionId"`
	Title        string   `json:"title"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt"`
	Settings     settings `json:"settings"`
	IsActive     bool     `json:"isActive"`
}

type settings struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

func toSessionResponse(sess *domain.Session) sessionResponse {
	return sessionResponse{
		SessionID:    sess.ID,
		Title:        sess.Title,
		Provider:     sess.Provider,
		Model:        sess.Model,
		SystemPrompt: sess.SystemPrompt,
		Settings:     settings{Temperature: sess.Settings.Temperature, MaxTokens: sess.Settings.MaxTokens},
		IsActive:     sess.IsActive,
	}
}

type messageRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Provider  string `json:"provider"`
}

type messageResponse struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Status    string          `json:"status"`
	Metadata  messageMetaResp `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
}

type messageMetaResp struct {
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
	TokenCount     int    `json:"tokenCount"`
	ResponseTimeMs int64  `json:"responseTimeMs,omitempty"`
}

func toMessageResponse(m *domain.Message) messageResponse {
	if m == nil {
		return messageResponse{}
	}
	return messageResponse{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      m.Role,
		Content:   m.Content,
		Status:    m.Status,
		Metadata: messageMetaResp{
			Provider:       m.Metadata.Provider,
			Model:          m.Metadata.Model,
			TokenCount:     m.Metadata.TokenCount,
			ResponseTimeMs: m.Metadata.ResponseTimeMs,
		},
		CreatedAt: m.CreatedAt,
	}
}

// sseFrame is the JSON payload of every `data: …` line, per spec.md
// §4.6. Only the fields that belong to the frame's Type are set; the
// rest are omitted from the JSON.
type sseFrame struct {
	Type         string      `json:"type"`
	Content      string      `json:"content,omitempty"`
	MessageID    string      `json:"messageId,omitempty"`
	Usage        interface{} `json:"usage,omitempty"`
	ResponseTime int64       `json:"responseTime,omitempty"`
	Message      string      `json:"message,omitempty"`
	Retryable    bool        `json:"retryable,omitempty"`
	SessionID    string      `json:"sessionId,omitempty"`
}
