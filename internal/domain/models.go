package domain

import "time"

// Roles a Message can carry. RoleSummary replaces a contiguous run of
// user/assistant messages once a session crosses the summarisation threshold.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleSummary   = "summary"
)

// Message status lifecycle: pending -> streaming -> completed|error|cancelled.
const (
	StatusPending   = "pending"
	StatusStreaming = "streaming"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Quotas bound a user's daily spend against the core.
type Quotas struct {
	DailyTokenLimit   int64
	DailyRequestLimit int64
	ResetDate         time.Time
}

// Usage tracks a user's lifetime and daily consumption.
type Usage struct {
	TotalTokens    int64
	TotalRequests  int64
	DailyTokens    int64
	DailyRequests  int64
	LastRequestAt  time.Time
}

// Preferences are the per-user defaults applied to new sessions.
type Preferences struct {
	Provider     string
	Model        string
	Temperature  float64
	SystemPrompt string
}

// User is the principal the core receives already-authenticated.
type User struct {
	ID          string
	Role        string
	Preferences Preferences
	Usage       Usage
	Quotas      Quotas
}

// HasExceededQuotas reports whether the user's daily counters are over
// their configured limits, rolling the day over first if it has elapsed.
func (u *User) HasExceededQuotas(now time.Time) bool {
	u.maybeResetDaily(now)
	if u.Quotas.DailyTokenLimit > 0 && u.Usage.DailyTokens >= u.Quotas.DailyTokenLimit {
		return true
	}
	if u.Quotas.DailyRequestLimit > 0 && u.Usage.DailyRequests >= u.Quotas.DailyRequestLimit {
		return true
	}
	return false
}

// maybeResetDaily zeroes the daily counters once the reset date has passed.
func (u *User) maybeResetDaily(now time.Time) {
	if u.Quotas.ResetDate.IsZero() || now.After(u.Quotas.ResetDate) {
		u.Usage.DailyTokens = 0
		u.Usage.DailyRequests = 0
		u.Quotas.ResetDate = startOfNextUTCDay(now)
	}
}

func startOfNextUTCDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// Settings hold per-session generation parameters.
type Settings struct {
	Temperature float64
	MaxTokens   int
}

// SessionContext is the bounded-budget bookkeeping for one session.
type SessionContext struct {
	TotalTokens      int64
	MessageCount     int
	LastSummarisedAt time.Time
	SummaryHash      string
}

// Session is the conversation container owned by exactly one user.
type Session struct {
	ID             string
	UserID         string
	Title          string
	Provider       string
	Model          string
	SystemPrompt   string
	Settings       Settings
	Context        SessionContext
	IsActive       bool
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// MessageError captures a terminal failure attached to an assistant message.
type MessageError struct {
	Message   string
	Code      string
	Retryable bool
}

// MessageUsage mirrors the provider's token accounting for one turn.
type MessageUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// MessageMetadata carries everything about a turn beyond its text.
type MessageMetadata struct {
	Provider           string
	Model              string
	TokenCount         int
	Usage              MessageUsage
	ResponseTimeMs     int64
	CorrelationID      string
	IsStreaming        bool
	StreamingComplete  bool
	SafetyFlags        []string
}

// Message is one turn: a user prompt, an assistant reply, a system prompt,
// or a summary that replaces a contiguous user/assistant run.
type Message struct {
	ID        string
	SessionID string
	UserID    string
	Role      string
	Content   string
	Metadata  MessageMetadata
	Status    string
	Error     *MessageError
	CreatedAt time.Time
}

// EstimateTokens is the core's fallback token estimator when a provider
// doesn't report usage: ceil(len(content)/4).
func EstimateTokens(content string) int {
	n := len(content)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
