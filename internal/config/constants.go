package config

import "time"

const (
	// ChatRateLimitWindow is the sliding window for the per-user turn
	// admission check (spec.md §4.5 ADMIT step).
	ChatRateLimitWindow = 15 * time.Minute

	// TokenRateLimitWindow bounds the daily token-budget counter charged
	// during ADMIT alongside the request counter.
	TokenRateLimitWindow = 24 * time.Hour

	// TurnWallClockTimeout is the hard ceiling from admission to terminal
	// event (spec.md §5).
	TurnWallClockTimeout = 120 * time.Second

	// SubscriptionBufferSize is the bounded per-subscription token buffer;
	// beyond this the oldest queued frame is dropped (spec.md §5).
	SubscriptionBufferSize = 1024

	// StaleTurnSweepInterval governs how often the background sweep looks
	// for assistant messages stuck in "streaming" past the turn timeout.
	StaleTurnSweepInterval = 30 * time.Second

	// SessionTTLSweepInterval governs how often idle sessions are
	// deactivated once past SESSION_TTL_DAYS.
	SessionTTLSweepInterval = 1 * time.Hour

	// QuotaResetSweepInterval governs how often the daily-quota rollover
	// sweep runs.
	QuotaResetSweepInterval = 10 * time.Minute

	// ShortMessageBypassLen: inbound content shorter than this bypasses the
	// safety screen entirely (spec.md §4.2's deliberate false-negative bias).
	ShortMessageBypassLen = 500

	// TitleMaxLen is how much of the first user message becomes the
	// session title.
	TitleMaxLen = 50

	// MessageContentMinLen / MessageContentMaxLen bound validateMessage.
	MessageContentMinLen = 1
	MessageContentMaxLen = 4000

	// SystemPromptMaxLen bounds validateSessionCreate.
	SystemPromptMaxLen = 2000

	// TemperatureMin / TemperatureMax bound validateSessionCreate.
	TemperatureMin = 0.0
	TemperatureMax = 2.0

	// SessionMaxTokensMin / SessionMaxTokensMax bound validateSessionCreate.
	SessionMaxTokensMin = 1
	SessionMaxTokensMax = 4000

	// DefaultTemperature / DefaultMaxTokens seed new sessions.
	DefaultTemperature = 1.0
	DefaultMaxTokens   = 1024

	// SafetyInboundConfidenceThresholdDefault is the documented knob for
	// when screenInbound's confidence blocks admission (spec.md §4.2).
	SafetyInboundConfidenceThresholdDefault = 0.95
)

// KnownProviders is the closed set validateSessionCreate checks against.
var KnownProviders = map[string]bool{
	"mock":   true,
	"openai": true,
	"compat": true,
	"gemini": true,
}
