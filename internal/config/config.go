package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration, bound from the environment at
// startup. It covers the knobs named in spec.md §6 plus connection,
// auth, provider-credential and default-quota settings.
type Config struct {
	// Core
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL"`
	AuthSecret  string `env:"AUTH_SECRET,required"`

	// Providers
	DefaultProvider  string `env:"DEFAULT_PROVIDER" envDefault:"mock"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
	CompatAPIKey     string `env:"COMPAT_API_KEY"`
	CompatBaseURL    string `env:"COMPAT_BASE_URL"`
	CompatName       string `env:"COMPAT_PROVIDER_NAME" envDefault:"compat"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	SummaryProvider  string `env:"SUMMARY_PROVIDER" envDefault:"mock"`
	SummaryModel     string `env:"SUMMARY_MODEL"`

	// Session / context bookkeeping
	SessionTTLDays                    int `env:"SESSION_TTL_DAYS" envDefault:"30"`
	MaxContextTokens                  int `env:"MAX_CONTEXT_TOKENS" envDefault:"8000"`
	SummarisationThreshold            int `env:"SUMMARISATION_THRESHOLD" envDefault:"6000"`
	SummarisationRecentWindowMinutes  int `env:"SUMMARISATION_RECENT_WINDOW_MINUTES" envDefault:"30"`

	// Rate limits
	RateLimitWindowMs         int `env:"RATE_LIMIT_WINDOW_MS" envDefault:"900000"`
	RateLimitMaxRequests      int `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"300"`
	ChatRateLimitMaxRequests  int `env:"CHAT_RATE_LIMIT_MAX_REQUESTS" envDefault:"50"`

	// Safety
	SafetyInboundConfidenceThreshold float64 `env:"SAFETY_INBOUND_CONFIDENCE_THRESHOLD" envDefault:"0.95"`

	// Quotas (applied to users with no explicit override)
	DefaultDailyTokenLimit   int64 `env:"DEFAULT_DAILY_TOKEN_LIMIT" envDefault:"200000"`
	DefaultDailyRequestLimit int64 `env:"DEFAULT_DAILY_REQUEST_LIMIT" envDefault:"500"`
}

// Load parses Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
