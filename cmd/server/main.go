// Command server runs the chat orchestration core's HTTP and websocket
// surface, grounded on the teacher's cmd/bot/main.go for the
// structured-logging / signal-driven graceful shutdown / background
// sweep idiom, translated from a long-lived Telegram bot process onto a
// long-lived HTTP server.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	chatcore "github.com/nightloom/chatcore"
	"github.com/nightloom/chatcore/internal/chat"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/contextmgr"
	"github.com/nightloom/chatcore/internal/llm"
	"github.com/nightloom/chatcore/internal/metrics"
	"github.com/nightloom/chatcore/internal/ratelimit"
	"github.com/nightloom/chatcore/internal/safety"
	"github.com/nightloom/chatcore/internal/storage"
	"github.com/nightloom/chatcore/internal/transport"
)

// drainWindow bounds how long shutdown waits for in-flight turns to
// reach a terminal state, per spec.md §5's teardown sequence.
const drainWindow = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrationsFS, err := fs.Sub(chatcore.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := storage.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	metricsSink := metrics.NewLogging(logger)
	limiter := buildLimiter(ctx, cfg, metricsSink, logger)
	defer limiter.Close()

	gate := safety.New(cfg)

	users := storage.NewUserStore(pool)
	sessions := storage.NewSessionStore(pool)
	messages := storage.NewMessageStore(pool)

	registry := buildRegistry(cfg)

	summaryAdapter, ok := registry.Get(cfg.SummaryProvider)
	if !ok {
		slog.Warn("summary provider not registered, falling back to mock", "provider", cfg.SummaryProvider)
		summaryAdapter, _ = registry.Get("mock")
	}
	contextMgr := contextmgr.New(sessions, messages, summaryAdapter, nil, cfg, metricsSink, logger)

	orchestrator := chat.New(users, sessions, messages, contextMgr, registry, limiter, gate, nil, cfg, metricsSink, logger)

	srv := transport.New(orchestrator, sessions, messages, contextMgr, gate, limiter, cfg, logger)

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: srv.Engine(),
	}

	startSweeps(ctx, users, sessions, messages, cfg, logger)

	go func() {
		slog.Info("starting http server", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight turns", "window", drainWindow)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainWindow)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped gracefully")
}

// buildLimiter wires a Redis-backed store behind the Limiter when
// REDIS_URL is reachable, falling back to the in-process store alone
// otherwise — spec.md §4.1's documented fail-open behavior extended to
// the startup path itself.
func buildLimiter(ctx context.Context, cfg *config.Config, m metrics.Sink, logger *slog.Logger) *ratelimit.Limiter {
	if cfg.RedisURL == "" {
		return ratelimit.New(nil, m, logger)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, falling back to in-process rate limiting", "error", err)
		return ratelimit.New(nil, m, logger)
	}
	return ratelimit.New(ratelimit.NewRedisStore(client), m, logger)
}

// buildRegistry registers every provider adapter whose credentials are
// configured, plus the always-available mock adapter, per spec.md
// §4.3's "mock adapter for tests/fallback" requirement.
func buildRegistry(cfg *config.Config) *llm.Registry {
	registry := llm.New(cfg.DefaultProvider)
	registry.Register(llm.NewMockAdapter())

	if cfg.OpenAIAPIKey != "" {
		registry.Register(llm.NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, ""))
	}
	if cfg.CompatAPIKey != "" && cfg.CompatBaseURL != "" {
		registry.Register(llm.NewCompatAdapter(cfg.CompatName, cfg.CompatAPIKey, cfg.CompatBaseURL, ""))
	}
	if cfg.GeminiAPIKey != "" {
		registry.Register(llm.NewGeminiAdapter(cfg.GeminiAPIKey, cfg.SummaryModel))
	}
	return registry
}

// startSweeps launches the background maintenance loops of SPEC_FULL.md
// §5: stale-turn repair, session TTL expiry, and daily quota rollover.
func startSweeps(ctx context.Context, users *storage.UserStore, sessions *storage.SessionStore, messages *storage.MessageStore, cfg *config.Config, logger *slog.Logger) {
	go sweepLoop(ctx, config.StaleTurnSweepInterval, logger, "stale_turn_sweep", func(now time.Time) error {
		cutoff := now.Add(-config.TurnWallClockTimeout)
		n, err := messages.MarkStaleStreamingAsError(ctx, cutoff)
		if err == nil && n > 0 {
			logger.Info("repaired stale streaming messages", "count", n)
		}
		return err
	})

	go sweepLoop(ctx, config.SessionTTLSweepInterval, logger, "session_ttl_sweep", func(now time.Time) error {
		cutoff := now.AddDate(0, 0, -cfg.SessionTTLDays)
		n, err := sessions.DeactivateExpired(ctx, cutoff)
		if err == nil && n > 0 {
			logger.Info("deactivated expired sessions", "count", n)
		}
		return err
	})

	go sweepLoop(ctx, config.QuotaResetSweepInterval, logger, "quota_reset_sweep", func(now time.Time) error {
		n, err := users.ResetAllElapsed(ctx, now)
		if err == nil && n > 0 {
			logger.Info("reset elapsed daily quotas", "count", n)
		}
		return err
	})
}

func sweepLoop(ctx context.Context, interval time.Duration, logger *slog.Logger, name string, run func(now time.Time) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := run(t); err != nil {
				logger.Error("sweep failed", "sweep", name, "error", err)
			}
		}
	}
}

