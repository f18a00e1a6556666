// Package metrics defines the narrow collaborator interface the core
// reports observability events to (spec.md §2's "metrics sink" external
// collaborator). No metrics SDK appears anywhere in the retrieved pack, so
// the default implementation is a thin slog-backed counter — see
// DESIGN.md for why this stays on the standard library.
package metrics

import "log/slog"

// Sink receives named counter increments and duration observations. A real
// deployment swaps in a Prometheus/StatsD-backed Sink; the core only ever
// depends on this interface.
type Sink interface {
	Inc(name string, tags map[string]string)
	Observe(name string, ms float64, tags map[string]string)
}

// Noop discards every event. Useful in tests.
type Noop struct{}

func (Noop) Inc(string, map[string]string)          {}
func (Noop) Observe(string, float64, map[string]string) {}

// Logging emits every event as a structured debug log line.
type Logging struct {
	Logger *slog.Logger
}

func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{Logger: logger}
}

func (l *Logging) Inc(name string, tags map[string]string) {
	l.Logger.Debug("metric", "name", name, "tags", tags)
}

func (l *Logging) Observe(name string, ms float64, tags map[string]string) {
	l.Logger.Debug("metric", "name", name, "value_ms", ms, "tags", tags)
}
