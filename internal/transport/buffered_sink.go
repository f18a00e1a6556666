package transport

import (
	"strings"
	"sync"

	"github.com/nightloom/chatcore/internal/chat"
	"github.com/nightloom/chatcore/internal/llm"
)

// bufferedSink accumulates a turn's tokens in memory instead of pushing
// them to a client, backing the "simple" non-streaming HTTP variant of
// spec.md §4.6 ("internally it drives the same orchestrator with a
// buffering transport").
type bufferedSink struct {
	mu        sync.Mutex
	text      strings.Builder
	usage     llm.Usage
	errMsg    string
	retryable bool
}

func (b *bufferedSink) EmitToken(_ string, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.WriteString(token)
}

func (b *bufferedSink) EmitDone(_ string, usage llm.Usage, _ int64, _ bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = usage
}

func (b *bufferedSink) EmitError(message string, retryable bool, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errMsg = message
	b.retryable = retryable
}

var _ chat.Sink = (*bufferedSink)(nil)
