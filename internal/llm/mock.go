package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MockAdapter always succeeds; it is the last-resort fallback and the
// reference implementation for contract testing (spec.md §4.3).
// Grounded on mestarz-agentic's MockLLM, generalised to the Result/
// StreamEvent contract and parameterised by a configurable inter-chunk
// delay instead of a hardcoded sleep.
type MockAdapter struct {
	ChunkDelay time.Duration
}

// NewMockAdapter constructs a MockAdapter with a small default
// inter-chunk delay, simulating the "no native streaming" chunking rule
// every non-streaming adapter must honour.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{ChunkDelay: 5 * time.Millisecond}
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) StreamChat(ctx context.Context, messages []Message, systemPrompt string, opts Options) (<-chan StreamEvent, error) {
	text := m.reply(messages)
	out := make(chan StreamEvent)

	go func() {
		defer close(out)
		fragments := strings.Fields(text)
		var sent strings.Builder
		for i, frag := range fragments {
			piece := frag
			if i > 0 {
				piece = " " + frag
			}
			select {
			case <-ctx.Done():
				out <- StreamEvent{Err: ctx.Err()}
				return
			case out <- StreamEvent{Token: piece}:
				sent.WriteString(piece)
			}
			if m.ChunkDelay > 0 {
				time.Sleep(m.ChunkDelay)
			}
		}
		out <- StreamEvent{Done: &Result{
			Text:  sent.String(),
			Usage: Usage{PromptTokens: estimateMessages(messages), CompletionTokens: len(fragments), TotalTokens: estimateMessages(messages) + len(fragments)},
			ID:    uuid.NewString(),
			Model: "mock",
		}}
	}()

	return out, nil
}

func (m *MockAdapter) Complete(ctx context.Context, messages []Message, systemPrompt string, opts Options) (Result, error) {
	text := m.reply(messages)
	return Result{
		Text:  text,
		Usage: Usage{PromptTokens: estimateMessages(messages), CompletionTokens: len(strings.Fields(text)), TotalTokens: estimateMessages(messages) + len(strings.Fields(text))},
		ID:    uuid.NewString(),
		Model: "mock",
	}, nil
}

func (m *MockAdapter) TestConnection(ctx context.Context) ConnectionStatus {
	return ConnectionStatus{Success: true, Name: m.Name()}
}

func (m *MockAdapter) reply(messages []Message) string {
	if len(messages) == 0 {
		return "Hello! How can I help you today?"
	}
	last := messages[len(messages)-1]
	return fmt.Sprintf("This is a mock response to: %q", truncate(last.Content, 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func estimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total
}
