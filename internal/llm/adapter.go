// Package llm holds the Provider Registry of spec.md §4.3: the adapter
// contract, concrete adapters, and the fallback-selecting Registry.
//
// Design Note §9 replaces the source's onToken/onDone/onError callbacks
// with a typed push channel: the sender is owned by the adapter goroutine,
// the receiver by the orchestrator, and StreamEvent's Done/Err fields are
// the terminal frame the orchestrator drains for.
package llm

import (
	"context"
	"time"
)

// Message is one entry of the conversation the adapter sees.
type Message struct {
	Role    string
	Content string
}

// Options narrows per-turn generation parameters, a subset of
// domain.Settings plus an optional model override (spec.md §4.3).
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Usage mirrors the provider's token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the adapter contract's closed return type (Design Note §9:
// "use a tagged result type with required fields").
type Result struct {
	Text  string
	Usage Usage
	ID    string
	Model string
}

// StreamEvent is one frame on the push channel StreamChat returns. Exactly
// one of Token, Done, or Err is set per spec.md §4.3's streaming
// guarantees; Done/Err are always the last frame sent before the channel
// closes.
type StreamEvent struct {
	Token string
	Done  *Result
	Err   error
}

// ConnectionStatus is testConnection's result.
type ConnectionStatus struct {
	Success bool
	Name    string
	Error   string
}

// Adapter is the normative streaming contract every provider implements.
type Adapter interface {
	Name() string
	// StreamChat streams tokens for the given conversation. The channel is
	// closed after exactly one terminal StreamEvent (Done or Err set).
	StreamChat(ctx context.Context, messages []Message, systemPrompt string, opts Options) (<-chan StreamEvent, error)
	// Complete performs a single-shot, non-streaming completion — used by
	// the Context Manager's summariser, which never needs token-by-token
	// delivery.
	Complete(ctx context.Context, messages []Message, systemPrompt string, opts Options) (Result, error)
	// TestConnection must return within ~1s; the orchestrator never calls
	// it on the per-turn critical path (spec.md §4.3).
	TestConnection(ctx context.Context) ConnectionStatus
}

// testConnectionBudget is the soft deadline TestConnection implementations
// should respect.
const testConnectionBudget = 1 * time.Second
