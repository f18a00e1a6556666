package llm

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMockAdapterStreamChatEmitsTokensThenDone(t *testing.T) {
	m := &MockAdapter{ChunkDelay: 0}
	events, err := m.StreamChat(context.Background(), []Message{{Role: "user", Content: "hello there"}}, "", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tokens []string
	var done *Result
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		if ev.Token != "" {
			tokens = append(tokens, ev.Token)
			continue
		}
		if ev.Done != nil {
			done = ev.Done
		}
	}

	if done == nil {
		t.Fatalf("expected a terminal Done event")
	}
	if len(tokens) == 0 {
		t.Fatalf("expected at least one non-empty token before Done")
	}
	if !strings.Contains(done.Text, "hello there") {
		t.Fatalf("expected mock reply to quote the input, got %q", done.Text)
	}
}

func TestMockAdapterStreamChatCancelledContextEndsInErr(t *testing.T) {
	m := &MockAdapter{ChunkDelay: 20 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	events, err := m.StreamChat(ctx, []Message{{Role: "user", Content: "a long enough message to chunk"}}, "", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancel()

	var sawErr bool
	for ev := range events {
		if ev.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatalf("expected cancellation to surface as a terminal Err event")
	}
}

func TestMockAdapterTestConnectionAlwaysSucceeds(t *testing.T) {
	m := NewMockAdapter()
	status := m.TestConnection(context.Background())
	if !status.Success || status.Name != "mock" {
		t.Fatalf("expected mock adapter health check to always succeed, got %+v", status)
	}
}
