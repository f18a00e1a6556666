package llm

import (
	"context"
	"testing"
)

type stubAdapter struct {
	name    string
	working bool
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) StreamChat(ctx context.Context, messages []Message, systemPrompt string, opts Options) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent, 1)
	close(out)
	return out, nil
}

func (s *stubAdapter) Complete(ctx context.Context, messages []Message, systemPrompt string, opts Options) (Result, error) {
	return Result{}, nil
}

func (s *stubAdapter) TestConnection(ctx context.Context) ConnectionStatus {
	return ConnectionStatus{Success: s.working, Name: s.name}
}

func TestRegistryGetIsDirectLookupWithNoProbe(t *testing.T) {
	r := New("openai")
	r.Register(&stubAdapter{name: "openai", working: false})

	a, ok := r.Get("openai")
	if !ok || a.Name() != "openai" {
		t.Fatalf("expected Get to return the registered adapter regardless of health")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("expected Get to report unregistered names as absent")
	}
}

func TestGetWorkingFallsBackThroughPreferredDefaultMock(t *testing.T) {
	r := New("openai")
	r.Register(&stubAdapter{name: "openai", working: false})
	r.Register(&stubAdapter{name: "gemini", working: false})
	r.Register(&stubAdapter{name: "mock", working: true})

	a, err := r.GetWorking(context.Background(), "gemini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "mock" {
		t.Fatalf("expected fallback to reach mock, got %q", a.Name())
	}
}

func TestGetWorkingPrefersHealthyPreferredProvider(t *testing.T) {
	r := New("mock")
	r.Register(&stubAdapter{name: "mock", working: true})
	r.Register(&stubAdapter{name: "openai", working: true})

	a, err := r.GetWorking(context.Background(), "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "openai" {
		t.Fatalf("expected preferred healthy provider to win, got %q", a.Name())
	}
}

func TestGetWorkingReturnsErrorWhenNothingHealthy(t *testing.T) {
	r := New("openai")
	r.Register(&stubAdapter{name: "openai", working: false})
	r.Register(&stubAdapter{name: "mock", working: false})

	if _, err := r.GetWorking(context.Background(), ""); err == nil {
		t.Fatalf("expected an error when no registered adapter is healthy")
	}
}

func TestNamesReturnsEveryRegisteredAdapter(t *testing.T) {
	r := New("mock")
	r.Register(&stubAdapter{name: "mock"})
	r.Register(&stubAdapter{name: "openai"})

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 registered names, got %v", names)
	}
}
