package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUnavailable = errors.New("store unavailable")

func TestCheckRequestAdmitsUpToMax(t *testing.T) {
	l := New(nil, nil, nil)
	ctx := context.Background()
	key := "user:1"

	var admitted int
	for i := 0; i < 10; i++ {
		d := l.CheckRequest(ctx, key, time.Minute, 5)
		if d.Allowed {
			admitted++
		}
	}

	if admitted != 5 {
		t.Fatalf("expected 5 admitted requests, got %d", admitted)
	}
}

func TestCheckRequestSlidingWindowExpires(t *testing.T) {
	l := New(nil, nil, nil)
	ctx := context.Background()
	key := "user:2"

	for i := 0; i < 3; i++ {
		if !l.CheckRequest(ctx, key, 10*time.Millisecond, 3).Allowed {
			t.Fatalf("expected request %d to be admitted", i)
		}
	}
	if l.CheckRequest(ctx, key, 10*time.Millisecond, 3).Allowed {
		t.Fatalf("expected 4th request within window to be rejected")
	}

	time.Sleep(20 * time.Millisecond)

	if !l.CheckRequest(ctx, key, 10*time.Millisecond, 3).Allowed {
		t.Fatalf("expected request after window expiry to be admitted")
	}
}

func TestCheckTokensChargesOnlyWhenAllowed(t *testing.T) {
	l := New(nil, nil, nil)
	ctx := context.Background()
	key := "tokens:1"

	d := l.CheckTokens(ctx, key, time.Minute, 80, 100)
	if !d.Allowed || d.Current != 80 {
		t.Fatalf("expected first charge to be admitted with current=80, got %+v", d)
	}

	d = l.CheckTokens(ctx, key, time.Minute, 30, 100)
	if d.Allowed {
		t.Fatalf("expected second charge exceeding budget to be rejected")
	}
	if d.Current != 80 {
		t.Fatalf("expected rejected charge to not mutate the counter, got current=%d", d.Current)
	}
}

type brokenStore struct{}

func (brokenStore) checkRequest(context.Context, string, time.Duration, int64) (Decision, error) {
	return Decision{}, errUnavailable
}

func (brokenStore) checkTokens(context.Context, string, time.Duration, int64, int64) (Decision, error) {
	return Decision{}, errUnavailable
}

func (brokenStore) close() error { return nil }

func TestCheckRequestFallsBackWhenPrimaryFails(t *testing.T) {
	l := New(nil, nil, nil)
	l.primary = brokenStore{}

	d := l.CheckRequest(context.Background(), "user:3", time.Minute, 5)
	if !d.Allowed {
		t.Fatalf("expected fallback store to still admit the request, got %+v", d)
	}
}
