package domain

import (
	"testing"
	"time"
)

func TestEstimateTokensRoundsUp(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefgh", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.content); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.content, got, tc.want)
		}
	}
}

func TestHasExceededQuotasResetsOnNewDay(t *testing.T) {
	u := &User{
		Usage:  Usage{DailyTokens: 100, DailyRequests: 5},
		Quotas: Quotas{DailyTokenLimit: 100, DailyRequestLimit: 10, ResetDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	if !u.HasExceededQuotas(time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected quota to be exceeded before reset")
	}

	if u.HasExceededQuotas(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected daily counters to roll over past the reset date")
	}
	if u.Usage.DailyTokens != 0 || u.Usage.DailyRequests != 0 {
		t.Fatalf("expected counters zeroed after rollover, got %+v", u.Usage)
	}
}

func TestHasExceededQuotasIgnoresUnlimitedZeroValue(t *testing.T) {
	u := &User{Usage: Usage{DailyTokens: 999999}, Quotas: Quotas{}}
	if u.HasExceededQuotas(time.Now()) {
		t.Fatalf("expected a zero-value limit to mean unlimited")
	}
}
