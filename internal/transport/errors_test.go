package transport

import (
	"net/http"
	"testing"

	"github.com/nightloom/chatcore/internal/domain"
)

func TestStatusForMapsCoreErrorKinds(t *testing.T) {
	cases := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindValidation, http.StatusBadRequest},
		{domain.KindUnauthenticated, http.StatusUnauthorized},
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindQuotaExceeded, http.StatusTooManyRequests},
		{domain.KindRateLimited, http.StatusTooManyRequests},
		{domain.KindSafetyBlock, http.StatusBadRequest},
		{domain.KindProviderError, http.StatusServiceUnavailable},
		{domain.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(domain.NewCoreError(tc.kind, "x", nil))
		if got != tc.want {
			t.Errorf("kind %s: status = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestStatusForMapsSentinelsWithoutCoreError(t *testing.T) {
	got, errType := statusFor(domain.ErrSessionNotFound)
	if got != http.StatusNotFound || errType != "not-found" {
		t.Fatalf("got %d/%s, want 404/not-found", got, errType)
	}

	got, errType = statusFor(domain.ErrMessageNotFound)
	if got != http.StatusNotFound || errType != "not-found" {
		t.Fatalf("got %d/%s, want 404/not-found", got, errType)
	}
}
