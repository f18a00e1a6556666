package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nightloom/chatcore/internal/domain"
)

// writeError writes the {error, message} body spec.md §6 requires.
func writeError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{"error": errType, "message": message})
}

// statusFor maps the core's error taxonomy onto the HTTP codes of
// spec.md §6's error table.
func statusFor(err error) (int, string) {
	var ce *domain.CoreError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case domain.KindValidation:
			return http.StatusBadRequest, "validation"
		case domain.KindUnauthenticated:
			return http.StatusUnauthorized, "unauthenticated"
		case domain.KindNotFound:
			return http.StatusNotFound, "not-found"
		case domain.KindQuotaExceeded, domain.KindRateLimited:
			return http.StatusTooManyRequests, string(ce.Kind)
		case domain.KindSafetyBlock:
			return http.StatusBadRequest, "safety-block"
		case domain.KindProviderError:
			return http.StatusServiceUnavailable, "provider-error"
		default:
			return http.StatusInternalServerError, "internal"
		}
	}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound, "not-found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	var ce *domain.CoreError
	if errors.As(err, &ce) {
		respondCoreError(c, ce)
		return
	}
	status, errType := statusFor(err)
	writeError(c, status, errType, err.Error())
}

// respondCoreError renders a *domain.CoreError per spec.md §8's
// per-scenario response shapes: a Retry-After header for quota/rate-limit
// rejections (seconds until the limiter's window resets), and a "flags"
// array alongside the message for a safety-block rejection.
func respondCoreError(c *gin.Context, ce *domain.CoreError) {
	status, _ := statusFor(ce)
	if ce.RetryAfterSeconds > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", ce.RetryAfterSeconds))
	}
	body := gin.H{"error": ce.Message}
	if len(ce.Flags) > 0 {
		body["flags"] = ce.Flags
	}
	c.JSON(status, body)
}
