package safety

import (
	"errors"

	"github.com/nightloom/chatcore/internal/domain"
)

// SafeResponseResult is a canned message plus the taxonomy kind and
// retry guidance the orchestrator attaches to the terminal event.
type SafeResponseResult struct {
	Text      string
	ErrorType string
	Retryable bool
}

var cannedResponses = map[string]string{
	"profanity":        "I can't respond to that kind of language. Could you rephrase your message?",
	"prompt-injection": "I can't follow instructions that try to override my configured behavior.",
	"rate-limit":       "You're sending messages a bit too quickly. Please wait a moment and try again.",
	"validation":       "That message couldn't be processed — please check its length and try again.",
	"provider-error":   "I ran into a problem generating a response. Please try again in a moment.",
	"quota-exceeded":   "You've reached your daily usage limit. It resets at midnight UTC.",
	"default":          "Something went wrong while processing your message. Please try again.",
}

// SafeResponse maps a CoreError (or any error) onto a canned response,
// per spec.md §4.2/§7.
func SafeResponse(err error) SafeResponseResult {
	var ce *domain.CoreError
	if errors.As(err, &ce) {
		errType := errorTypeFor(ce.Kind)
		return SafeResponseResult{
			Text:      cannedText(errType),
			ErrorType: errType,
			Retryable: ce.Kind.Retryable(),
		}
	}
	return SafeResponseResult{Text: cannedResponses["default"], ErrorType: "default", Retryable: true}
}

func errorTypeFor(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindSafetyBlock:
		return "prompt-injection"
	case domain.KindRateLimited:
		return "rate-limit"
	case domain.KindValidation:
		return "validation"
	case domain.KindProviderError:
		return "provider-error"
	case domain.KindQuotaExceeded:
		return "quota-exceeded"
	default:
		return "default"
	}
}

func cannedText(errType string) string {
	if t, ok := cannedResponses[errType]; ok {
		return t
	}
	return cannedResponses["default"]
}
