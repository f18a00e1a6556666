package safety

import (
	"regexp"
	"strings"

	"github.com/nightloom/chatcore/internal/config"
)

// ScreenResult is the outcome of screenInbound/screenOutbound.
type ScreenResult struct {
	Flagged    bool
	Flags      []string
	Confidence float64
}

var profanityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfuck(ing|er)?\b`),
	regexp.MustCompile(`(?i)\bshit\b`),
	regexp.MustCompile(`(?i)\bbitch\b`),
	regexp.MustCompile(`(?i)\bc+u+n+t+\b`),
}

var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all|any|previous|above) (previous )?instructions`),
	regexp.MustCompile(`(?i)disregard (your|all|the) (system )?prompt`),
	regexp.MustCompile(`(?i)you are now (in )?(developer|dan|jailbreak) mode`),
	regexp.MustCompile(`(?i)override (all )?safety (protocols|rules|guidelines)`),
	regexp.MustCompile(`(?i)reveal (your|the) system prompt`),
}

var harmfulContentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhow to (make|build|synthesize) a (bomb|explosive|weapon)\b`),
	regexp.MustCompile(`(?i)\bstep[- ]by[- ]step (guide|instructions) to (kill|harm|poison)\b`),
}

var sensitiveDataPatterns = []*regexp.Regexp{
	// Credit-card-like: 13-19 digits, optionally grouped by spaces/dashes.
	regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
	// SSN-like.
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// Email.
	regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	// Phone-like.
	regexp.MustCompile(`\b(\+?\d{1,2}[ .\-]?)?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`),
}

// ScreenInbound runs the profanity list and prompt-injection patterns
// against user content, per spec.md §4.2. Short messages bypass the
// screen entirely — a deliberate false-negative bias for latency.
func ScreenInbound(text string) ScreenResult {
	if len(text) < config.ShortMessageBypassLen && !containsIgnoreToken(text) {
		return ScreenResult{}
	}

	var flags []string
	var hits int

	for _, p := range profanityPatterns {
		if p.MatchString(text) {
			flags = append(flags, "profanity")
			hits++
			break
		}
	}
	for _, p := range promptInjectionPatterns {
		if p.MatchString(text) {
			flags = append(flags, "prompt-injection")
			hits += 3
			break
		}
	}

	if hits == 0 {
		return ScreenResult{}
	}

	confidence := float64(hits) / 3.0
	if confidence > 1.0 {
		confidence = 1.0
	}
	return ScreenResult{Flagged: true, Flags: flags, Confidence: confidence}
}

// ScreenOutbound scans provider text for PII-like and harmful-content
// patterns, per spec.md §4.2.
func ScreenOutbound(text string) ScreenResult {
	var flags []string

	for _, p := range sensitiveDataPatterns {
		if p.MatchString(text) {
			flags = append(flags, "sensitive-data")
			break
		}
	}
	for _, p := range harmfulContentPatterns {
		if p.MatchString(text) {
			flags = append(flags, "harmful-content")
			break
		}
	}

	return ScreenResult{Flagged: len(flags) > 0, Flags: flags}
}

// containsIgnoreToken is a cheap pre-check so messages carrying an
// injection attempt don't slip under the short-message bypass just
// because they happen to be short.
func containsIgnoreToken(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "ignore") || strings.Contains(lower, "system prompt")
}
