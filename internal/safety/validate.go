// Package safety implements the Safety Gate of spec.md §4.2: schema
// validation via validator/v10 struct tags, plus hand-rolled regexp
// content screens. Grounded on the teacher's go.mod, which already pulls
// go-playground/validator transitively through gin; SPEC_FULL.md promotes
// it to a direct dependency for exactly this purpose.
package safety

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nightloom/chatcore/internal/config"
	"github.com/nightloom/chatcore/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// MessageInput is the schema validateMessage checks, per spec.md §4.2.
type MessageInput struct {
	Content   string `validate:"required,min=1,max=4000"`
	Role      string `validate:"required,oneof=user assistant system"`
	SessionID string `validate:"required,uuid4"`
}

// SessionCreateInput is the schema validateSessionCreate checks.
type SessionCreateInput struct {
	Provider     string  `validate:"required"`
	Model        string  `validate:"omitempty"`
	Temperature  float64 `validate:"gte=0,lte=2"`
	MaxTokens    int     `validate:"gte=1,lte=4000"`
	SystemPrompt string  `validate:"max=2000"`
}

// Gate bundles schema validation with the content screens below.
type Gate struct {
	inboundThreshold float64
}

// New constructs a Gate using the configured inbound confidence threshold.
func New(cfg *config.Config) *Gate {
	threshold := config.SafetyInboundConfidenceThresholdDefault
	if cfg != nil && cfg.SafetyInboundConfidenceThreshold > 0 {
		threshold = cfg.SafetyInboundConfidenceThreshold
	}
	return &Gate{inboundThreshold: threshold}
}

// InboundThreshold returns the configured confidence threshold above
// which screenInbound's verdict blocks admission (spec.md §4.2).
func (g *Gate) InboundThreshold() float64 {
	return g.inboundThreshold
}

// ValidateMessage checks MessageInput's schema and returns a
// domain.CoreError of kind validation on failure.
func (g *Gate) ValidateMessage(in MessageInput) error {
	if err := validate.Struct(in); err != nil {
		return domain.NewCoreError(domain.KindValidation, fmt.Sprintf("invalid message: %s", describe(err)), err)
	}
	return nil
}

// ValidateSessionCreate checks SessionCreateInput's schema, plus the
// closed provider set from config.KnownProviders.
func (g *Gate) ValidateSessionCreate(in SessionCreateInput) error {
	if !config.KnownProviders[in.Provider] {
		return domain.NewCoreError(domain.KindValidation, fmt.Sprintf("unknown provider %q", in.Provider), nil)
	}
	if err := validate.Struct(in); err != nil {
		return domain.NewCoreError(domain.KindValidation, fmt.Sprintf("invalid session settings: %s", describe(err)), err)
	}
	return nil
}

func describe(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
	return err.Error()
}
