package agent

import (
	"context"
	"fmt"
)

type validationModel interface {
	ValidateCypher(ctx context.Context, schema, query string) (bool, string, error)
}

// LLMValidator performs a syntax-and-schema check before execution. The
// rejection reason is passed through untouched so the generator sees exactly
// what the validator said.
type LLMValidator struct {
	model validationModel
}

func NewLLMValidator(model validationModel) *LLMValidator {
	return &LLMValidator{model: model}
}

func (v *LLMValidator) Validate(ctx context.Context, schema, query string) (ValidationOutcome, error) {
	valid, reason, err := v.model.ValidateCypher(ctx, schema, query)
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return ValidationOutcome{Valid: valid, Reason: reason}, nil
}
