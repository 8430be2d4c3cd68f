package models

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "ensemble-trader/internal/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the snapshot's required fields.
func (s MarketSnapshot) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		return fmt.Errorf("snapshot %q: %w: %w", s.Symbol, apperrors.ErrInputValidation, err)
	}
	return nil
}

// Validate checks vote and confidence bounds.
func (r Recommendation) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		return fmt.Errorf("recommendation from %q validation failed: %w", r.AdvisorID, err)
	}
	return nil
}
