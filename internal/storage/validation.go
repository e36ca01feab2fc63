// Package storage provides the data persistence layer for the pots application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrInvalidRule  = errors.New("invalid rule")
	ErrInvalidRef   = errors.New("invalid balance reference")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRule validates a rule before it is written.
func validateRule(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

// validateRef ensures a balance reference names an entity kind.
func validateRef(ref model.SourceRef) error {
	if ref.IsZero() {
		return fmt.Errorf("%w: missing kind", ErrInvalidRef)
	}
	if ref.IsPot() && ref.ID == "" {
		return fmt.Errorf("%w: pot without id", ErrInvalidRef)
	}
	return nil
}

// validateResult validates an execution result before it is written.
func validateResult(result *model.ExecutionResult) error {
	if result == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if err := validateString(result.ID, "result.ID"); err != nil {
		return err
	}
	return validateString(result.RuleID, "result.RuleID")
}
