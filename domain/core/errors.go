package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound         = errors.New("resource not found")
	ErrNotebookNotFound = fmt.Errorf("%w: notebook", ErrNotFound)
	ErrFieldNotFound    = fmt.Errorf("%w: field", ErrNotFound)

	// Inference contract errors
	ErrSchemaViolation     = errors.New("inference output violates contract schema")
	ErrPolicyViolation     = errors.New("inference output violates policy")
	ErrUpstreamUnavailable = errors.New("inference service unavailable")
	ErrMissingCredentials  = errors.New("inference credentials missing")
	ErrLowConfidence       = errors.New("inference confidence below threshold")
	ErrStageExhausted      = errors.New("inference stage already issued for this analysis")

	// Statistical errors
	ErrStatisticalInfeasibility = errors.New("chart cannot be rendered readably")
	ErrDataInfeasibility        = errors.New("no field meets the missing-rate threshold")

	// Request errors
	ErrInvalidChartType = errors.New("invalid chart type")
	ErrInvalidRequest   = errors.New("invalid analysis request")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewSchemaViolation(stage string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrSchemaViolation, stage, reason)
}

func NewPolicyViolation(stage string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrPolicyViolation, stage, reason)
}

func NewUpstreamError(stage string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, stage, err)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsContractError(err error) bool {
	return errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrLowConfidence)
}

func IsUpstreamError(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrMissingCredentials)
}
