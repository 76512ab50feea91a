package core

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - centralized error definitions
var (
	// Fatal pre-check errors, raised before any model is fit
	ErrMissingColumn    = errors.New("required column missing from dataset")
	ErrZeroVariance     = errors.New("zero variance among complete cases")
	ErrInsufficientData = errors.New("insufficient data for analysis")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid analysis configuration")

	// Per-feature fit errors: recovered at the feature boundary,
	// reported in-band on the result row, never as a batch-level error
	ErrFitFailed = errors.New("model fit failed")
)

// Error constructors with context

// NewMissingColumnError reports every missing column at once, not just the first.
func NewMissingColumnError(names []string) error {
	return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(names, ", "))
}

// NewZeroVarianceError reports every zero-variance column at once.
func NewZeroVarianceError(names []string) error {
	return fmt.Errorf("%w: %s", ErrZeroVariance, strings.Join(names, ", "))
}

func NewConfigError(setting string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, setting, reason)
}

func NewFitError(reason string) error {
	return fmt.Errorf("%w: %s", ErrFitFailed, reason)
}

// Error checking helpers
func IsMissingColumnError(err error) bool {
	return errors.Is(err, ErrMissingColumn)
}

func IsZeroVarianceError(err error) bool {
	return errors.Is(err, ErrZeroVariance)
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

func IsFitError(err error) bool {
	return errors.Is(err, ErrFitFailed)
}
