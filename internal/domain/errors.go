package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline. Callers match them with errors.Is.
var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrValidation        = errors.New("validation error")
	ErrMissingMarketData = errors.New("missing market data")
	ErrInfeasible        = errors.New("infeasible")
	ErrSolverFailure     = errors.New("solver failure")
)

// MissingMarketDataError names the asset and the piece of market data that is absent
type MissingMarketDataError struct {
	AssetID string
	What    string
}

// NewMissingMarketDataError returns a MissingMarketDataError
func NewMissingMarketDataError(assetID, what string) error {
	return &MissingMarketDataError{AssetID: assetID, What: what}
}

func (e *MissingMarketDataError) Error() string {
	return fmt.Sprintf("missing market data: no %s for %q", e.What, e.AssetID)
}

func (e *MissingMarketDataError) Unwrap() error {
	return ErrMissingMarketData
}

// Validationf wraps ErrValidation with a formatted message
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InsufficientDataf wraps ErrInsufficientData with a formatted message
func InsufficientDataf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInsufficientData, fmt.Sprintf(format, args...))
}

// Infeasiblef wraps ErrInfeasible with a formatted message
func Infeasiblef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInfeasible, fmt.Sprintf(format, args...))
}

// SolverFailuref wraps ErrSolverFailure with a formatted message
func SolverFailuref(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSolverFailure, fmt.Sprintf(format, args...))
}
