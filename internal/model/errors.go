package model

import (
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when a backtest run ID is unknown
var ErrRunNotFound = errors.New("backtest run not found")

// ErrChannelNotFound is returned when no live channel matches (kind, key)
var ErrChannelNotFound = errors.New("stream channel not found")

// ValidationError represents a rejected BacktestConfig. It names the
// offending field and the constraint that was violated; the attempted
// operation leaves no state behind.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Constraint)
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, constraint string) *ValidationError {
	return &ValidationError{Field: field, Constraint: constraint}
}

// IllegalTransitionError represents an operation that is not legal in
// the run's current status, e.g. starting a non-DRAFT run. The run is
// left unchanged.
type IllegalTransitionError struct {
	Action string
	From   RunStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a run in status %s", e.Action, e.From)
}

// BufferOverflow is the side-channel notice emitted when an append-type
// buffer evicts its oldest entry. It is a warning, not a failure of the
// write itself.
type BufferOverflow struct {
	Kind    ChannelKind `json:"kind"`
	Key     string      `json:"key"`
	Dropped int         `json:"dropped"`
}
