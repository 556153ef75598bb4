package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus represents the lifecycle state of a backtest run
type RunStatus string

const (
	RunStatusDraft     RunStatus = "DRAFT"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further transitions may leave this status
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// BacktestConfig holds the immutable configuration of a backtest run.
// Once the run leaves DRAFT the config is never mutated.
type BacktestConfig struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Strategy       string                 `json:"strategy"`
	StartDate      time.Time              `json:"start_date"`
	EndDate        time.Time              `json:"end_date"`
	InitialCapital decimal.Decimal        `json:"initial_capital"`
	Parameters     map[string]interface{} `json:"parameters"`
}

// BacktestRun wraps one BacktestConfig with its mutable run state.
// Runs are append-only history: superseded runs get new IDs, old runs
// are never deleted.
type BacktestRun struct {
	Config      BacktestConfig  `json:"config"`
	Status      RunStatus       `json:"status"`
	Progress    float64         `json:"progress"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      *BacktestResult `json:"result,omitempty"`
}

// Clone returns a deep-enough copy for read-model snapshots: the copy
// shares the immutable config and result but detaches the run header so
// readers never observe engine writes in place.
func (r *BacktestRun) Clone() *BacktestRun {
	cp := *r
	return &cp
}

// CreateBacktestRequest represents the input parameters for a new backtest
type CreateBacktestRequest struct {
	Name           string                 `json:"name"`
	Strategy       string                 `json:"strategy" binding:"required"`
	StartDate      time.Time              `json:"start_date" binding:"required"`
	EndDate        time.Time              `json:"end_date" binding:"required"`
	InitialCapital decimal.Decimal        `json:"initial_capital" binding:"required"`
	Parameters     map[string]interface{} `json:"parameters"`
}
