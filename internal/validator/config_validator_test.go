package validator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/derivatives-dashboard/internal/model"
)

func validConfig() *model.BacktestConfig {
	return &model.BacktestConfig{
		ID:             "run-1",
		Name:           "test run",
		Strategy:       "DELTA_NEUTRAL_VOLATILITY",
		StartDate:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		InitialCapital: decimal.NewFromInt(1000000),
		Parameters: map[string]interface{}{
			"volatility_threshold": 0.4,
			"rebalance_interval":   "1h",
		},
	}
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation error on %s, got nil", field)
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *model.ValidationError, got %T: %v", err, err)
	}
	if verr.Field != field {
		t.Fatalf("error on field %s, want %s: %v", verr.Field, field, verr)
	}
}

func TestValidateConfigAccepts(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateConfigUnknownStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = "MARTINGALE"
	assertFieldError(t, ValidateConfig(cfg), "strategy")
}

func TestValidateConfigDateOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.StartDate, cfg.EndDate = cfg.EndDate, cfg.StartDate
	assertFieldError(t, ValidateConfig(cfg), "end_date")
}

func TestValidateConfigMissingDates(t *testing.T) {
	cfg := validConfig()
	cfg.StartDate = time.Time{}
	assertFieldError(t, ValidateConfig(cfg), "start_date")

	cfg = validConfig()
	cfg.EndDate = time.Time{}
	assertFieldError(t, ValidateConfig(cfg), "end_date")
}

func TestValidateConfigCapital(t *testing.T) {
	cfg := validConfig()
	cfg.InitialCapital = decimal.Zero
	assertFieldError(t, ValidateConfig(cfg), "initial_capital")

	cfg = validConfig()
	cfg.InitialCapital = decimal.NewFromInt(-5000)
	assertFieldError(t, ValidateConfig(cfg), "initial_capital")
}

func TestValidateConfigUndeclaredParameter(t *testing.T) {
	cfg := validConfig()
	cfg.Parameters["leverage"] = 10.0
	assertFieldError(t, ValidateConfig(cfg), "leverage")
}

func TestValidateConfigNumberRange(t *testing.T) {
	cfg := validConfig()
	cfg.Parameters["volatility_threshold"] = 2.5 // above max 1.0
	assertFieldError(t, ValidateConfig(cfg), "volatility_threshold")

	cfg = validConfig()
	cfg.Parameters["volatility_threshold"] = 0.01 // below min 0.05
	assertFieldError(t, ValidateConfig(cfg), "volatility_threshold")

	cfg = validConfig()
	cfg.Parameters["volatility_threshold"] = "high"
	assertFieldError(t, ValidateConfig(cfg), "volatility_threshold")
}

func TestValidateConfigNumberAcceptsIntegers(t *testing.T) {
	cfg := validConfig()
	cfg.Parameters["max_positions"] = 5
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("integer value for NUMBER parameter rejected: %v", err)
	}
}

func TestValidateConfigEnumMembership(t *testing.T) {
	cfg := validConfig()
	cfg.Parameters["rebalance_interval"] = "2h" // not a declared option
	assertFieldError(t, ValidateConfig(cfg), "rebalance_interval")

	cfg = validConfig()
	cfg.Parameters["rebalance_interval"] = 3600
	assertFieldError(t, ValidateConfig(cfg), "rebalance_interval")
}
