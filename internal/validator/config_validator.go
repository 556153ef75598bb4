// Package validator performs semantic validation of backtest
// configurations against the declared strategy parameter schemas.
package validator

import (
	"fmt"

	"github.com/yourorg/derivatives-dashboard/internal/model"
	"github.com/yourorg/derivatives-dashboard/internal/strategy"
)

// ValidateConfig checks a backtest configuration against its strategy's
// parameter schema. On the first violation it returns a
// *model.ValidationError naming the offending field; a nil return means
// the config is safe to run.
func ValidateConfig(cfg *model.BacktestConfig) error {
	strat, err := strategy.Get(cfg.Strategy)
	if err != nil {
		return model.NewValidationError("strategy", err.Error())
	}

	if cfg.StartDate.IsZero() {
		return model.NewValidationError("start_date", "start date is required")
	}
	if cfg.EndDate.IsZero() {
		return model.NewValidationError("end_date", "end date is required")
	}
	if cfg.EndDate.Before(cfg.StartDate) {
		return model.NewValidationError("end_date", "end date must not precede start date")
	}
	if !cfg.InitialCapital.IsPositive() {
		return model.NewValidationError("initial_capital", "initial capital must be greater than zero")
	}

	for name, value := range cfg.Parameters {
		spec, ok := strat.Param(name)
		if !ok {
			return model.NewValidationError(name, fmt.Sprintf("parameter is not declared by strategy %s", strat.ID))
		}
		if err := validateParam(spec, value); err != nil {
			return err
		}
	}

	return nil
}

// validateParam checks one parameter value against its descriptor
func validateParam(spec strategy.ParamSpec, value interface{}) error {
	switch spec.Kind {
	case strategy.ParamNumber:
		num, ok := asFloat(value)
		if !ok {
			return model.NewValidationError(spec.Name, "value must be a number")
		}
		if spec.Min != nil && num < *spec.Min {
			return model.NewValidationError(spec.Name, fmt.Sprintf("value %g is below minimum %g", num, *spec.Min))
		}
		if spec.Max != nil && num > *spec.Max {
			return model.NewValidationError(spec.Name, fmt.Sprintf("value %g is above maximum %g", num, *spec.Max))
		}
	case strategy.ParamEnum:
		s, ok := value.(string)
		if !ok {
			return model.NewValidationError(spec.Name, "value must be a string")
		}
		for _, opt := range spec.Options {
			if s == opt {
				return nil
			}
		}
		return model.NewValidationError(spec.Name, fmt.Sprintf("value %q is not one of the declared options", s))
	default:
		return model.NewValidationError(spec.Name, fmt.Sprintf("unsupported parameter kind %s", spec.Kind))
	}
	return nil
}

// asFloat normalizes the numeric types JSON decoding can produce
func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
