// Package ecl derives Expected Credit Loss figures from risk assessments.
// The calculator is pure; persisting results is the coordinator's job.
package ecl

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/assessment"
	"github.com/atlaslending/provisioning/internal/shared"
)

// CalcMethod selects the exposure horizon for a calculation.
type CalcMethod string

const (
	TwelveMonthECL CalcMethod = "TWELVE_MONTH_ECL"
	LifetimeECL    CalcMethod = "LIFETIME_ECL"
)

// ParseCalcMethod validates a calculation method string.
func ParseCalcMethod(s string) (CalcMethod, error) {
	switch CalcMethod(s) {
	case TwelveMonthECL, LifetimeECL:
		return CalcMethod(s), nil
	}
	return "", fmt.Errorf("%w: unknown calc method %q", shared.ErrInvalidInputs, s)
}

// CurrencyScale is the number of decimal places kept on monetary amounts.
const CurrencyScale = 2

// HorizonStrategy supplies the horizon factor applied to PD x LGD x EAD.
// The contract is fixed here; the curve behind it is pluggable.
type HorizonStrategy interface {
	Factor(method CalcMethod, scenario assessment.ScenarioCode) decimal.Decimal
}

// StaticHorizons is the default strategy: a one-year horizon maps to factor 1,
// lifetime horizons come from a per-scenario multiplier table.
type StaticHorizons struct {
	Lifetime map[assessment.ScenarioCode]decimal.Decimal
}

// DefaultHorizons returns the multipliers used when no table is configured.
func DefaultHorizons() StaticHorizons {
	return StaticHorizons{
		Lifetime: map[assessment.ScenarioCode]decimal.Decimal{
			assessment.ScenarioBase:       decimal.RequireFromString("2.5"),
			assessment.ScenarioAdverse:    decimal.RequireFromString("3.2"),
			assessment.ScenarioOptimistic: decimal.RequireFromString("2.1"),
		},
	}
}

// Factor implements HorizonStrategy.
func (h StaticHorizons) Factor(method CalcMethod, scenario assessment.ScenarioCode) decimal.Decimal {
	if method == TwelveMonthECL {
		return decimal.NewFromInt(1)
	}
	if f, ok := h.Lifetime[scenario]; ok {
		return f
	}
	return decimal.NewFromInt(1)
}

// Result captures the outcome of one ECL computation.
type Result struct {
	FinalECL   decimal.Decimal
	Method     CalcMethod
	Horizon    decimal.Decimal
	ComputedAt time.Time
}

// Calculator combines a risk assessment and a calculation method into a
// final ECL amount.
type Calculator struct {
	horizon HorizonStrategy
	now     func() time.Time
}

// NewCalculator constructs a Calculator. A nil strategy falls back to
// DefaultHorizons.
func NewCalculator(horizon HorizonStrategy) *Calculator {
	if horizon == nil {
		horizon = DefaultHorizons()
	}
	return &Calculator{horizon: horizon, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (c *Calculator) WithNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Compute returns FinalECL = PD x LGD x EAD x horizonFactor(scenario),
// rounded half-even to currency precision. Inputs outside their numeric
// domain fail with the invalid-inputs sentinel before anything persists.
func (c *Calculator) Compute(a assessment.RiskAssessment, method CalcMethod) (Result, error) {
	if _, err := ParseCalcMethod(string(method)); err != nil {
		return Result{}, err
	}
	if err := a.ValidateInputs(); err != nil {
		return Result{}, err
	}
	factor := c.horizon.Factor(method, a.Scenario)
	if factor.IsNegative() {
		return Result{}, fmt.Errorf("%w: negative horizon factor %s", shared.ErrInvalidInputs, factor)
	}
	final := a.PD.Mul(a.LGD).Mul(a.EAD).Mul(factor).RoundBank(CurrencyScale)
	return Result{
		FinalECL:   final,
		Method:     method,
		Horizon:    factor,
		ComputedAt: c.now().UTC(),
	}, nil
}
