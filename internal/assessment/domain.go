package assessment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/shared"
)

// ScenarioCode enumerates macroeconomic scenarios an assessment was run under.
type ScenarioCode string

const (
	ScenarioBase       ScenarioCode = "BASE"
	ScenarioAdverse    ScenarioCode = "ADVERSE"
	ScenarioOptimistic ScenarioCode = "OPTIMISTIC"
)

// ParseScenarioCode validates a scenario code string.
func ParseScenarioCode(s string) (ScenarioCode, error) {
	switch ScenarioCode(s) {
	case ScenarioBase, ScenarioAdverse, ScenarioOptimistic:
		return ScenarioCode(s), nil
	}
	return "", fmt.Errorf("%w: unknown scenario code %q", shared.ErrInvalidInputs, s)
}

// RiskAssessment is a PD/LGD/EAD snapshot owned by a provisioning case.
// Once a calculation references it the record is frozen; new inputs require
// a new assessment, never an in-place edit.
type RiskAssessment struct {
	ID             uuid.UUID
	CaseID         uuid.UUID
	PD             decimal.Decimal
	LGD            decimal.Decimal
	EAD            decimal.Decimal
	ModelVersion   string
	Scenario       ScenarioCode
	AssessmentDate time.Time
	Details        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInputs checks the numeric domain of the risk inputs:
// PD, LGD in [0,1] and EAD >= 0. Violations are rejected, never clamped.
func (a RiskAssessment) ValidateInputs() error {
	one := decimal.NewFromInt(1)
	if a.PD.IsNegative() || a.PD.GreaterThan(one) {
		return fmt.Errorf("%w: pd %s outside [0,1]", shared.ErrInvalidInputs, a.PD)
	}
	if a.LGD.IsNegative() || a.LGD.GreaterThan(one) {
		return fmt.Errorf("%w: lgd %s outside [0,1]", shared.ErrInvalidInputs, a.LGD)
	}
	if a.EAD.IsNegative() {
		return fmt.Errorf("%w: ead %s negative", shared.ErrInvalidInputs, a.EAD)
	}
	if _, err := ParseScenarioCode(string(a.Scenario)); err != nil {
		return err
	}
	return nil
}
