// Package provisioning owns the case aggregate and coordinates the ECL
// calculator, the stage transition engine and the provisioning ledger so the
// case's denormalized summary stays consistent with its latest calculation
// and postings.
package provisioning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/ecl"
	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/shared"
	"github.com/atlaslending/provisioning/internal/staging"
)

// ProvisioningStatus is the lifecycle status of a case.
type ProvisioningStatus string

const (
	StatusActive     ProvisioningStatus = "ACTIVE"
	StatusReleased   ProvisioningStatus = "RELEASED"
	StatusWrittenOff ProvisioningStatus = "WRITTEN_OFF"
	StatusClosed     ProvisioningStatus = "CLOSED"
)

// ParseStatus validates a provisioning status string.
func ParseStatus(s string) (ProvisioningStatus, error) {
	switch ProvisioningStatus(s) {
	case StatusActive, StatusReleased, StatusWrittenOff, StatusClosed:
		return ProvisioningStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown provisioning status %q", shared.ErrInvalidInputs, s)
}

// RiskGrade is the internal rating of the obligor.
type RiskGrade string

var riskGrades = map[RiskGrade]struct{}{
	"AAA": {}, "AA": {}, "A": {},
	"BBB": {}, "BB": {}, "B": {},
	"CCC": {}, "CC": {}, "C": {},
}

// ParseRiskGrade validates a risk grade string.
func ParseRiskGrade(s string) (RiskGrade, error) {
	if _, ok := riskGrades[RiskGrade(s)]; ok {
		return RiskGrade(s), nil
	}
	return "", fmt.Errorf("%w: unknown risk grade %q", shared.ErrInvalidInputs, s)
}

// Case is the provisioning case aggregate root. ECLAmount always equals the
// FinalECL of the most recently accepted calculation, or zero before the
// first one. Version backs the optimistic per-case serialization check;
// every committed unit of work increments it.
type Case struct {
	ID               uuid.UUID
	ServicingCaseID  uuid.UUID
	Stage            staging.StageCode
	ECLAmount        decimal.Decimal
	RiskGrade        RiskGrade
	Status           ProvisioningStatus
	LastCalculatedAt *time.Time
	Remarks          string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Calculation ties one risk assessment to a final ECL figure. It is frozen
// once a journal posting references it; amendments happen through a reversal
// plus a new calculation.
type Calculation struct {
	ID            uuid.UUID
	CaseID        uuid.UUID
	AssessmentID  uuid.UUID
	FinalECL      decimal.Decimal
	Method        ecl.CalcMethod
	CalcTimestamp time.Time
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StageHistory is the append-only audit trail of accepted stage transitions.
type StageHistory struct {
	ID          uuid.UUID
	CaseID      uuid.UUID
	OldStage    staging.StageCode
	NewStage    staging.StageCode
	ECLAtChange decimal.Decimal
	ChangedAt   time.Time
	ChangedBy   string
	Reason      string
	CreatedAt   time.Time
}

// CaseAggregate is the consistent read of a case inside a unit of work:
// the case row, its latest calculation and the full journal. PostedECL is
// the net of all journal amounts for the case.
type CaseAggregate struct {
	Case              Case
	LatestCalculation *Calculation
	Journal           []ledger.JournalEntry
	PostedECL         decimal.Decimal
}
