package assessment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/shared"
)

// assessmentRequest is the JSON body for create/update. Amounts travel as
// strings so no precision is lost in transit.
type assessmentRequest struct {
	PDValue        string     `json:"pdValue" validate:"required"`
	LGDValue       string     `json:"lgdValue" validate:"required"`
	EADValue       string     `json:"eadValue" validate:"required"`
	ModelVersion   string     `json:"modelVersion" validate:"required,max=64"`
	ScenarioCode   string     `json:"scenarioCode" validate:"required"`
	AssessmentDate *time.Time `json:"assessmentDate"`
	Details        string     `json:"details" validate:"max=2000"`
}

func (r assessmentRequest) toInput(actor string) (Input, error) {
	pd, err := decimal.NewFromString(r.PDValue)
	if err != nil {
		return Input{}, fmt.Errorf("%w: pd %q", shared.ErrInvalidInputs, r.PDValue)
	}
	lgd, err := decimal.NewFromString(r.LGDValue)
	if err != nil {
		return Input{}, fmt.Errorf("%w: lgd %q", shared.ErrInvalidInputs, r.LGDValue)
	}
	ead, err := decimal.NewFromString(r.EADValue)
	if err != nil {
		return Input{}, fmt.Errorf("%w: ead %q", shared.ErrInvalidInputs, r.EADValue)
	}
	scenario, err := ParseScenarioCode(r.ScenarioCode)
	if err != nil {
		return Input{}, err
	}
	input := Input{
		PD:           pd,
		LGD:          lgd,
		EAD:          ead,
		ModelVersion: r.ModelVersion,
		Scenario:     scenario,
		Details:      r.Details,
		Actor:        actor,
	}
	if r.AssessmentDate != nil {
		input.AssessmentDate = *r.AssessmentDate
	}
	return input, nil
}

type assessmentResponse struct {
	ID             string    `json:"id"`
	CaseID         string    `json:"caseId"`
	PDValue        string    `json:"pdValue"`
	LGDValue       string    `json:"lgdValue"`
	EADValue       string    `json:"eadValue"`
	ModelVersion   string    `json:"modelVersion"`
	ScenarioCode   string    `json:"scenarioCode"`
	AssessmentDate time.Time `json:"assessmentDate"`
	Details        string    `json:"details,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toResponse(a RiskAssessment) assessmentResponse {
	return assessmentResponse{
		ID:             a.ID.String(),
		CaseID:         a.CaseID.String(),
		PDValue:        a.PD.String(),
		LGDValue:       a.LGD.String(),
		EADValue:       a.EAD.String(),
		ModelVersion:   a.ModelVersion,
		ScenarioCode:   string(a.Scenario),
		AssessmentDate: a.AssessmentDate,
		Details:        a.Details,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type listResponse struct {
	Items      []assessmentResponse `json:"items"`
	Pagination shared.Pagination    `json:"pagination"`
}
