package provisioning

import (
	"time"

	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/shared"
)

type createCaseRequest struct {
	ServicingCaseID string `json:"servicingCaseId" validate:"required,uuid4"`
	StageCode       string `json:"stageCode" validate:"omitempty,oneof=STAGE_1 POCI"`
	RiskGrade       string `json:"riskGrade" validate:"required"`
	Status          string `json:"provisioningStatus" validate:"omitempty"`
	Remarks         string `json:"remarks" validate:"max=2000"`
}

type updateCaseRequest struct {
	RiskGrade string `json:"riskGrade" validate:"required"`
	Status    string `json:"provisioningStatus" validate:"required"`
	Remarks   string `json:"remarks" validate:"max=2000"`
}

type runCalculationRequest struct {
	AssessmentID string `json:"riskAssessmentId" validate:"required,uuid4"`
	CalcMethod   string `json:"calcMethod" validate:"required,oneof=TWELVE_MONTH_ECL LIFETIME_ECL"`
	Notes        string `json:"notes" validate:"max=2000"`
	// NewStageCode is the caller-decided staging outcome; empty keeps the
	// current stage.
	NewStageCode string `json:"newStageCode" validate:"omitempty,oneof=STAGE_1 STAGE_2 STAGE_3 POCI"`
	StageReason  string `json:"stageReason" validate:"max=500"`
}

type caseResponse struct {
	ID               string     `json:"id"`
	ServicingCaseID  string     `json:"servicingCaseId"`
	StageCode        string     `json:"stageCode"`
	ECLAmount        string     `json:"eclAmount"`
	RiskGrade        string     `json:"riskGrade"`
	Status           string     `json:"provisioningStatus"`
	LastCalculatedAt *time.Time `json:"lastCalculatedAt,omitempty"`
	Remarks          string     `json:"remarks,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func toCaseResponse(c Case) caseResponse {
	return caseResponse{
		ID:               c.ID.String(),
		ServicingCaseID:  c.ServicingCaseID.String(),
		StageCode:        string(c.Stage),
		ECLAmount:        c.ECLAmount.StringFixed(2),
		RiskGrade:        string(c.RiskGrade),
		Status:           string(c.Status),
		LastCalculatedAt: c.LastCalculatedAt,
		Remarks:          c.Remarks,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type calculationResponse struct {
	ID            string    `json:"id"`
	CaseID        string    `json:"caseId"`
	AssessmentID  string    `json:"riskAssessmentId"`
	FinalECL      string    `json:"finalEcl"`
	CalcMethod    string    `json:"calcMethod"`
	CalcTimestamp time.Time `json:"calcTimestamp"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toCalculationResponse(c Calculation) calculationResponse {
	return calculationResponse{
		ID:            c.ID.String(),
		CaseID:        c.CaseID.String(),
		AssessmentID:  c.AssessmentID.String(),
		FinalECL:      c.FinalECL.StringFixed(2),
		CalcMethod:    string(c.Method),
		CalcTimestamp: c.CalcTimestamp,
		Notes:         c.Notes,
		CreatedAt:     c.CreatedAt,
	}
}

type journalResponse struct {
	ID                string    `json:"id"`
	CalculationID     string    `json:"calculationId"`
	AccountingEntryID string    `json:"accountingEntryId"`
	Amount            string    `json:"provisionChangeAmount"`
	PostedAt          time.Time `json:"postedAt"`
	Description       string    `json:"postingDescription"`
	IsReversal        bool      `json:"isReversal"`
	ReversedEntryID   string    `json:"reversedEntryId,omitempty"`
}

func toJournalResponse(e ledger.JournalEntry) journalResponse {
	resp := journalResponse{
		ID:                e.ID.String(),
		CalculationID:     e.CalculationID.String(),
		AccountingEntryID: e.AccountingEntryID.String(),
		Amount:            e.Amount.StringFixed(2),
		PostedAt:          e.PostedAt,
		Description:       e.Description,
		IsReversal:        e.IsReversal,
	}
	if e.ReversedEntryID != nil {
		resp.ReversedEntryID = e.ReversedEntryID.String()
	}
	return resp
}

type stageHistoryResponse struct {
	ID          string    `json:"id"`
	CaseID      string    `json:"caseId"`
	OldStage    string    `json:"oldStageCode"`
	NewStage    string    `json:"newStageCode"`
	ECLAtChange string    `json:"eclAmountAtChange"`
	ChangedAt   time.Time `json:"changedAt"`
	ChangedBy   string    `json:"changedBy"`
	Reason      string    `json:"reason"`
}

func toStageHistoryResponse(h StageHistory) stageHistoryResponse {
	return stageHistoryResponse{
		ID:          h.ID.String(),
		CaseID:      h.CaseID.String(),
		OldStage:    string(h.OldStage),
		NewStage:    string(h.NewStage),
		ECLAtChange: h.ECLAtChange.StringFixed(2),
		ChangedAt:   h.ChangedAt,
		ChangedBy:   h.ChangedBy,
		Reason:      h.Reason,
	}
}

type runCalculationResponse struct {
	Case        caseResponse          `json:"case"`
	Calculation calculationResponse   `json:"calculation"`
	Journal     *journalResponse      `json:"journal,omitempty"`
	StageChange *stageHistoryResponse `json:"stageChange,omitempty"`
}

type caseListResponse struct {
	Items      []caseResponse    `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

type calculationListResponse struct {
	Items      []calculationResponse `json:"items"`
	Pagination shared.Pagination     `json:"pagination"`
}
