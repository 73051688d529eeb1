package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/shared"
)

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service holds PD/LGD/EAD snapshots. Numeric domain checks are the only
// business rule here; anything combining the inputs lives in the calculator.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the assessment service. audit may be nil.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Input carries the fields accepted when submitting assessment inputs.
type Input struct {
	PD             decimal.Decimal
	LGD            decimal.Decimal
	EAD            decimal.Decimal
	ModelVersion   string
	Scenario       ScenarioCode
	AssessmentDate time.Time
	Details        string
	Actor          string
}

// Create records a new assessment snapshot for a case. Inputs outside their
// numeric domain are rejected before anything persists.
func (s *Service) Create(ctx context.Context, caseID uuid.UUID, input Input) (RiskAssessment, error) {
	now := s.now().UTC()
	a := RiskAssessment{
		ID:             uuid.New(),
		CaseID:         caseID,
		PD:             input.PD,
		LGD:            input.LGD,
		EAD:            input.EAD,
		ModelVersion:   input.ModelVersion,
		Scenario:       input.Scenario,
		AssessmentDate: input.AssessmentDate,
		Details:        input.Details,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if a.AssessmentDate.IsZero() {
		a.AssessmentDate = now
	}
	if err := a.ValidateInputs(); err != nil {
		return RiskAssessment{}, err
	}
	exists, err := s.repo.CaseExists(ctx, caseID)
	if err != nil {
		return RiskAssessment{}, err
	}
	if !exists {
		return RiskAssessment{}, shared.ErrNotFound
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return RiskAssessment{}, err
	}
	s.recordAudit(ctx, input.Actor, "assessment.create", a)
	return a, nil
}

// Get reads one assessment scoped by its owning case.
func (s *Service) Get(ctx context.Context, caseID, id uuid.UUID) (RiskAssessment, error) {
	return s.repo.Get(ctx, caseID, id)
}

// List returns a page of a case's assessments, newest first.
func (s *Service) List(ctx context.Context, caseID uuid.UUID, page, perPage int) ([]RiskAssessment, shared.Pagination, error) {
	assessments, total, err := s.repo.List(ctx, caseID, page, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return assessments, shared.NewPagination(page, perPage, total), nil
}

// Update replaces the inputs of an assessment that no calculation has
// consumed yet. Consumed snapshots are frozen: corrections require a new
// assessment record.
func (s *Service) Update(ctx context.Context, caseID, id uuid.UUID, input Input) (RiskAssessment, error) {
	existing, err := s.repo.Get(ctx, caseID, id)
	if err != nil {
		return RiskAssessment{}, err
	}
	consumed, err := s.repo.IsConsumed(ctx, id)
	if err != nil {
		return RiskAssessment{}, err
	}
	if consumed {
		return RiskAssessment{}, fmt.Errorf("%w: %s", shared.ErrAssessmentConsumed, id)
	}

	updated := existing
	updated.PD = input.PD
	updated.LGD = input.LGD
	updated.EAD = input.EAD
	updated.ModelVersion = input.ModelVersion
	updated.Scenario = input.Scenario
	updated.Details = input.Details
	if !input.AssessmentDate.IsZero() {
		updated.AssessmentDate = input.AssessmentDate
	}
	updated.UpdatedAt = s.now().UTC()
	if err := updated.ValidateInputs(); err != nil {
		return RiskAssessment{}, err
	}
	if err := s.repo.Update(ctx, updated); err != nil {
		return RiskAssessment{}, err
	}
	s.recordAudit(ctx, input.Actor, "assessment.update", updated)
	return updated, nil
}

// Delete removes an unconsumed assessment.
func (s *Service) Delete(ctx context.Context, caseID, id uuid.UUID, actor string) error {
	if _, err := s.repo.Get(ctx, caseID, id); err != nil {
		return err
	}
	consumed, err := s.repo.IsConsumed(ctx, id)
	if err != nil {
		return err
	}
	if consumed {
		return fmt.Errorf("%w: %s", shared.ErrAssessmentConsumed, id)
	}
	if err := s.repo.Delete(ctx, caseID, id); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "assessment.delete",
			Entity:   "risk_assessment",
			EntityID: id.String(),
			At:       s.now(),
		})
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, a RiskAssessment) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "risk_assessment",
		EntityID: a.ID.String(),
		Meta: map[string]any{
			"case_id":  a.CaseID.String(),
			"scenario": string(a.Scenario),
			"model":    a.ModelVersion,
		},
		At: s.now(),
	})
}
