package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/atlaslending/provisioning/internal/ecl"
	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/shared"
	"github.com/atlaslending/provisioning/internal/staging"
)

// AuditPort records audit trail entries for accepted mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort exposes the domain counters the service increments.
type MetricsPort interface {
	CalculationRun(outcome string)
	JournalPosting(kind string)
	ConflictRetry()
}

// maxConflictRetries bounds how often a unit of work is reapplied after a
// concurrent-modification failure before the conflict surfaces to the caller.
const maxConflictRetries = 3

// Service is the provisioning case coordinator. All mutation of a case
// aggregate goes through it; the ledger and the stage engine are never
// driven from outside.
type Service struct {
	repo    Repository
	calc    *ecl.Calculator
	audit   AuditPort
	metrics MetricsPort
	cache   *CaseCache
	group   singleflight.Group
	now     func() time.Time
}

// NewService constructs the coordinator. audit, metrics and cache may be nil.
func NewService(repo Repository, calc *ecl.Calculator, audit AuditPort, metrics MetricsPort, cache *CaseCache) *Service {
	if calc == nil {
		calc = ecl.NewCalculator(nil)
	}
	return &Service{repo: repo, calc: calc, audit: audit, metrics: metrics, cache: cache, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RunCalculationInput is one provisioning unit of work: which assessment to
// run, under which method, and the caller-decided stage to move to (nil
// keeps the current stage — staging policy lives upstream, not here).
type RunCalculationInput struct {
	CaseID       uuid.UUID
	AssessmentID uuid.UUID
	Method       ecl.CalcMethod
	Notes        string
	NewStage     *staging.StageCode
	StageReason  string
	Actor        string
}

// RunCalculationResult reports everything the unit of work committed.
// Journal and StageChange are nil when the delta was zero or the stage
// proposal was an idempotent no-op.
type RunCalculationResult struct {
	Case        Case
	Calculation Calculation
	Journal     *ledger.JournalEntry
	StageChange *StageHistory
}

// RunCalculation executes calculator -> stage engine -> ledger and commits
// the case summary, calculation, optional stage history and optional journal
// entry in one transaction. On a concurrent-modification failure the whole
// unit of work is reapplied against the refreshed aggregate, a bounded
// number of times.
func (s *Service) RunCalculation(ctx context.Context, input RunCalculationInput) (RunCalculationResult, error) {
	var result RunCalculationResult
	var err error
	for attempt := 0; ; attempt++ {
		result, err = s.runCalculationOnce(ctx, input)
		if !errors.Is(err, shared.ErrConcurrentModification) || attempt >= maxConflictRetries {
			break
		}
		if s.metrics != nil {
			s.metrics.ConflictRetry()
		}
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.CalculationRun("failure")
		}
		return RunCalculationResult{}, err
	}

	if s.metrics != nil {
		s.metrics.CalculationRun("success")
		if result.Journal != nil {
			s.metrics.JournalPosting("posting")
		}
	}
	s.invalidate(ctx, input.CaseID)
	s.recordAudit(ctx, input.Actor, "provisioning.calculation.run", "provisioning_calculation", result.Calculation.ID, map[string]any{
		"case_id":   input.CaseID.String(),
		"final_ecl": result.Calculation.FinalECL.String(),
		"method":    string(result.Calculation.Method),
		"posted":    result.Journal != nil,
	})
	return result, nil
}

func (s *Service) runCalculationOnce(ctx context.Context, input RunCalculationInput) (RunCalculationResult, error) {
	var result RunCalculationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		agg, err := tx.GetCaseAggregate(ctx, input.CaseID)
		if err != nil {
			return err
		}
		riskInputs, err := tx.GetAssessment(ctx, input.CaseID, input.AssessmentID)
		if err != nil {
			return err
		}

		computed, err := s.calc.Compute(riskInputs, input.Method)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		calc := Calculation{
			ID:            uuid.New(),
			CaseID:        agg.Case.ID,
			AssessmentID:  riskInputs.ID,
			FinalECL:      computed.FinalECL,
			Method:        computed.Method,
			CalcTimestamp: now,
			Notes:         input.Notes,
		}

		newStage := agg.Case.Stage
		var history *StageHistory
		if input.NewStage != nil {
			transition, err := staging.ProposeTransition(agg.Case.Stage, *input.NewStage, computed.FinalECL, input.StageReason, input.Actor, now)
			if err != nil {
				return err
			}
			if transition != nil {
				newStage = transition.NewStage
				history = &StageHistory{
					ID:          uuid.New(),
					CaseID:      agg.Case.ID,
					OldStage:    transition.OldStage,
					NewStage:    transition.NewStage,
					ECLAtChange: transition.ECLAtChange,
					ChangedAt:   transition.ChangedAt,
					ChangedBy:   transition.ChangedBy,
					Reason:      transition.Reason,
				}
			}
		}

		var posted *ledger.JournalEntry
		entry, err := ledger.PostDelta(calc.ID, computed.FinalECL, agg.PostedECL, agg.Journal, now)
		switch {
		case err == nil:
			// Hand-off reference for the external accounting system,
			// assigned at posting time.
			entry.AccountingEntryID = uuid.New()
			posted = &entry
		case errors.Is(err, shared.ErrZeroDelta):
			// Legitimate no-op: the calculation still commits, the case
			// summary still moves, nothing is posted.
		default:
			return err
		}

		if err := tx.InsertCalculation(ctx, calc); err != nil {
			return err
		}
		if history != nil {
			if err := tx.InsertStageHistory(ctx, *history); err != nil {
				return err
			}
		}
		if posted != nil {
			if err := tx.InsertJournalEntry(ctx, *posted); err != nil {
				return err
			}
		}
		if err := tx.UpdateCaseSummary(ctx, CaseSummaryUpdate{
			CaseID:           agg.Case.ID,
			ExpectedVersion:  agg.Case.Version,
			ECLAmount:        computed.FinalECL,
			Stage:            newStage,
			LastCalculatedAt: now,
		}); err != nil {
			return err
		}

		updated := agg.Case
		updated.ECLAmount = computed.FinalECL
		updated.Stage = newStage
		updated.LastCalculatedAt = &now
		updated.Version = agg.Case.Version + 1
		updated.UpdatedAt = now

		result = RunCalculationResult{
			Case:        updated,
			Calculation: calc,
			Journal:     posted,
			StageChange: history,
		}
		return nil
	})
	if err != nil {
		return RunCalculationResult{}, err
	}
	return result, nil
}

// ReverseJournalInput identifies the posting to cancel.
type ReverseJournalInput struct {
	CaseID  uuid.UUID
	EntryID uuid.UUID
	Actor   string
}

// ReverseJournal appends the negated entry cancelling a prior posting. The
// case's ECL summary is untouched: it still reflects the latest accepted
// calculation, and the expected follow-up is a corrective calculation run.
func (s *Service) ReverseJournal(ctx context.Context, input ReverseJournalInput) (ledger.JournalEntry, error) {
	var reversal ledger.JournalEntry
	var err error
	for attempt := 0; ; attempt++ {
		reversal, err = s.reverseOnce(ctx, input)
		if !errors.Is(err, shared.ErrConcurrentModification) || attempt >= maxConflictRetries {
			break
		}
		if s.metrics != nil {
			s.metrics.ConflictRetry()
		}
	}
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	if s.metrics != nil {
		s.metrics.JournalPosting("reversal")
	}
	s.invalidate(ctx, input.CaseID)
	s.recordAudit(ctx, input.Actor, "provisioning.journal.reverse", "provisioning_journal", reversal.ID, map[string]any{
		"case_id":        input.CaseID.String(),
		"reversed_entry": input.EntryID.String(),
		"amount":         reversal.Amount.String(),
	})
	return reversal, nil
}

func (s *Service) reverseOnce(ctx context.Context, input ReverseJournalInput) (ledger.JournalEntry, error) {
	var reversal ledger.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		agg, err := tx.GetCaseAggregate(ctx, input.CaseID)
		if err != nil {
			return err
		}
		var original *ledger.JournalEntry
		for i := range agg.Journal {
			if agg.Journal[i].ID == input.EntryID {
				original = &agg.Journal[i]
				break
			}
		}
		if original == nil {
			return shared.ErrNotFound
		}
		entry, err := ledger.Reverse(*original, agg.Journal, s.now().UTC())
		if err != nil {
			return err
		}
		entry.AccountingEntryID = uuid.New()
		if err := tx.InsertJournalEntry(ctx, entry); err != nil {
			return err
		}
		// Bump the version so concurrent calculation runs against the stale
		// journal are forced to re-read.
		if err := tx.TouchCase(ctx, agg.Case.ID, agg.Case.Version); err != nil {
			return err
		}
		reversal = entry
		return nil
	})
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return reversal, nil
}

// CreateCaseInput carries the fields accepted at case intake.
type CreateCaseInput struct {
	ServicingCaseID uuid.UUID
	Stage           staging.StageCode
	RiskGrade       RiskGrade
	Status          ProvisioningStatus
	Remarks         string
}

// CreateCase opens a provisioning case. Stage defaults to STAGE_1; POCI is
// the only other stage accepted at creation.
func (s *Service) CreateCase(ctx context.Context, input CreateCaseInput) (Case, error) {
	if input.ServicingCaseID == uuid.Nil {
		return Case{}, fmt.Errorf("%w: servicing case reference required", shared.ErrInvalidInputs)
	}
	stage := input.Stage
	if stage == "" {
		stage = staging.Stage1
	}
	if stage != staging.Stage1 && stage != staging.POCI {
		return Case{}, fmt.Errorf("%w: cases open in %s or %s, moved afterwards through transitions", shared.ErrInvalidTransition, staging.Stage1, staging.POCI)
	}
	if _, err := ParseRiskGrade(string(input.RiskGrade)); err != nil {
		return Case{}, err
	}
	status := input.Status
	if status == "" {
		status = StatusActive
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return Case{}, err
	}

	now := s.now().UTC()
	c := Case{
		ID:              uuid.New(),
		ServicingCaseID: input.ServicingCaseID,
		Stage:           stage,
		ECLAmount:       decimal.Zero,
		RiskGrade:       input.RiskGrade,
		Status:          status,
		Remarks:         input.Remarks,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertCase(ctx, c)
	})
	if err != nil {
		return Case{}, err
	}
	s.recordAudit(ctx, "", "provisioning.case.create", "provisioning_case", c.ID, map[string]any{
		"servicing_case_id": c.ServicingCaseID.String(),
		"stage":             string(c.Stage),
	})
	return c, nil
}

// UpdateCaseInput replaces the mutable fields of an existing case. Stage and
// ECL are deliberately absent: they only move through calculation runs.
type UpdateCaseInput struct {
	RiskGrade RiskGrade
	Status    ProvisioningStatus
	Remarks   string
	Actor     string
}

// UpdateCase replaces the mutable fields of the identified record.
func (s *Service) UpdateCase(ctx context.Context, caseID uuid.UUID, input UpdateCaseInput) (Case, error) {
	if _, err := ParseRiskGrade(string(input.RiskGrade)); err != nil {
		return Case{}, err
	}
	if _, err := ParseStatus(string(input.Status)); err != nil {
		return Case{}, err
	}
	var updated Case
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		agg, err := tx.GetCaseAggregate(ctx, caseID)
		if err != nil {
			return err
		}
		if err := tx.UpdateCaseFields(ctx, caseID, agg.Case.Version, input.RiskGrade, input.Status, input.Remarks); err != nil {
			return err
		}
		updated = agg.Case
		updated.RiskGrade = input.RiskGrade
		updated.Status = input.Status
		updated.Remarks = input.Remarks
		updated.Version = agg.Case.Version + 1
		return nil
	})
	if err != nil {
		return Case{}, err
	}
	s.invalidate(ctx, caseID)
	s.recordAudit(ctx, input.Actor, "provisioning.case.update", "provisioning_case", caseID, map[string]any{
		"risk_grade": string(input.RiskGrade),
		"status":     string(input.Status),
	})
	return updated, nil
}

// DeleteCase removes a case and its children. A case with any journal
// posting, reversed or not, is immutable history and cannot be deleted.
func (s *Service) DeleteCase(ctx context.Context, caseID uuid.UUID, actor string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		count, err := tx.CountJournal(ctx, caseID)
		if err != nil {
			return err
		}
		if count > 0 {
			return shared.ErrCaseHasPostings
		}
		return tx.DeleteCase(ctx, caseID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, caseID)
	s.recordAudit(ctx, actor, "provisioning.case.delete", "provisioning_case", caseID, nil)
	return nil
}

// GetCase reads a case, serving from the read-through cache when configured.
// Concurrent cache misses for the same case collapse into one DB read.
func (s *Service) GetCase(ctx context.Context, caseID uuid.UUID) (Case, error) {
	if s.cache == nil {
		return s.repo.GetCase(ctx, caseID)
	}
	if c, ok := s.cache.Get(ctx, caseID); ok {
		return c, nil
	}
	v, err, _ := s.group.Do(caseID.String(), func() (any, error) {
		c, err := s.repo.GetCase(ctx, caseID)
		if err != nil {
			return Case{}, err
		}
		s.cache.Set(ctx, c)
		return c, nil
	})
	if err != nil {
		return Case{}, err
	}
	return v.(Case), nil
}

// ListCases returns a filtered page of cases with pagination metadata.
func (s *Service) ListCases(ctx context.Context, req ListCasesRequest) ([]Case, shared.Pagination, error) {
	cases, total, err := s.repo.ListCases(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return cases, shared.NewPagination(req.Page, req.PerPage, total), nil
}

// GetCalculation reads one calculation scoped by its owning case.
func (s *Service) GetCalculation(ctx context.Context, caseID, calcID uuid.UUID) (Calculation, error) {
	return s.repo.GetCalculation(ctx, caseID, calcID)
}

// ListCalculations returns a page of a case's calculations, newest first.
func (s *Service) ListCalculations(ctx context.Context, caseID uuid.UUID, page, perPage int) ([]Calculation, shared.Pagination, error) {
	calcs, total, err := s.repo.ListCalculations(ctx, caseID, page, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return calcs, shared.NewPagination(page, perPage, total), nil
}

// ListJournal returns a case's full journal in posting order.
func (s *Service) ListJournal(ctx context.Context, caseID uuid.UUID) ([]ledger.JournalEntry, error) {
	return s.repo.ListJournal(ctx, caseID)
}

// ListJournalForCalculation returns the postings tied to one calculation.
func (s *Service) ListJournalForCalculation(ctx context.Context, caseID, calcID uuid.UUID) ([]ledger.JournalEntry, error) {
	return s.repo.ListJournalForCalculation(ctx, caseID, calcID)
}

// ListStageHistory returns a case's stage transitions, oldest first.
func (s *Service) ListStageHistory(ctx context.Context, caseID uuid.UUID) ([]StageHistory, error) {
	return s.repo.ListStageHistory(ctx, caseID)
}

func (s *Service) invalidate(ctx context.Context, caseID uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, caseID)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entity string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID.String(),
		Meta:     meta,
		At:       s.now(),
	})
}
