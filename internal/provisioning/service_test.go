package provisioning

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlaslending/provisioning/internal/assessment"
	"github.com/atlaslending/provisioning/internal/ecl"
	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/shared"
	"github.com/atlaslending/provisioning/internal/staging"
)

type memoryRepo struct {
	cases       map[uuid.UUID]*Case
	assessments map[uuid.UUID]*assessment.RiskAssessment
	calcs       map[uuid.UUID]*Calculation
	journal     []ledger.JournalEntry
	history     []StageHistory

	// forceConflicts makes the next N version checks fail, simulating a
	// concurrent writer.
	forceConflicts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		cases:       make(map[uuid.UUID]*Case),
		assessments: make(map[uuid.UUID]*assessment.RiskAssessment),
		calcs:       make(map[uuid.UUID]*Calculation),
	}
}

// WithTx snapshots the state and restores it when fn fails, mirroring a
// rolled-back transaction.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.clone()
	if err := fn(ctx, r); err != nil {
		r.cases = snapshot.cases
		r.assessments = snapshot.assessments
		r.calcs = snapshot.calcs
		r.journal = snapshot.journal
		r.history = snapshot.history
		return err
	}
	return nil
}

func (r *memoryRepo) clone() *memoryRepo {
	cp := newMemoryRepo()
	for id, c := range r.cases {
		v := *c
		cp.cases[id] = &v
	}
	for id, a := range r.assessments {
		v := *a
		cp.assessments[id] = &v
	}
	for id, c := range r.calcs {
		v := *c
		cp.calcs[id] = &v
	}
	cp.journal = append([]ledger.JournalEntry(nil), r.journal...)
	cp.history = append([]StageHistory(nil), r.history...)
	return cp
}

func (r *memoryRepo) caseJournal(caseID uuid.UUID) []ledger.JournalEntry {
	var entries []ledger.JournalEntry
	for _, e := range r.journal {
		if calc, ok := r.calcs[e.CalculationID]; ok && calc.CaseID == caseID {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].PostedAt.Before(entries[j].PostedAt) })
	return entries
}

func (r *memoryRepo) GetCase(ctx context.Context, id uuid.UUID) (Case, error) {
	c, ok := r.cases[id]
	if !ok {
		return Case{}, shared.ErrNotFound
	}
	return *c, nil
}

func (r *memoryRepo) ListCases(ctx context.Context, req ListCasesRequest) ([]Case, int, error) {
	var cases []Case
	for _, c := range r.cases {
		if req.Stage != "" && string(c.Stage) != req.Stage {
			continue
		}
		if req.Status != "" && string(c.Status) != req.Status {
			continue
		}
		cases = append(cases, *c)
	}
	return cases, len(cases), nil
}

func (r *memoryRepo) GetCalculation(ctx context.Context, caseID, calcID uuid.UUID) (Calculation, error) {
	c, ok := r.calcs[calcID]
	if !ok || c.CaseID != caseID {
		return Calculation{}, shared.ErrNotFound
	}
	return *c, nil
}

func (r *memoryRepo) ListCalculations(ctx context.Context, caseID uuid.UUID, page, perPage int) ([]Calculation, int, error) {
	var calcs []Calculation
	for _, c := range r.calcs {
		if c.CaseID == caseID {
			calcs = append(calcs, *c)
		}
	}
	return calcs, len(calcs), nil
}

func (r *memoryRepo) ListJournal(ctx context.Context, caseID uuid.UUID) ([]ledger.JournalEntry, error) {
	return r.caseJournal(caseID), nil
}

func (r *memoryRepo) ListJournalForCalculation(ctx context.Context, caseID, calcID uuid.UUID) ([]ledger.JournalEntry, error) {
	var entries []ledger.JournalEntry
	for _, e := range r.caseJournal(caseID) {
		if e.CalculationID == calcID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (r *memoryRepo) ListStageHistory(ctx context.Context, caseID uuid.UUID) ([]StageHistory, error) {
	var history []StageHistory
	for _, h := range r.history {
		if h.CaseID == caseID {
			history = append(history, h)
		}
	}
	return history, nil
}

func (r *memoryRepo) GetCaseAggregate(ctx context.Context, caseID uuid.UUID) (CaseAggregate, error) {
	c, ok := r.cases[caseID]
	if !ok {
		return CaseAggregate{}, shared.ErrNotFound
	}
	agg := CaseAggregate{Case: *c}
	var latest *Calculation
	for _, calc := range r.calcs {
		if calc.CaseID != caseID {
			continue
		}
		if latest == nil || calc.CalcTimestamp.After(latest.CalcTimestamp) {
			cp := *calc
			latest = &cp
		}
	}
	agg.LatestCalculation = latest
	agg.Journal = r.caseJournal(caseID)
	agg.PostedECL = ledger.NetPosted(agg.Journal)
	return agg, nil
}

func (r *memoryRepo) GetAssessment(ctx context.Context, caseID, assessmentID uuid.UUID) (assessment.RiskAssessment, error) {
	a, ok := r.assessments[assessmentID]
	if !ok || a.CaseID != caseID {
		return assessment.RiskAssessment{}, shared.ErrNotFound
	}
	return *a, nil
}

func (r *memoryRepo) InsertCase(ctx context.Context, c Case) error {
	cp := c
	r.cases[c.ID] = &cp
	return nil
}

func (r *memoryRepo) checkVersion(caseID uuid.UUID, expected int64) error {
	if r.forceConflicts > 0 {
		r.forceConflicts--
		return shared.ErrConcurrentModification
	}
	c, ok := r.cases[caseID]
	if !ok || c.Version != expected {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (r *memoryRepo) UpdateCaseFields(ctx context.Context, caseID uuid.UUID, expectedVersion int64, grade RiskGrade, status ProvisioningStatus, remarks string) error {
	if err := r.checkVersion(caseID, expectedVersion); err != nil {
		return err
	}
	c := r.cases[caseID]
	c.RiskGrade = grade
	c.Status = status
	c.Remarks = remarks
	c.Version++
	return nil
}

func (r *memoryRepo) DeleteCase(ctx context.Context, caseID uuid.UUID) error {
	if _, ok := r.cases[caseID]; !ok {
		return shared.ErrNotFound
	}
	delete(r.cases, caseID)
	return nil
}

func (r *memoryRepo) CountJournal(ctx context.Context, caseID uuid.UUID) (int, error) {
	return len(r.caseJournal(caseID)), nil
}

func (r *memoryRepo) InsertCalculation(ctx context.Context, c Calculation) error {
	cp := c
	r.calcs[c.ID] = &cp
	return nil
}

func (r *memoryRepo) InsertJournalEntry(ctx context.Context, e ledger.JournalEntry) error {
	r.journal = append(r.journal, e)
	return nil
}

func (r *memoryRepo) InsertStageHistory(ctx context.Context, h StageHistory) error {
	r.history = append(r.history, h)
	return nil
}

func (r *memoryRepo) UpdateCaseSummary(ctx context.Context, u CaseSummaryUpdate) error {
	if err := r.checkVersion(u.CaseID, u.ExpectedVersion); err != nil {
		return err
	}
	c := r.cases[u.CaseID]
	c.ECLAmount = u.ECLAmount
	c.Stage = u.Stage
	t := u.LastCalculatedAt
	c.LastCalculatedAt = &t
	c.Version++
	return nil
}

func (r *memoryRepo) TouchCase(ctx context.Context, caseID uuid.UUID, expectedVersion int64) error {
	if err := r.checkVersion(caseID, expectedVersion); err != nil {
		return err
	}
	r.cases[caseID].Version++
	return nil
}

type recordingMetrics struct {
	runs     map[string]int
	postings map[string]int
	retries  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{runs: make(map[string]int), postings: make(map[string]int)}
}

func (m *recordingMetrics) CalculationRun(outcome string) { m.runs[outcome]++ }
func (m *recordingMetrics) JournalPosting(kind string)    { m.postings[kind]++ }
func (m *recordingMetrics) ConflictRetry()                { m.retries++ }

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, ecl.NewCalculator(nil), nil, nil, nil)
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) })
	return svc
}

func seedCase(t *testing.T, repo *memoryRepo, stage staging.StageCode) Case {
	t.Helper()
	c := Case{
		ID:              uuid.New(),
		ServicingCaseID: uuid.New(),
		Stage:           stage,
		ECLAmount:       decimal.Zero,
		RiskGrade:       "BBB",
		Status:          StatusActive,
		Version:         1,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	require.NoError(t, repo.InsertCase(context.Background(), c))
	return c
}

func seedAssessment(t *testing.T, repo *memoryRepo, caseID uuid.UUID, pd, lgd, ead string) assessment.RiskAssessment {
	t.Helper()
	a := assessment.RiskAssessment{
		ID:             uuid.New(),
		CaseID:         caseID,
		PD:             decimal.RequireFromString(pd),
		LGD:            decimal.RequireFromString(lgd),
		EAD:            decimal.RequireFromString(ead),
		Scenario:       assessment.ScenarioBase,
		AssessmentDate: time.Now().UTC(),
	}
	repo.assessments[a.ID] = &a
	return a
}

func TestRunCalculationPostsInitialProvision(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")

	stage2 := staging.Stage2
	result, err := svc.RunCalculation(ctx, RunCalculationInput{
		CaseID:       c.ID,
		AssessmentID: a.ID,
		Method:       ecl.TwelveMonthECL,
		NewStage:     &stage2,
		StageReason:  "30 days past due",
		Actor:        "analyst",
	})
	require.NoError(t, err)

	require.Equal(t, "225.00", result.Calculation.FinalECL.StringFixed(2))
	require.Equal(t, staging.Stage2, result.Case.Stage)
	require.Equal(t, "225.00", result.Case.ECLAmount.StringFixed(2))
	require.Equal(t, int64(2), result.Case.Version)

	require.NotNil(t, result.Journal)
	require.True(t, result.Journal.Amount.Equal(decimal.RequireFromString("225.00")))
	require.NotEqual(t, uuid.Nil, result.Journal.AccountingEntryID)

	require.NotNil(t, result.StageChange)
	require.Equal(t, staging.Stage1, result.StageChange.OldStage)
	require.Equal(t, staging.Stage2, result.StageChange.NewStage)
	require.Equal(t, "30 days past due", result.StageChange.Reason)

	stored, err := repo.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "225.00", stored.ECLAmount.StringFixed(2))
	require.NotNil(t, stored.LastCalculatedAt)
}

func TestRunCalculationPostsOnlyTheDelta(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage2)
	first := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	_, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: first.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) })
	second := seedAssessment(t, repo, c.ID, "0.10", "0.50", "10000")
	result, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: second.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)

	require.Equal(t, "500.00", result.Case.ECLAmount.StringFixed(2))
	require.NotNil(t, result.Journal)
	require.True(t, result.Journal.Amount.Equal(decimal.RequireFromString("275.00")))

	journal, err := svc.ListJournal(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, journal, 2)
	require.True(t, ledger.NetPosted(journal).Equal(decimal.RequireFromString("500.00")))
}

func TestRunCalculationZeroDeltaCommitsWithoutPosting(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	_, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)

	// Same inputs again: the calculation lands, nothing is posted.
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) })
	again := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	result, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: again.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)
	require.Nil(t, result.Journal)
	require.Len(t, repo.calcs, 2)

	journal, err := svc.ListJournal(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, journal, 1)
}

func TestRunCalculationStageNoOpWritesNoHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage2)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")

	stage2 := staging.Stage2
	result, err := svc.RunCalculation(ctx, RunCalculationInput{
		CaseID:       c.ID,
		AssessmentID: a.ID,
		Method:       ecl.TwelveMonthECL,
		NewStage:     &stage2,
		Actor:        "analyst",
	})
	require.NoError(t, err)
	require.Nil(t, result.StageChange)
	require.Empty(t, repo.history)
}

func TestRunCalculationInvalidTransitionPersistsNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.POCI)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")

	stage1 := staging.Stage1
	_, err := svc.RunCalculation(ctx, RunCalculationInput{
		CaseID:       c.ID,
		AssessmentID: a.ID,
		Method:       ecl.TwelveMonthECL,
		NewStage:     &stage1,
		StageReason:  "cure attempt",
		Actor:        "analyst",
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Empty(t, repo.calcs)
	require.Empty(t, repo.journal)

	stored, err := repo.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Version)
	require.True(t, stored.ECLAmount.IsZero())
}

func TestRunCalculationInvalidInputsPersistNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "1.5", "0.45", "10000")

	_, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.ErrorIs(t, err, shared.ErrInvalidInputs)
	require.Empty(t, repo.calcs)
}

func TestRunCalculationAssessmentFromAnotherCase(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	other := seedCase(t, repo, staging.Stage1)
	foreign := seedAssessment(t, repo, other.ID, "0.05", "0.45", "10000")

	_, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: foreign.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRunCalculationRetriesOnConflict(t *testing.T) {
	repo := newMemoryRepo()
	metrics := newRecordingMetrics()
	svc := NewService(repo, ecl.NewCalculator(nil), nil, metrics, nil)
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")

	repo.forceConflicts = 2
	result, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)
	require.Equal(t, 2, metrics.retries)
	require.Equal(t, 1, metrics.runs["success"])
	require.Equal(t, "225.00", result.Case.ECLAmount.StringFixed(2))
}

func TestRunCalculationConflictSurfacesAfterBoundedRetries(t *testing.T) {
	repo := newMemoryRepo()
	metrics := newRecordingMetrics()
	svc := NewService(repo, ecl.NewCalculator(nil), nil, metrics, nil)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")

	repo.forceConflicts = 10
	_, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.ErrorIs(t, err, shared.ErrConcurrentModification)
	require.Equal(t, maxConflictRetries, metrics.retries)
	require.Equal(t, 1, metrics.runs["failure"])
}

func TestReverseJournalConservation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	result, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)
	require.NotNil(t, result.Journal)

	reversal, err := svc.ReverseJournal(ctx, ReverseJournalInput{CaseID: c.ID, EntryID: result.Journal.ID, Actor: "analyst"})
	require.NoError(t, err)
	require.True(t, reversal.IsReversal)
	require.True(t, reversal.Amount.Equal(decimal.RequireFromString("-225.00")))

	journal, err := svc.ListJournal(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ledger.NetPosted(journal).IsZero())

	// The summary still reflects the latest accepted calculation; only the
	// version moved.
	stored, err := repo.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "225.00", stored.ECLAmount.StringFixed(2))
	require.Equal(t, int64(3), stored.Version)
}

func TestReverseJournalTwiceRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	result, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)

	_, err = svc.ReverseJournal(ctx, ReverseJournalInput{CaseID: c.ID, EntryID: result.Journal.ID, Actor: "analyst"})
	require.NoError(t, err)
	_, err = svc.ReverseJournal(ctx, ReverseJournalInput{CaseID: c.ID, EntryID: result.Journal.ID, Actor: "analyst"})
	require.ErrorIs(t, err, shared.ErrAlreadyReversed)
}

func TestReverseJournalUnknownEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	_, err := svc.ReverseJournal(ctx, ReverseJournalInput{CaseID: c.ID, EntryID: uuid.New(), Actor: "analyst"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRepostAfterReversalRestoresProvision(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	result, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)
	_, err = svc.ReverseJournal(ctx, ReverseJournalInput{CaseID: c.ID, EntryID: result.Journal.ID, Actor: "analyst"})
	require.NoError(t, err)

	// Corrective run against a fresh assessment: posted net goes from zero
	// back to the full figure.
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC) })
	corrective := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	second, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: corrective.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)
	require.NotNil(t, second.Journal)
	require.True(t, second.Journal.Amount.Equal(decimal.RequireFromString("225.00")))

	journal, err := svc.ListJournal(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ledger.NetPosted(journal).Equal(decimal.RequireFromString("225.00")))
}

func TestCreateCaseDefaultsAndStageRules(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateCase(ctx, CreateCaseInput{ServicingCaseID: uuid.New(), RiskGrade: "A"})
	require.NoError(t, err)
	require.Equal(t, staging.Stage1, created.Stage)
	require.Equal(t, StatusActive, created.Status)
	require.Equal(t, int64(1), created.Version)
	require.True(t, created.ECLAmount.IsZero())

	poci, err := svc.CreateCase(ctx, CreateCaseInput{ServicingCaseID: uuid.New(), RiskGrade: "C", Stage: staging.POCI})
	require.NoError(t, err)
	require.Equal(t, staging.POCI, poci.Stage)

	_, err = svc.CreateCase(ctx, CreateCaseInput{ServicingCaseID: uuid.New(), RiskGrade: "A", Stage: staging.Stage3})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.CreateCase(ctx, CreateCaseInput{ServicingCaseID: uuid.New(), RiskGrade: "ZZZ"})
	require.ErrorIs(t, err, shared.ErrInvalidInputs)
}

func TestUpdateCaseReplacesMutableFields(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	updated, err := svc.UpdateCase(ctx, c.ID, UpdateCaseInput{RiskGrade: "BB", Status: StatusReleased, Remarks: "released after review", Actor: "analyst"})
	require.NoError(t, err)
	require.Equal(t, RiskGrade("BB"), updated.RiskGrade)
	require.Equal(t, StatusReleased, updated.Status)
	require.Equal(t, int64(2), updated.Version)
	// Stage and ECL are untouched by field updates.
	require.Equal(t, c.Stage, updated.Stage)
	require.True(t, updated.ECLAmount.Equal(c.ECLAmount))
}

func TestDeleteCaseBlockedByPostings(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	c := seedCase(t, repo, staging.Stage1)
	a := seedAssessment(t, repo, c.ID, "0.05", "0.45", "10000")
	_, err := svc.RunCalculation(ctx, RunCalculationInput{CaseID: c.ID, AssessmentID: a.ID, Method: ecl.TwelveMonthECL, Actor: "analyst"})
	require.NoError(t, err)

	err = svc.DeleteCase(ctx, c.ID, "analyst")
	require.ErrorIs(t, err, shared.ErrCaseHasPostings)

	empty := seedCase(t, repo, staging.Stage1)
	require.NoError(t, svc.DeleteCase(ctx, empty.ID, "analyst"))
	_, err = svc.GetCase(ctx, empty.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetCaseUnknownID(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	_, err := svc.GetCase(context.Background(), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}
