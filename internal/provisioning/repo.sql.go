package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlaslending/provisioning/internal/assessment"
	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/platform/db"
	"github.com/atlaslending/provisioning/internal/shared"
)

// constraint backing the at-most-one-live-posting invariant at the DB level
const constraintLivePosting = "uq_provisioning_journal_live"

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("provisioning: begin tx: %w", err)
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return translateTxError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translateTxError(err)
	}
	return nil
}

// translateTxError maps commit-time conflicts onto the domain taxonomy:
// serialization failures become the retryable concurrent-modification
// sentinel, and a hit on the live-posting index is a duplicate posting that
// slipped past the in-transaction check.
func translateTxError(err error) error {
	switch {
	case db.IsSerializationFailure(err):
		return fmt.Errorf("%w: %v", shared.ErrConcurrentModification, err)
	case db.IsUniqueViolation(err, constraintLivePosting):
		return fmt.Errorf("%w: %v", shared.ErrDuplicatePosting, err)
	}
	return err
}

const caseColumns = `id, servicing_case_id, stage_code, ecl_amount, risk_grade, status, last_calculated_at, remarks, version, created_at, updated_at`

func scanCase(row pgx.Row) (Case, error) {
	var c Case
	var lastCalc pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.ServicingCaseID, &c.Stage, &c.ECLAmount, &c.RiskGrade, &c.Status, &lastCalc, &c.Remarks, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, shared.ErrNotFound
		}
		return Case{}, err
	}
	if lastCalc.Valid {
		t := lastCalc.Time
		c.LastCalculatedAt = &t
	}
	return c, nil
}

func (r *repository) GetCase(ctx context.Context, id uuid.UUID) (Case, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM provisioning_cases WHERE id = $1`, id)
	return scanCase(row)
}

func (r *repository) ListCases(ctx context.Context, req ListCasesRequest) ([]Case, int, error) {
	page := shared.NewPagination(req.Page, req.PerPage, 0)
	where := ` WHERE ($1 = '' OR stage_code = $1) AND ($2 = '' OR status = $2)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM provisioning_cases`+where, req.Stage, req.Status).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+caseColumns+` FROM provisioning_cases`+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		req.Stage, req.Status, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		cases = append(cases, c)
	}
	return cases, total, rows.Err()
}

const calcColumns = `id, case_id, assessment_id, final_ecl, calc_method, calc_timestamp, notes, created_at, updated_at`

func scanCalculation(row pgx.Row) (Calculation, error) {
	var c Calculation
	err := row.Scan(&c.ID, &c.CaseID, &c.AssessmentID, &c.FinalECL, &c.Method, &c.CalcTimestamp, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Calculation{}, shared.ErrNotFound
		}
		return Calculation{}, err
	}
	return c, nil
}

func (r *repository) GetCalculation(ctx context.Context, caseID, calcID uuid.UUID) (Calculation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+calcColumns+` FROM provisioning_calculations WHERE id = $1 AND case_id = $2`, calcID, caseID)
	return scanCalculation(row)
}

func (r *repository) ListCalculations(ctx context.Context, caseID uuid.UUID, pageNum, perPage int) ([]Calculation, int, error) {
	page := shared.NewPagination(pageNum, perPage, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM provisioning_calculations WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+calcColumns+` FROM provisioning_calculations WHERE case_id = $1 ORDER BY calc_timestamp DESC LIMIT $2 OFFSET $3`,
		caseID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var calcs []Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, 0, err
		}
		calcs = append(calcs, c)
	}
	return calcs, total, rows.Err()
}

const journalColumns = `j.id, j.calculation_id, j.accounting_entry_id, j.provision_change_amount, j.posted_at, j.posting_description, j.is_reversal, j.reversed_entry_id, j.created_at, j.updated_at`

func scanJournalRows(rows pgx.Rows) ([]ledger.JournalEntry, error) {
	defer rows.Close()
	var entries []ledger.JournalEntry
	for rows.Next() {
		var e ledger.JournalEntry
		var reversed pgtype.UUID
		if err := rows.Scan(&e.ID, &e.CalculationID, &e.AccountingEntryID, &e.Amount, &e.PostedAt, &e.Description, &e.IsReversal, &reversed, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if reversed.Valid {
			id := uuid.UUID(reversed.Bytes)
			e.ReversedEntryID = &id
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const journalByCaseSQL = `SELECT ` + journalColumns + `
FROM provisioning_journal j
JOIN provisioning_calculations c ON c.id = j.calculation_id
WHERE c.case_id = $1
ORDER BY j.posted_at ASC, j.created_at ASC`

func (r *repository) ListJournal(ctx context.Context, caseID uuid.UUID) ([]ledger.JournalEntry, error) {
	rows, err := r.pool.Query(ctx, journalByCaseSQL, caseID)
	if err != nil {
		return nil, err
	}
	return scanJournalRows(rows)
}

func (r *repository) ListJournalForCalculation(ctx context.Context, caseID, calcID uuid.UUID) ([]ledger.JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+journalColumns+`
FROM provisioning_journal j
JOIN provisioning_calculations c ON c.id = j.calculation_id
WHERE c.case_id = $1 AND j.calculation_id = $2
ORDER BY j.posted_at ASC, j.created_at ASC`, caseID, calcID)
	if err != nil {
		return nil, err
	}
	return scanJournalRows(rows)
}

func (r *repository) ListStageHistory(ctx context.Context, caseID uuid.UUID) ([]StageHistory, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, case_id, old_stage_code, new_stage_code, ecl_amount_at_change, changed_at, changed_by, reason, created_at
FROM provisioning_stage_history WHERE case_id = $1 ORDER BY changed_at ASC, created_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []StageHistory
	for rows.Next() {
		var h StageHistory
		if err := rows.Scan(&h.ID, &h.CaseID, &h.OldStage, &h.NewStage, &h.ECLAtChange, &h.ChangedAt, &h.ChangedBy, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetCaseAggregate(ctx context.Context, caseID uuid.UUID) (CaseAggregate, error) {
	c, err := scanCase(r.tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM provisioning_cases WHERE id = $1`, caseID))
	if err != nil {
		return CaseAggregate{}, err
	}

	agg := CaseAggregate{Case: c}

	latest, err := scanCalculation(r.tx.QueryRow(ctx, `SELECT `+calcColumns+` FROM provisioning_calculations WHERE case_id = $1 ORDER BY calc_timestamp DESC, created_at DESC LIMIT 1`, caseID))
	if err == nil {
		agg.LatestCalculation = &latest
	} else if !errors.Is(err, shared.ErrNotFound) {
		return CaseAggregate{}, err
	}

	rows, err := r.tx.Query(ctx, journalByCaseSQL, caseID)
	if err != nil {
		return CaseAggregate{}, err
	}
	agg.Journal, err = scanJournalRows(rows)
	if err != nil {
		return CaseAggregate{}, err
	}
	agg.PostedECL = ledger.NetPosted(agg.Journal)
	return agg, nil
}

func (r *txRepository) GetAssessment(ctx context.Context, caseID, assessmentID uuid.UUID) (assessment.RiskAssessment, error) {
	var a assessment.RiskAssessment
	err := r.tx.QueryRow(ctx, `SELECT id, case_id, pd_value, lgd_value, ead_value, model_version, scenario_code, assessment_date, details, created_at, updated_at
FROM risk_assessments WHERE id = $1 AND case_id = $2`, assessmentID, caseID).
		Scan(&a.ID, &a.CaseID, &a.PD, &a.LGD, &a.EAD, &a.ModelVersion, &a.Scenario, &a.AssessmentDate, &a.Details, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return assessment.RiskAssessment{}, shared.ErrNotFound
		}
		return assessment.RiskAssessment{}, err
	}
	return a, nil
}

func (r *txRepository) InsertCase(ctx context.Context, c Case) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO provisioning_cases (id, servicing_case_id, stage_code, ecl_amount, risk_grade, status, remarks, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 1, NOW(), NOW())`,
		c.ID, c.ServicingCaseID, c.Stage, c.ECLAmount, c.RiskGrade, c.Status, c.Remarks)
	return err
}

func (r *txRepository) UpdateCaseFields(ctx context.Context, caseID uuid.UUID, expectedVersion int64, grade RiskGrade, status ProvisioningStatus, remarks string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE provisioning_cases
SET risk_grade = $3, status = $4, remarks = $5, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2`, caseID, expectedVersion, grade, status, remarks)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (r *txRepository) DeleteCase(ctx context.Context, caseID uuid.UUID) error {
	// Children cascade through FK constraints. The coordinator has already
	// verified the case carries no journal postings.
	cmd, err := r.tx.Exec(ctx, `DELETE FROM provisioning_cases WHERE id = $1`, caseID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) CountJournal(ctx context.Context, caseID uuid.UUID) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM provisioning_journal j
JOIN provisioning_calculations c ON c.id = j.calculation_id
WHERE c.case_id = $1`, caseID).Scan(&count)
	return count, err
}

func (r *txRepository) InsertCalculation(ctx context.Context, c Calculation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO provisioning_calculations (id, case_id, assessment_id, final_ecl, calc_method, calc_timestamp, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		c.ID, c.CaseID, c.AssessmentID, c.FinalECL, c.Method, c.CalcTimestamp, c.Notes)
	return err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, e ledger.JournalEntry) error {
	var reversed any
	if e.ReversedEntryID != nil {
		reversed = *e.ReversedEntryID
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO provisioning_journal (id, calculation_id, accounting_entry_id, provision_change_amount, posted_at, posting_description, is_reversal, reversed_entry_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		e.ID, e.CalculationID, e.AccountingEntryID, e.Amount, e.PostedAt, e.Description, e.IsReversal, reversed)
	return err
}

func (r *txRepository) InsertStageHistory(ctx context.Context, h StageHistory) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO provisioning_stage_history (id, case_id, old_stage_code, new_stage_code, ecl_amount_at_change, changed_at, changed_by, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		h.ID, h.CaseID, h.OldStage, h.NewStage, h.ECLAtChange, h.ChangedAt, h.ChangedBy, h.Reason)
	return err
}

func (r *txRepository) UpdateCaseSummary(ctx context.Context, u CaseSummaryUpdate) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE provisioning_cases
SET ecl_amount = $3, stage_code = $4, last_calculated_at = $5, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2`,
		u.CaseID, u.ExpectedVersion, u.ECLAmount, u.Stage, u.LastCalculatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (r *txRepository) TouchCase(ctx context.Context, caseID uuid.UUID, expectedVersion int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE provisioning_cases SET version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2`, caseID, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}
