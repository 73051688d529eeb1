package assessment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlaslending/provisioning/internal/shared"
)

// Repository persists risk assessments scoped by their owning case.
type Repository interface {
	Create(ctx context.Context, a RiskAssessment) error
	Get(ctx context.Context, caseID, id uuid.UUID) (RiskAssessment, error)
	List(ctx context.Context, caseID uuid.UUID, page, perPage int) ([]RiskAssessment, int, error)
	Update(ctx context.Context, a RiskAssessment) error
	Delete(ctx context.Context, caseID, id uuid.UUID) error
	// IsConsumed reports whether a calculation references the assessment.
	IsConsumed(ctx context.Context, id uuid.UUID) (bool, error)
	CaseExists(ctx context.Context, caseID uuid.UUID) (bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const columns = `id, case_id, pd_value, lgd_value, ead_value, model_version, scenario_code, assessment_date, details, created_at, updated_at`

func scanAssessment(row pgx.Row) (RiskAssessment, error) {
	var a RiskAssessment
	err := row.Scan(&a.ID, &a.CaseID, &a.PD, &a.LGD, &a.EAD, &a.ModelVersion, &a.Scenario, &a.AssessmentDate, &a.Details, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RiskAssessment{}, shared.ErrNotFound
		}
		return RiskAssessment{}, err
	}
	return a, nil
}

func (r *repository) Create(ctx context.Context, a RiskAssessment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO risk_assessments (id, case_id, pd_value, lgd_value, ead_value, model_version, scenario_code, assessment_date, details, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		a.ID, a.CaseID, a.PD, a.LGD, a.EAD, a.ModelVersion, a.Scenario, a.AssessmentDate, a.Details)
	return err
}

func (r *repository) Get(ctx context.Context, caseID, id uuid.UUID) (RiskAssessment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM risk_assessments WHERE id = $1 AND case_id = $2`, id, caseID)
	return scanAssessment(row)
}

func (r *repository) List(ctx context.Context, caseID uuid.UUID, pageNum, perPage int) ([]RiskAssessment, int, error) {
	page := shared.NewPagination(pageNum, perPage, 0)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM risk_assessments WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM risk_assessments WHERE case_id = $1 ORDER BY assessment_date DESC LIMIT $2 OFFSET $3`,
		caseID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var assessments []RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		assessments = append(assessments, a)
	}
	return assessments, total, rows.Err()
}

func (r *repository) Update(ctx context.Context, a RiskAssessment) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE risk_assessments
SET pd_value = $3, lgd_value = $4, ead_value = $5, model_version = $6, scenario_code = $7, assessment_date = $8, details = $9, updated_at = NOW()
WHERE id = $1 AND case_id = $2`,
		a.ID, a.CaseID, a.PD, a.LGD, a.EAD, a.ModelVersion, a.Scenario, a.AssessmentDate, a.Details)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, caseID, id uuid.UUID) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM risk_assessments WHERE id = $1 AND case_id = $2`, id, caseID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) IsConsumed(ctx context.Context, id uuid.UUID) (bool, error) {
	var consumed bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM provisioning_calculations WHERE assessment_id = $1)`, id).Scan(&consumed)
	return consumed, err
}

func (r *repository) CaseExists(ctx context.Context, caseID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM provisioning_cases WHERE id = $1)`, caseID).Scan(&exists)
	return exists, err
}
