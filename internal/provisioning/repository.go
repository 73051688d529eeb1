package provisioning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlaslending/provisioning/internal/assessment"
	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/staging"
)

// ListCasesRequest filters and paginates case listings.
type ListCasesRequest struct {
	Stage   string
	Status  string
	Page    int
	PerPage int
}

// CaseSummaryUpdate carries the denormalized fields written at the end of a
// unit of work. ExpectedVersion is the version read at the start; a mismatch
// at commit time means another writer got there first.
type CaseSummaryUpdate struct {
	CaseID           uuid.UUID
	ExpectedVersion  int64
	ECLAmount        decimal.Decimal
	Stage            staging.StageCode
	LastCalculatedAt time.Time
}

// Repository provides reads outside a unit of work plus the transactional
// scope for mutations. Every ownership-scoped read treats a parent-case
// mismatch as not-found, never as another case's data.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetCase(ctx context.Context, id uuid.UUID) (Case, error)
	ListCases(ctx context.Context, req ListCasesRequest) ([]Case, int, error)
	GetCalculation(ctx context.Context, caseID, calcID uuid.UUID) (Calculation, error)
	ListCalculations(ctx context.Context, caseID uuid.UUID, page, perPage int) ([]Calculation, int, error)
	ListJournal(ctx context.Context, caseID uuid.UUID) ([]ledger.JournalEntry, error)
	ListJournalForCalculation(ctx context.Context, caseID, calcID uuid.UUID) ([]ledger.JournalEntry, error)
	ListStageHistory(ctx context.Context, caseID uuid.UUID) ([]StageHistory, error)
}

// TxRepository exposes the operations available inside one atomic unit of
// work. The four-way commit of the coordinator (case summary + calculation +
// optional stage history + optional journal entry) happens through these.
type TxRepository interface {
	GetCaseAggregate(ctx context.Context, caseID uuid.UUID) (CaseAggregate, error)
	GetAssessment(ctx context.Context, caseID, assessmentID uuid.UUID) (assessment.RiskAssessment, error)

	InsertCase(ctx context.Context, c Case) error
	UpdateCaseFields(ctx context.Context, caseID uuid.UUID, expectedVersion int64, grade RiskGrade, status ProvisioningStatus, remarks string) error
	DeleteCase(ctx context.Context, caseID uuid.UUID) error
	CountJournal(ctx context.Context, caseID uuid.UUID) (int, error)

	InsertCalculation(ctx context.Context, c Calculation) error
	InsertJournalEntry(ctx context.Context, e ledger.JournalEntry) error
	InsertStageHistory(ctx context.Context, h StageHistory) error

	// UpdateCaseSummary applies the optimistic version check; zero affected
	// rows surface as the concurrent-modification sentinel.
	UpdateCaseSummary(ctx context.Context, u CaseSummaryUpdate) error
	// TouchCase bumps the case version without changing the summary, used by
	// units of work that only append journal rows.
	TouchCase(ctx context.Context, caseID uuid.UUID, expectedVersion int64) error
}
