package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atlaslending/provisioning/internal/platform/cache"
	"github.com/atlaslending/provisioning/internal/shared"

	jobmetrics "github.com/atlaslending/provisioning/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// integrityLockTTL keeps overlapping scans from piling up on large books.
const integrityLockTTL = 30 * time.Minute

// LedgerIntegrityJob sweeps the provisioning book for cases whose summary
// drifted from the posted journal and for malformed reversal pairs.
type LedgerIntegrityJob struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Pool:    pool,
		Redis:   redisClient,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type driftedCase struct {
	CaseID    string
	ECLAmount string
	PostedNet string
}

type brokenReversal struct {
	EntryID         string
	ReversedEntryID string
	Amount          string
	OriginalAmount  string
}

// Handle executes the integrity scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MaxCases <= 0 {
		payload.MaxCases = 100
	}

	logger := j.logger()
	if j.Redis != nil {
		acquired, err := cache.AcquireLock(ctx, j.Redis, shared.JobLockKey(TaskLedgerIntegrity), integrityLockTTL)
		if err != nil {
			logger.Warn("integrity lock", slog.Any("error", err))
		} else if !acquired {
			logger.Info("integrity scan already running, skipping")
			return nil
		} else {
			defer func() {
				_ = cache.ReleaseLock(context.WithoutCancel(ctx), j.Redis, shared.JobLockKey(TaskLedgerIntegrity))
			}()
		}
	}

	start := j.now()
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger.Info("starting ledger integrity scan")

	var drifted []driftedCase
	var broken []brokenReversal
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		drifted, err = j.scanSummaryDrift(groupCtx, payload.MaxCases)
		return err
	})
	group.Go(func() error {
		var err error
		broken, err = j.scanReversalPairs(groupCtx, payload.MaxCases)
		return err
	})
	if err := group.Wait(); err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	for _, d := range drifted {
		logger.Warn("case summary drifted from posted journal",
			slog.String("case_id", d.CaseID),
			slog.String("ecl_amount", d.ECLAmount),
			slog.String("posted_net", d.PostedNet),
		)
	}
	for _, b := range broken {
		logger.Warn("reversal does not cancel its original posting",
			slog.String("entry_id", b.EntryID),
			slog.String("reversed_entry_id", b.ReversedEntryID),
			slog.String("amount", b.Amount),
			slog.String("original_amount", b.OriginalAmount),
		)
	}
	j.metrics().AddImbalances("summary_drift", len(drifted))
	j.metrics().AddImbalances("reversal_mismatch", len(broken))

	logger.Info("completed ledger integrity scan",
		slog.Int("drifted_cases", len(drifted)),
		slog.Int("broken_reversals", len(broken)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

// scanSummaryDrift reports cases whose posted journal net differs from the
// summarised ECL. A non-empty result is expected transiently after a reversal
// until the corrective calculation run lands.
func (j *LedgerIntegrityJob) scanSummaryDrift(ctx context.Context, limit int) ([]driftedCase, error) {
	if j.Pool == nil {
		return nil, errors.New("ledger integrity: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT pc.id, pc.ecl_amount::text, COALESCE(SUM(pj.provision_change_amount), 0)::text
		FROM provisioning_cases pc
		LEFT JOIN provisioning_calculations cal ON cal.case_id = pc.id
		LEFT JOIN provisioning_journal pj ON pj.calculation_id = cal.id
		GROUP BY pc.id, pc.ecl_amount
		HAVING pc.ecl_amount <> COALESCE(SUM(pj.provision_change_amount), 0)
		ORDER BY pc.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifted []driftedCase
	for rows.Next() {
		var d driftedCase
		if err := rows.Scan(&d.CaseID, &d.ECLAmount, &d.PostedNet); err != nil {
			return nil, err
		}
		drifted = append(drifted, d)
	}
	return drifted, rows.Err()
}

// scanReversalPairs reports reversal entries whose amount is not the exact
// negation of the entry they cancel.
func (j *LedgerIntegrityJob) scanReversalPairs(ctx context.Context, limit int) ([]brokenReversal, error) {
	if j.Pool == nil {
		return nil, errors.New("ledger integrity: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT rev.id, orig.id, rev.provision_change_amount::text, orig.provision_change_amount::text
		FROM provisioning_journal rev
		JOIN provisioning_journal orig ON orig.id = rev.reversed_entry_id
		WHERE rev.is_reversal AND rev.provision_change_amount <> -orig.provision_change_amount
		ORDER BY rev.posted_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var broken []brokenReversal
	for rows.Next() {
		var b brokenReversal
		if err := rows.Scan(&b.EntryID, &b.ReversedEntryID, &b.Amount, &b.OriginalAmount); err != nil {
			return nil, err
		}
		broken = append(broken, b)
	}
	return broken, rows.Err()
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
