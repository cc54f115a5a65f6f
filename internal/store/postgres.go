package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: buildOptions(opts)}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- History ---

func (s *PostgresStore) HasCompleted(ctx context.Context, buildID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM build_history WHERE build_id = $1)`, buildID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Record(ctx context.Context, result *models.AnalysisResult, logPreview string) (*models.HistoryRecord, error) {
	rec := historyFromResult(result, logPreview)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.opts.now()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO build_history (build_id, build_name, status, error_quote, explanation, fix_steps, severity, analyzed_at, log_preview)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		rec.BuildID, rec.BuildName, string(rec.Status), rec.ErrorQuote, rec.Explanation,
		rec.FixSteps, string(rec.Severity), rec.Timestamp, rec.LogPreview,
	).Scan(&rec.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("record history: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*models.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, build_id, build_name, status, error_quote, explanation, fix_steps, severity, analyzed_at, log_preview
		 FROM build_history ORDER BY id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent history: %w", err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		var (
			r        models.HistoryRecord
			status   string
			severity string
		)
		if err := rows.Scan(&r.ID, &r.BuildID, &r.BuildName, &status, &r.ErrorQuote, &r.Explanation,
			&r.FixSteps, &severity, &r.Timestamp, &r.LogPreview); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		r.Status = models.BuildStatus(status)
		r.Severity = models.Severity(severity)
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) CountCompleted(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM build_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// --- Leases ---

// TryAcquireLease inserts a lease, or takes over one whose started_at is past
// the TTL. The conditional upsert runs as one statement, so concurrent callers
// for the same build cannot both succeed.
func (s *PostgresStore) TryAcquireLease(ctx context.Context, buildID string) (models.ProcessingLease, bool, error) {
	now := s.opts.now()
	lease := models.ProcessingLease{BuildID: buildID, Token: uuid.NewString(), StartedAt: now}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processing_leases (build_id, token, started_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (build_id) DO UPDATE SET
		   token = EXCLUDED.token,
		   started_at = EXCLUDED.started_at
		 WHERE processing_leases.started_at <= $4`,
		lease.BuildID, lease.Token, lease.StartedAt, now.Add(-s.opts.leaseTTL))
	if err != nil {
		return models.ProcessingLease{}, false, fmt.Errorf("acquire lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ProcessingLease{}, false, nil
	}
	return lease, true, nil
}

func (s *PostgresStore) LeaseActive(ctx context.Context, buildID string) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processing_leases WHERE build_id = $1 AND started_at > $2)`,
		buildID, s.opts.now().Add(-s.opts.leaseTTL),
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check lease: %w", err)
	}
	return active, nil
}

func (s *PostgresStore) HoldsLease(ctx context.Context, lease models.ProcessingLease) (bool, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT token FROM processing_leases WHERE build_id = $1`, lease.BuildID,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check lease holder: %w", err)
	}
	return token == lease.Token, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, lease models.ProcessingLease) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM processing_leases WHERE build_id = $1 AND token = $2`, lease.BuildID, lease.Token)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// --- Failure log ---

func (s *PostgresStore) RecordFailure(ctx context.Context, buildID, message, kind string) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failure_log (build_id, error_message, error_kind, occurred_at) VALUES ($1, $2, $3, $4)`,
		buildID, message, kind, s.opts.now())
	if err != nil {
		slog.Warn("recording failure log entry", "build_id", buildID, "kind", kind, "error", err)
	}
}

func (s *PostgresStore) Metrics(ctx context.Context) (*models.Metrics, error) {
	m := &models.Metrics{}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM build_history), (SELECT COUNT(*) FROM failure_log)`,
	).Scan(&m.TotalBuilds, &m.FailedAnalyses)
	if err != nil {
		return nil, fmt.Errorf("count metrics: %w", err)
	}

	var last models.FailureLogEntry
	err = s.pool.QueryRow(ctx,
		`SELECT id, build_id, error_message, error_kind, occurred_at
		 FROM failure_log ORDER BY id DESC LIMIT 1`,
	).Scan(&last.ID, &last.BuildID, &last.ErrorMessage, &last.ErrorKind, &last.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last failure: %w", err)
	}
	m.LastError = &last
	return m, nil
}

// --- Admin ---

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE build_history, processing_leases, failure_log RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
