package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore implements Store on a single SQLite file. It serves the CLI,
// which runs without a Postgres server.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) HasCompleted(ctx context.Context, buildID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM build_history WHERE build_id = ?)`, buildID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) TryAcquireLease(ctx context.Context, buildID string) (models.ProcessingLease, bool, error) {
	now := s.opts.now()
	lease := models.ProcessingLease{BuildID: buildID, Token: uuid.NewString(), StartedAt: now}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_leases (build_id, token, started_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (build_id) DO UPDATE SET
		   token = excluded.token,
		   started_at = excluded.started_at
		 WHERE processing_leases.started_at <= ?`,
		lease.BuildID, lease.Token, now.UnixNano(), now.Add(-s.opts.leaseTTL).UnixNano())
	if err != nil {
		return models.ProcessingLease{}, false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.ProcessingLease{}, false, fmt.Errorf("acquire lease: %w", err)
	}
	if n == 0 {
		return models.ProcessingLease{}, false, nil
	}
	return lease, true, nil
}

func (s *SQLiteStore) LeaseActive(ctx context.Context, buildID string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processing_leases WHERE build_id = ? AND started_at > ?)`,
		buildID, s.opts.now().Add(-s.opts.leaseTTL).UnixNano(),
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check lease: %w", err)
	}
	return active, nil
}

func (s *SQLiteStore) HoldsLease(ctx context.Context, lease models.ProcessingLease) (bool, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM processing_leases WHERE build_id = ?`, lease.BuildID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check lease holder: %w", err)
	}
	return token == lease.Token, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, lease models.ProcessingLease) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_leases WHERE build_id = ? AND token = ?`, lease.BuildID, lease.Token)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, result *models.AnalysisResult, logPreview string) (*models.HistoryRecord, error) {
	rec := historyFromResult(result, logPreview)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.opts.now()
	}
	steps, err := json.Marshal(rec.FixSteps)
	if err != nil {
		return nil, fmt.Errorf("encode fix steps: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO build_history (build_id, build_name, status, error_quote, explanation, fix_steps, severity, analyzed_at, log_preview)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BuildID, rec.BuildName, string(rec.Status), rec.ErrorQuote, rec.Explanation,
		string(steps), string(rec.Severity), rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.LogPreview)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("record history: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*models.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, build_name, status, error_quote, explanation, fix_steps, severity, analyzed_at, log_preview
		 FROM build_history ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent history: %w", err)
	}
	defer rows.Close()

	var records []*models.HistoryRecord
	for rows.Next() {
		var (
			r                 models.HistoryRecord
			status, severity  string
			steps, analyzedAt string
		)
		if err := rows.Scan(&r.ID, &r.BuildID, &r.BuildName, &status, &r.ErrorQuote, &r.Explanation,
			&steps, &severity, &analyzedAt, &r.LogPreview); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &r.FixSteps); err != nil {
			return nil, fmt.Errorf("decode fix steps for build %s: %w", r.BuildID, err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, analyzedAt)
		r.Status = models.BuildStatus(status)
		r.Severity = models.Severity(severity)
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) CountCompleted(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM build_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, buildID, message, kind string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failure_log (build_id, error_message, error_kind, occurred_at) VALUES (?, ?, ?, ?)`,
		buildID, message, kind, s.opts.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		slog.Warn("recording failure log entry", "build_id", buildID, "kind", kind, "error", err)
	}
}

func (s *SQLiteStore) Metrics(ctx context.Context) (*models.Metrics, error) {
	m := &models.Metrics{}
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM build_history), (SELECT COUNT(*) FROM failure_log)`,
	).Scan(&m.TotalBuilds, &m.FailedAnalyses)
	if err != nil {
		return nil, fmt.Errorf("count metrics: %w", err)
	}

	var (
		last       models.FailureLogEntry
		occurredAt string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, build_id, error_message, error_kind, occurred_at
		 FROM failure_log ORDER BY id DESC LIMIT 1`,
	).Scan(&last.ID, &last.BuildID, &last.ErrorMessage, &last.ErrorKind, &occurredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last failure: %w", err)
	}
	last.Timestamp, _ = time.Parse(time.RFC3339Nano, occurredAt)
	m.LastError = &last
	return m, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"build_history", "processing_leases", "failure_log"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}
