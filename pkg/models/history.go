package models

import "time"

// HistoryRecord is the persisted projection of an AnalysisResult.
// Records are append-only and ordered by ID.
type HistoryRecord struct {
	ID          int64       `db:"id"           json:"id"`
	BuildID     string      `db:"build_id"     json:"build_id"`
	BuildName   string      `db:"build_name"   json:"build_name"`
	Status      BuildStatus `db:"status"       json:"status"`
	ErrorQuote  string      `db:"error_quote"  json:"error_quote"`
	Explanation string      `db:"explanation"  json:"explanation"`
	FixSteps    []string    `db:"fix_steps"    json:"fix_steps"`
	Severity    Severity    `db:"severity"     json:"severity"`
	Timestamp   time.Time   `db:"analyzed_at"  json:"timestamp"`
	LogPreview  string      `db:"log_preview"  json:"log_preview"`
}

// FailureLogEntry is one entry of the append-only failure trail.
type FailureLogEntry struct {
	ID           int64     `db:"id"            json:"id"`
	BuildID      string    `db:"build_id"      json:"build_id"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	ErrorKind    string    `db:"error_kind"    json:"error_kind"`
	Timestamp    time.Time `db:"occurred_at"   json:"timestamp"`
}

// Failure kinds recorded in the failure log.
const (
	FailureKindDedup     = "dedup"
	FailureKindLease     = "lease"
	FailureKindFetch     = "fetch"
	FailureKindDiagnosis = "diagnosis"
	FailureKindPersist   = "persist"
	FailureKindPanic     = "panic"
)

// Metrics is a derived summary of the state store.
type Metrics struct {
	TotalBuilds    int              `json:"total_builds"`
	FailedAnalyses int              `json:"failed_analyses"`
	LastError      *FailureLogEntry `json:"last_error"`
}

// ProcessingLease grants one unit exclusive analysis of a build. Token
// identifies the generation so a superseded holder can detect it lost the lease.
type ProcessingLease struct {
	BuildID   string    `db:"build_id"   json:"build_id"`
	Token     string    `db:"token"      json:"token"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
}
