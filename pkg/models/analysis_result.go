package models

import "time"

// Severity classifies the urgency of a build failure. The last four values
// are control states rather than failure grades.
type Severity string

const (
	SeverityCritical  Severity = "critical"
	SeverityHigh      Severity = "high"
	SeverityMedium    Severity = "medium"
	SeverityLow       Severity = "low"
	SeveritySuccess   Severity = "success"
	SeverityIgnored   Severity = "ignored"
	SeverityDuplicate Severity = "duplicate"
	SeverityUnknown   Severity = "unknown"
)

// Notifiable reports whether a result with this severity should raise an alert.
func (s Severity) Notifiable() bool {
	switch s {
	case SeveritySuccess, SeverityIgnored, SeverityDuplicate:
		return false
	}
	return true
}

// AnalysisResult holds the structured diagnosis for a single build.
type AnalysisResult struct {
	BuildID     string      `json:"build_id"`
	BuildName   string      `json:"build_name"`
	Status      BuildStatus `json:"status"`
	ErrorQuote  string      `json:"error_quote"`
	Explanation string      `json:"explanation"`
	FixSteps    []string    `json:"fix_steps"`
	Severity    Severity    `json:"severity"`
	Timestamp   time.Time   `json:"timestamp"`
}
