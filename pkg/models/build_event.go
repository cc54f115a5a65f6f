package models

import (
	"strings"
	"time"
)

// BuildStatus is the terminal result reported by the CI system.
type BuildStatus string

const (
	BuildStatusSucceeded          BuildStatus = "succeeded"
	BuildStatusFailed             BuildStatus = "failed"
	BuildStatusPartiallySucceeded BuildStatus = "partiallySucceeded"
	BuildStatusUnknown            BuildStatus = "unknown"
)

// IsFailure reports whether the status warrants a failure analysis.
func (s BuildStatus) IsFailure() bool {
	return s == BuildStatusFailed || s == BuildStatusPartiallySucceeded
}

// ParseBuildStatus maps a CI result string to a BuildStatus. Known values
// match case-insensitively; an empty value is unknown and anything else is
// kept as reported.
func ParseBuildStatus(s string) BuildStatus {
	s = strings.TrimSpace(s)
	for _, known := range []BuildStatus{BuildStatusSucceeded, BuildStatusFailed, BuildStatusPartiallySucceeded} {
		if strings.EqualFold(s, string(known)) {
			return known
		}
	}
	if s == "" {
		return BuildStatusUnknown
	}
	return BuildStatus(s)
}

// BuildEvent is a build-completion notification. BuildID is the dedup key.
// RawResource is the untouched resource object from the webhook and is only
// used as the fallback payload when logs cannot be retrieved.
type BuildEvent struct {
	BuildID     string         `json:"build_id"`
	BuildName   string         `json:"build_name"`
	Status      BuildStatus    `json:"status"`
	RawResource map[string]any `json:"raw_resource,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}
