package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// MemoryStore is a process-local Store. It backs tests and single-shot CLI runs
// that do not need durability.
type MemoryStore struct {
	opts options

	mu       sync.Mutex
	history  []*models.HistoryRecord
	leases   map[string]models.ProcessingLease
	failures []models.FailureLogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:   buildOptions(opts),
		leases: make(map[string]models.ProcessingLease),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) HasCompleted(_ context.Context, buildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.history {
		if h.BuildID == buildID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) TryAcquireLease(_ context.Context, buildID string) (models.ProcessingLease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	if cur, ok := s.leases[buildID]; ok && now.Sub(cur.StartedAt) < s.opts.leaseTTL {
		return models.ProcessingLease{}, false, nil
	}

	lease := models.ProcessingLease{BuildID: buildID, Token: uuid.NewString(), StartedAt: now}
	s.leases[buildID] = lease
	return lease, true, nil
}

func (s *MemoryStore) LeaseActive(_ context.Context, buildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.leases[buildID]
	return ok && s.opts.now().Sub(cur.StartedAt) < s.opts.leaseTTL, nil
}

func (s *MemoryStore) HoldsLease(_ context.Context, lease models.ProcessingLease) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.leases[lease.BuildID]
	return ok && cur.Token == lease.Token, nil
}

func (s *MemoryStore) ReleaseLease(_ context.Context, lease models.ProcessingLease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.leases[lease.BuildID]; ok && cur.Token == lease.Token {
		delete(s.leases, lease.BuildID)
	}
	return nil
}

func (s *MemoryStore) Record(_ context.Context, result *models.AnalysisResult, logPreview string) (*models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.history {
		if h.BuildID == result.BuildID {
			return nil, ErrDuplicateKey
		}
	}

	rec := historyFromResult(result, logPreview)
	rec.ID = int64(len(s.history) + 1)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.opts.now()
	}
	s.history = append(s.history, rec)

	out := *rec
	return &out, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]*models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = clampLimit(limit)
	out := make([]*models.HistoryRecord, 0, min(limit, len(s.history)))
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		rec := *s.history[i]
		out = append(out, &rec)
	}
	return out, nil
}

func (s *MemoryStore) CountCompleted(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history), nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, buildID, message, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, models.FailureLogEntry{
		ID:           int64(len(s.failures) + 1),
		BuildID:      buildID,
		ErrorMessage: message,
		ErrorKind:    kind,
		Timestamp:    s.opts.now(),
	})
}

func (s *MemoryStore) Metrics(_ context.Context) (*models.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &models.Metrics{
		TotalBuilds:    len(s.history),
		FailedAnalyses: len(s.failures),
	}
	if n := len(s.failures); n > 0 {
		last := s.failures[n-1]
		m.LastError = &last
	}
	return m, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.failures = nil
	s.leases = make(map[string]models.ProcessingLease)
	return nil
}

func historyFromResult(result *models.AnalysisResult, logPreview string) *models.HistoryRecord {
	steps := make([]string, len(result.FixSteps))
	copy(steps, result.FixSteps)
	return &models.HistoryRecord{
		BuildID:     result.BuildID,
		BuildName:   result.BuildName,
		Status:      result.Status,
		ErrorQuote:  result.ErrorQuote,
		Explanation: result.Explanation,
		FixSteps:    steps,
		Severity:    result.Severity,
		Timestamp:   result.Timestamp,
		LogPreview:  Preview(logPreview),
	}
}
