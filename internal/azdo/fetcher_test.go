package azdo_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/azdo"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedFailure struct {
	BuildID, Message, Kind string
}

type fakeRecorder struct {
	mu       sync.Mutex
	failures []recordedFailure
}

func (r *fakeRecorder) RecordFailure(_ context.Context, buildID, message, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, recordedFailure{buildID, message, kind})
}

// azdoServer serves a log list and per-log content. Logs listed in failing
// always answer 503.
type azdoServer struct {
	*httptest.Server
	entries  []azdo.LogEntry
	content  map[int]string
	failing  map[int]bool
	listCode int

	mu       sync.Mutex
	contents []int
	auth     string
}

func newAzdoServer(t *testing.T) *azdoServer {
	t.Helper()
	s := &azdoServer{content: map[int]string{}, failing: map[int]bool{}, listCode: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *azdoServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.auth = r.Header.Get("Authorization")
	s.mu.Unlock()

	if strings.HasSuffix(r.URL.Path, "/logs") {
		if s.listCode != http.StatusOK {
			w.WriteHeader(s.listCode)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"count": len(s.entries), "value": s.entries})
		return
	}

	var id int
	_, _ = fmt.Sscanf(r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:], "%d", &id)
	s.mu.Lock()
	s.contents = append(s.contents, id)
	s.mu.Unlock()

	if s.failing[id] {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(s.content[id]))
}

func clientFor(srv *azdoServer) *azdo.HTTPClient {
	return azdo.NewHTTPClient(config.AzureDevOpsConfig{
		BaseURL:     srv.URL,
		Org:         "acme",
		Project:     "web",
		PAT:         "secret-pat",
		Timeout:     time.Second,
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
	})
}

func TestFetch_SelectsContainerSegmentsInOrder(t *testing.T) {
	srv := newAzdoServer(t)
	srv.entries = []azdo.LogEntry{
		{ID: 1, Type: "Container"},
		{ID: 2, Type: "Task"},
		{ID: 3, Type: "Container"},
		{ID: 4, Type: "Container"},
	}
	srv.content = map[int]string{1: "one", 2: "two", 3: "three", 4: "four"}

	f := azdo.NewFetcher(clientFor(srv), &fakeRecorder{}, 3)
	text := f.Fetch(context.Background(), "42", nil)

	assert.Equal(t, "one\n\nthree\n\nfour", text)
	assert.NotContains(t, srv.contents, 2)
}

func TestFetch_FailedSegmentContributesNothing(t *testing.T) {
	srv := newAzdoServer(t)
	srv.entries = []azdo.LogEntry{
		{ID: 1, Type: "Container"},
		{ID: 2, Type: "Container"},
		{ID: 3, Type: "Container"},
		{ID: 9, Type: "Phase"},
	}
	srv.content = map[int]string{1: "one", 2: "two", 3: "three"}
	srv.failing[2] = true

	rec := &fakeRecorder{}
	f := azdo.NewFetcher(clientFor(srv), rec, 3)
	text := f.Fetch(context.Background(), "42", nil)

	assert.Equal(t, "one\n\nthree", text)
	assert.Empty(t, rec.failures)
}

func TestFetch_NoContainerEntriesUsesAll(t *testing.T) {
	srv := newAzdoServer(t)
	srv.entries = []azdo.LogEntry{{ID: 5, Type: "Task"}, {ID: 6, Type: "Task"}}
	srv.content = map[int]string{5: "five", 6: "six"}

	f := azdo.NewFetcher(clientFor(srv), nil, 3)
	assert.Equal(t, "five\n\nsix", f.Fetch(context.Background(), "42", nil))
}

func TestFetch_CapsSegmentCount(t *testing.T) {
	srv := newAzdoServer(t)
	for i := 1; i <= 6; i++ {
		srv.entries = append(srv.entries, azdo.LogEntry{ID: i, Type: "Container"})
		srv.content[i] = fmt.Sprintf("log%d", i)
	}

	f := azdo.NewFetcher(clientFor(srv), nil, 3)
	assert.Equal(t, "log1\n\nlog2\n\nlog3", f.Fetch(context.Background(), "42", nil))
}

func TestFetch_ListFailureFallsBackToSnapshot(t *testing.T) {
	srv := newAzdoServer(t)
	srv.listCode = http.StatusInternalServerError

	rec := &fakeRecorder{}
	resource := map[string]any{"id": 42, "result": "failed"}
	f := azdo.NewFetcher(clientFor(srv), rec, 3)
	text := f.Fetch(context.Background(), "42", resource)

	assert.Equal(t, azdo.Snapshot(resource), text)
	assert.Contains(t, text, `"result": "failed"`)
	require.Len(t, rec.failures, 1)
	assert.Equal(t, models.FailureKindFetch, rec.failures[0].Kind)
	assert.Equal(t, "42", rec.failures[0].BuildID)
}

func TestFetch_AllSegmentsFailFallsBackToSnapshot(t *testing.T) {
	srv := newAzdoServer(t)
	srv.entries = []azdo.LogEntry{{ID: 1, Type: "Container"}}
	srv.failing[1] = true

	rec := &fakeRecorder{}
	resource := map[string]any{"id": 42}
	f := azdo.NewFetcher(clientFor(srv), rec, 3)

	assert.Equal(t, azdo.Snapshot(resource), f.Fetch(context.Background(), "42", resource))
	assert.Len(t, rec.failures, 1)
}

func TestFetch_UsesHintURLAndBasicAuth(t *testing.T) {
	srv := newAzdoServer(t)
	srv.entries = []azdo.LogEntry{{ID: 1, Type: "Container"}}
	srv.content[1] = "hinted"

	resource := map[string]any{
		"logs": map[string]any{"url": srv.URL + "/custom/_apis/build/builds/42/logs"},
	}
	f := azdo.NewFetcher(clientFor(srv), nil, 3)

	assert.Equal(t, "hinted", f.Fetch(context.Background(), "42", resource))
	assert.Equal(t, "Basic OnNlY3JldC1wYXQ=", srv.auth)
}

func TestFetch_NilClientReturnsSnapshot(t *testing.T) {
	resource := map[string]any{"id": "7"}
	f := azdo.NewFetcher(nil, nil, 3)
	assert.Equal(t, azdo.Snapshot(resource), f.Fetch(context.Background(), "7", resource))
}

func TestSelectEntries(t *testing.T) {
	entries := []azdo.LogEntry{{ID: 1, Type: "Task"}, {ID: 2, Type: "Container"}}
	assert.Equal(t, []azdo.LogEntry{{ID: 2, Type: "Container"}}, azdo.SelectEntries(entries, 3))
	assert.Len(t, azdo.SelectEntries(nil, 3), 0)
}

func TestHintURL(t *testing.T) {
	assert.Equal(t, "", azdo.HintURL(nil))
	assert.Equal(t, "", azdo.HintURL(map[string]any{"logs": "nope"}))
	assert.Equal(t, "http://x", azdo.HintURL(map[string]any{"logs": map[string]any{"url": "http://x"}}))
}

func TestHTTPClient_URLs(t *testing.T) {
	c := azdo.NewHTTPClient(config.AzureDevOpsConfig{BaseURL: "https://dev.azure.com", Org: "acme", Project: "Web App"})

	assert.Equal(t, "https://dev.azure.com/acme/Web%20App/_apis/build/builds/42/logs?api-version=7.1", c.LogsURL("42"))
	assert.Equal(t, "https://dev.azure.com/acme/Web%20App/_apis/build/builds/42/logs/3?api-version=7.1", c.LogURL("42", 3))
	assert.Equal(t, "https://dev.azure.com/acme/Web%20App/_build/results?buildId=42", c.BuildResultsURL("42"))
}
