package azdo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kiranshivaraju/buildwatch/internal/config"
)

const apiVersion = "7.1"

// LogEntry is one log segment listed for a build.
type LogEntry struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Client is the interface for reading build logs from Azure DevOps.
type Client interface {
	// ListLogs returns the build's log segments. listURL overrides the
	// derived endpoint when non-empty.
	ListLogs(ctx context.Context, buildID, listURL string) ([]LogEntry, error)
	// LogContent returns the plain-text content of one segment.
	LogContent(ctx context.Context, buildID string, entry LogEntry) (string, error)
}

// HTTPClient implements Client using the Azure DevOps REST API.
type HTTPClient struct {
	baseURL string
	org     string
	project string
	pat     string
	retrier *Retrier
}

// NewHTTPClient creates a new Azure DevOps HTTP client.
func NewHTTPClient(cfg config.AzureDevOpsConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		org:     cfg.Org,
		project: cfg.Project,
		pat:     cfg.PAT,
		retrier: NewRetrier(&http.Client{}, RetryPolicy{
			MaxAttempts:    cfg.MaxAttempts,
			BaseDelay:      cfg.BaseDelay,
			RequestTimeout: cfg.Timeout,
		}),
	}
}

// LogsURL is the default log-list endpoint for a build.
func (c *HTTPClient) LogsURL(buildID string) string {
	return fmt.Sprintf("%s/_apis/build/builds/%s/logs?api-version=%s",
		c.projectURL(), url.PathEscape(buildID), apiVersion)
}

// LogURL is the content endpoint for one log segment.
func (c *HTTPClient) LogURL(buildID string, logID int) string {
	return fmt.Sprintf("%s/_apis/build/builds/%s/logs/%d?api-version=%s",
		c.projectURL(), url.PathEscape(buildID), logID, apiVersion)
}

// BuildResultsURL is the web page for a build.
func (c *HTTPClient) BuildResultsURL(buildID string) string {
	return fmt.Sprintf("%s/_build/results?buildId=%s", c.projectURL(), url.QueryEscape(buildID))
}

func (c *HTTPClient) projectURL() string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(c.org), url.PathEscape(c.project))
}

type listLogsResponse struct {
	Count int        `json:"count"`
	Value []LogEntry `json:"value"`
}

func (c *HTTPClient) ListLogs(ctx context.Context, buildID, listURL string) ([]LogEntry, error) {
	if listURL == "" {
		listURL = c.LogsURL(buildID)
	}

	resp, err := c.retrier.Get(ctx, listURL, c.headers("application/json"))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: list logs status %d", ErrUnavailable, resp.StatusCode)
	}

	var out listLogsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding log list: %v", ErrUnexpectedPayload, err)
	}
	return out.Value, nil
}

func (c *HTTPClient) LogContent(ctx context.Context, buildID string, entry LogEntry) (string, error) {
	u := entry.URL
	if u == "" {
		u = c.LogURL(buildID, entry.ID)
	}

	resp, err := c.retrier.Get(ctx, u, c.headers("text/plain"))
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("%w: log %d status %d", ErrUnavailable, entry.ID, resp.StatusCode)
	}
	return string(resp.Body), nil
}

func (c *HTTPClient) headers(accept string) http.Header {
	h := http.Header{}
	h.Set("Accept", accept)
	if c.pat != "" {
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.pat)))
	}
	return h
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
