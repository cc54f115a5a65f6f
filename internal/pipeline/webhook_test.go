package pipeline_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/pipeline"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseWebhook_BuildCompleted(t *testing.T) {
	body := `{
		"eventType": "build.complete",
		"resource": {
			"id": 1234,
			"result": "failed",
			"status": "completed",
			"definition": {"name": "web-ci"},
			"logs": {"url": "https://dev.azure.com/acme/web/_apis/build/builds/1234/logs"}
		}
	}`

	ev, err := pipeline.ParseWebhook([]byte(body), received)
	require.NoError(t, err)

	assert.Equal(t, "1234", ev.BuildID)
	assert.Equal(t, "web-ci", ev.BuildName)
	assert.Equal(t, models.BuildStatusFailed, ev.Status)
	assert.Equal(t, received, ev.ReceivedAt)
	assert.Contains(t, ev.RawResource, "logs")
}

func TestParseWebhook_StatusFallsBackWhenResultMissing(t *testing.T) {
	ev, err := pipeline.ParseWebhook([]byte(`{"resource":{"id":"7","status":"partiallySucceeded"}}`), received)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusPartiallySucceeded, ev.Status)
	assert.True(t, ev.Status.IsFailure())
}

func TestParseWebhook_MissingFieldsDefaultToUnknown(t *testing.T) {
	ev, err := pipeline.ParseWebhook([]byte(`{}`), received)
	require.NoError(t, err)
	assert.Equal(t, "unknown", ev.BuildID)
	assert.Equal(t, "unknown", ev.BuildName)
	assert.Equal(t, models.BuildStatusUnknown, ev.Status)
	assert.NotNil(t, ev.RawResource)
}

func TestParseWebhook_CaseInsensitiveStatus(t *testing.T) {
	ev, err := pipeline.ParseWebhook([]byte(`{"resource":{"id":1,"result":"Failed"}}`), received)
	require.NoError(t, err)
	assert.Equal(t, models.BuildStatusFailed, ev.Status)
}

func TestParseWebhook_InvalidJSON(t *testing.T) {
	_, err := pipeline.ParseWebhook([]byte(`{not json`), received)
	assert.Error(t, err)
}
