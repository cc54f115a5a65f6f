package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/buildwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	calls   int
	prompts []string
	fn      func(ctx context.Context) (string, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Diagnose(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	return s.fn(ctx)
}

func failedEvent() models.BuildEvent {
	return models.BuildEvent{BuildID: "77", BuildName: "api-ci", Status: models.BuildStatusFailed}
}

func TestDiagnose_ReturnsTrimmedText(t *testing.T) {
	p := &stubProvider{fn: func(context.Context) (string, error) { return "  SEVERITY: low\n", nil }}
	d := NewDiagnoser(p, time.Second)

	text, err := d.Diagnose(context.Background(), failedEvent(), "log")
	require.NoError(t, err)
	assert.Equal(t, "SEVERITY: low", text)
}

func TestDiagnose_PromptCarriesBuildAndLogTail(t *testing.T) {
	p := &stubProvider{fn: func(context.Context) (string, error) { return "ok", nil }}
	d := NewDiagnoser(p, time.Second)

	logs := strings.Repeat("a", 5000) + "FINAL LINE"
	_, err := d.Diagnose(context.Background(), failedEvent(), logs)
	require.NoError(t, err)

	require.Len(t, p.prompts, 1)
	prompt := p.prompts[0]
	assert.Contains(t, prompt, "Build: api-ci")
	assert.Contains(t, prompt, "Build Status: failed")
	assert.Contains(t, prompt, "FINAL LINE")
	assert.NotContains(t, prompt, strings.Repeat("a", MaxPromptLogChars))
}

func TestDiagnose_EmptyResponseIsInvalid(t *testing.T) {
	p := &stubProvider{fn: func(context.Context) (string, error) { return "   ", nil }}
	d := NewDiagnoser(p, time.Second)

	_, err := d.Diagnose(context.Background(), failedEvent(), "log")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestDiagnose_TimeoutMapsToSentinel(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := NewDiagnoser(p, 20*time.Millisecond)

	_, err := d.Diagnose(context.Background(), failedEvent(), "log")
	assert.ErrorIs(t, err, ErrInferenceTimeout)
}

func TestDiagnose_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &stubProvider{fn: func(context.Context) (string, error) { return "", ErrProviderUnavailable }}
	d := NewDiagnoser(p, time.Second)
	d.now = func() time.Time { return now }

	for i := 0; i < defaultCircuitFailures; i++ {
		_, err := d.Diagnose(context.Background(), failedEvent(), "log")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	}

	_, err := d.Diagnose(context.Background(), failedEvent(), "log")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, defaultCircuitFailures, p.calls, "open circuit must not call the provider")

	now = now.Add(defaultCircuitCooldown + time.Second)
	p.fn = func(context.Context) (string, error) { return "recovered", nil }

	text, err := d.Diagnose(context.Background(), failedEvent(), "log")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
}

func TestDiagnose_SuccessResetsFailureCount(t *testing.T) {
	fail := true
	p := &stubProvider{fn: func(context.Context) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "ok", nil
	}}
	d := NewDiagnoser(p, time.Second)

	for i := 0; i < defaultCircuitFailures-1; i++ {
		_, _ = d.Diagnose(context.Background(), failedEvent(), "log")
	}
	fail = false
	_, err := d.Diagnose(context.Background(), failedEvent(), "log")
	require.NoError(t, err)

	fail = true
	_, err = d.Diagnose(context.Background(), failedEvent(), "log")
	assert.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestLogTail(t *testing.T) {
	assert.Equal(t, "abc", LogTail("abc", 10))
	assert.Equal(t, "cde", LogTail("abcde", 3))
	assert.Equal(t, "é!", LogTail("héé!", 2))
}
