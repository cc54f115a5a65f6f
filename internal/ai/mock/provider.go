package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/buildwatch/internal/ai"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// SampleAnalysis is a well-formed response in the format the prompt requests.
const SampleAnalysis = `SEVERITY: high
ERROR:
npm ERR! missing script: build
EXPLANATION:
The build script is not defined in package.json.
FIX_STEPS:
1. Add a "build" script to package.json
2. Re-run the pipeline
3. Verify locally with the same command`

// MockProvider satisfies models.DiagnosisProvider for testing.
type MockProvider struct {
	Name_        string
	DiagnoseFunc func(ctx context.Context, prompt string) (string, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Diagnose(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	if m.DiagnoseFunc != nil {
		return m.DiagnoseFunc(ctx, prompt)
	}
	return "", nil
}

// Calls returns how many times Diagnose was invoked.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}

// NewMockProvider returns a MockProvider that answers with SampleAnalysis.
func NewMockProvider() *MockProvider {
	return NewStaticProvider(SampleAnalysis)
}

// NewStaticProvider returns a MockProvider that always answers with text.
func NewStaticProvider(text string) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		DiagnoseFunc: func(_ context.Context, _ string) (string, error) {
			return text, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		DiagnoseFunc: func(_ context.Context, _ string) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		DiagnoseFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements DiagnosisProvider.
var _ models.DiagnosisProvider = (*MockProvider)(nil)
