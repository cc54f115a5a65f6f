// Package models contains shared data models used across the BuildWatch codebase.
package models

import "context"

// DiagnosisProvider is the core interface that all AI integrations must implement.
// It turns a prompt describing a failed build into freeform analysis text.
// Never call specific AI providers directly; always inject this interface.
type DiagnosisProvider interface {
	// Diagnose returns the model's raw text answer for prompt.
	Diagnose(ctx context.Context, prompt string) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}
