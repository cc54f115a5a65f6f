package ai

import (
	"fmt"

	"github.com/kiranshivaraju/buildwatch/internal/ai/anthropic"
	"github.com/kiranshivaraju/buildwatch/internal/ai/ollama"
	"github.com/kiranshivaraju/buildwatch/internal/ai/openai"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// NewProvider constructs the appropriate diagnosis provider based on config.
// Called once at startup.
func NewProvider(cfg config.AIConfig) (models.DiagnosisProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return openai.NewProvider("vllm", cfg.VLLM.BaseURL, "", cfg.VLLM.Model), nil
	case "openai":
		return openai.NewProvider("openai", cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic", cfg.Provider)
	}
}
