package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/buildwatch/internal/ai/llmhttp"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// Provider implements models.DiagnosisProvider using Ollama's /api/generate.
type Provider struct {
	cfg    config.OllamaConfig
	client *llmhttp.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: llmhttp.New(0)}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *Provider) Diagnose(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	err := p.client.PostJSON(ctx, p.cfg.BaseURL+"/api/generate", nil,
		generateRequest{Model: p.cfg.Model, Prompt: prompt}, &out)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return out.Response, nil
}

var _ models.DiagnosisProvider = (*Provider)(nil)
