package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/buildwatch/internal/ai/llmhttp"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

// Provider implements models.DiagnosisProvider against any OpenAI-compatible
// /v1/chat/completions endpoint. vLLM serves the same API without a key.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *llmhttp.Client
}

// NewProvider creates a provider reporting itself as name.
func NewProvider(name, baseURL, apiKey, model string) *Provider {
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  llmhttp.New(0),
	}
}

func (p *Provider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *Provider) Diagnose(ctx context.Context, prompt string) (string, error) {
	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}

	var out chatResponse
	err := p.client.PostJSON(ctx, p.baseURL+"/v1/chat/completions", headers, chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s chat completion: %w: no choices", p.name, llmhttp.ErrInvalidResponse)
	}
	return out.Choices[0].Message.Content, nil
}

var _ models.DiagnosisProvider = (*Provider)(nil)
