package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/buildwatch/internal/ai/llmhttp"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 1024
)

// Provider implements models.DiagnosisProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *llmhttp.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: llmhttp.New(0)}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Diagnose(ctx context.Context, prompt string) (string, error) {
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	var out messagesResponse
	err := p.client.PostJSON(ctx, p.cfg.BaseURL+"/v1/messages", headers, messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

var _ models.DiagnosisProvider = (*Provider)(nil)
