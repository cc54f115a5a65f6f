package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kiranshivaraju/buildwatch/internal/ai"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seenRequest is what a stub model server observed for one call.
type seenRequest struct {
	path   string
	auth   string
	apiKey string
	model  string
}

// modelServer answers every provider's wire shape with "ok" and records the request.
func modelServer(t *testing.T) (*httptest.Server, func() seenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen seenRequest
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		seen = seenRequest{
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			apiKey: r.Header.Get("x-api-key"),
			model:  body.Model,
		}
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": "ok",
			"choices":  []map[string]any{{"message": map[string]string{"content": "ok"}}},
			"content":  []map[string]string{{"type": "text", "text": "ok"}},
		})
	}))
	t.Cleanup(ts.Close)
	return ts, func() seenRequest {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}

func TestNewProvider_RoutesToBackend(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func(url string) config.AIConfig
		wantName string
		want     seenRequest
	}{
		{
			name: "ollama uses the generate API",
			cfg: func(url string) config.AIConfig {
				return config.AIConfig{Provider: "ollama", Ollama: config.OllamaConfig{BaseURL: url, Model: "llama3.2:3b"}}
			},
			wantName: "ollama",
			want:     seenRequest{path: "/api/generate", model: "llama3.2:3b"},
		},
		{
			name: "vllm uses the OpenAI-compatible chat API without a key",
			cfg: func(url string) config.AIConfig {
				return config.AIConfig{Provider: "vllm", VLLM: config.VLLMConfig{BaseURL: url + "/", Model: "mistral-7b"}}
			},
			wantName: "vllm",
			want:     seenRequest{path: "/v1/chat/completions", model: "mistral-7b"},
		},
		{
			name: "openai sends a bearer token",
			cfg: func(url string) config.AIConfig {
				return config.AIConfig{Provider: "openai", OpenAI: config.OpenAIConfig{BaseURL: url, APIKey: "sk-test", Model: "gpt-4o-mini"}}
			},
			wantName: "openai",
			want:     seenRequest{path: "/v1/chat/completions", auth: "Bearer sk-test", model: "gpt-4o-mini"},
		},
		{
			name: "anthropic uses the messages API",
			cfg: func(url string) config.AIConfig {
				return config.AIConfig{Provider: "anthropic", Anthropic: config.AnthropicConfig{BaseURL: url, APIKey: "sk-ant-test", Model: "claude-sonnet-4-5"}}
			},
			wantName: "anthropic",
			want:     seenRequest{path: "/v1/messages", apiKey: "sk-ant-test", model: "claude-sonnet-4-5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, seen := modelServer(t)

			p, err := ai.NewProvider(tt.cfg(ts.URL))
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())

			text, err := p.Diagnose(context.Background(), "diagnose this build")
			require.NoError(t, err)
			assert.Equal(t, "ok", text)
			assert.Equal(t, tt.want, seen())
		})
	}
}

func TestNewProvider_VLLMIgnoresOpenAISettings(t *testing.T) {
	vllm, seen := modelServer(t)
	openaiSrv, openaiSeen := modelServer(t)

	p, err := ai.NewProvider(config.AIConfig{
		Provider: "vllm",
		VLLM:     config.VLLMConfig{BaseURL: vllm.URL, Model: "mistral-7b"},
		OpenAI:   config.OpenAIConfig{BaseURL: openaiSrv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"},
	})
	require.NoError(t, err)

	_, err = p.Diagnose(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "mistral-7b", seen().model)
	assert.Empty(t, seen().auth)
	assert.Empty(t, openaiSeen().path)
}

func TestNewProvider_Unknown(t *testing.T) {
	for _, provider := range []string{"unknown-provider", ""} {
		_, err := ai.NewProvider(config.AIConfig{Provider: provider})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown AI provider")
		assert.Contains(t, err.Error(), `"`+provider+`"`)
	}
}
