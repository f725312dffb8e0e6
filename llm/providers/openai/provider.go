// Package openai implements the OpenAI connector on top of the shared
// OpenAI-compatible base. It adds the Organization/Project headers and the
// Files API.
package openai

import (
	"net/http"

	"github.com/aibridge/aibridge/llm/providers"
	"github.com/aibridge/aibridge/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"
	fallbackModel  = "gpt-3.5-turbo"
)

// Provider is the OpenAI chat completion connector.
type Provider struct {
	*openaicompat.Provider
	cfg providers.OpenAIConfig
}

// New creates an OpenAI connector from the given config.
func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	base := openaicompat.New(openaicompat.Config{
		ProviderName:  "openai",
		APIKey:        cfg.APIKey,
		BaseURL:       baseURL,
		DefaultModel:  model,
		FallbackModel: fallbackModel,
		Timeout:       cfg.Timeout,
		BuildHeaders: func(r *http.Request, apiKey string) {
			providers.BearerTokenHeaders(r, apiKey)
			if cfg.Organization != "" {
				r.Header.Set("OpenAI-Organization", cfg.Organization)
			}
			if cfg.Project != "" {
				r.Header.Set("OpenAI-Project", cfg.Project)
			}
		},
	}, logger)

	return &Provider{Provider: base, cfg: cfg}
}
