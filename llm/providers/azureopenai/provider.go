// Package azureopenai implements the Azure OpenAI connector. Azure speaks the
// OpenAI dialect but scopes requests to a deployment, versions the API via a
// query parameter, and authenticates with either an api-key header or an
// Azure AD bearer token.
package azureopenai

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aibridge/aibridge/llm/providers"
	"github.com/aibridge/aibridge/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const defaultAPIVersion = "2024-06-01"

// Provider is the Azure OpenAI chat completion connector.
type Provider struct {
	*openaicompat.Provider
	cfg    providers.AzureOpenAIConfig
	tokens TokenProvider
}

// Option configures the connector.
type Option func(*Provider)

// WithTokenProvider supplies the Azure AD token source used when
// cfg.UseAzureAD is set.
func WithTokenProvider(tp TokenProvider) Option {
	return func(p *Provider) { p.tokens = tp }
}

// New creates an Azure OpenAI connector from the given config.
func New(cfg providers.AzureOpenAIConfig, logger *zap.Logger, opts ...Option) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azureopenai: endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azureopenai: deployment is required")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")

	p := &Provider{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.UseAzureAD && p.tokens == nil {
		return nil, fmt.Errorf("azureopenai: use_azure_ad requires a token provider")
	}

	base := openaicompat.New(openaicompat.Config{
		ProviderName: "azure-openai",
		APIKey:       cfg.APIKey,
		BaseURL:      endpoint,
		DefaultModel: cfg.Deployment,
		Timeout:      cfg.Timeout,
		BuildURL: func(path string) string {
			// Azure has no /v1 prefix. Chat completions are deployment
			// scoped; the model catalog is not.
			op := strings.TrimPrefix(path, "/v1")
			if op == "/models" {
				return fmt.Sprintf("%s/openai/models?api-version=%s", endpoint, apiVersion)
			}
			return fmt.Sprintf("%s/openai/deployments/%s%s?api-version=%s",
				endpoint, cfg.Deployment, op, apiVersion)
		},
		BuildHeaders: p.buildHeaders,
	}, logger)
	p.Provider = base
	return p, nil
}

func (p *Provider) buildHeaders(r *http.Request, apiKey string) {
	r.Header.Set("Content-Type", "application/json")
	if !p.cfg.UseAzureAD {
		r.Header.Set("api-key", apiKey)
		return
	}
	token, err := p.tokens.Token(r.Context())
	if err != nil {
		// Leave the request unauthenticated; the backend's 401 maps to
		// ErrUnauthorized, which is what the caller needs to see.
		p.Logger.Warn("azure ad token fetch failed", zap.Error(err))
		return
	}
	r.Header.Set("Authorization", "Bearer "+token)
}
