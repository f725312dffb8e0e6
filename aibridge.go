// Package aibridge provides a top-level convenience entry point for creating
// chat providers with minimal boilerplate.
//
// Usage:
//
//	import "github.com/aibridge/aibridge"
//
//	p, err := aibridge.New(aibridge.WithOpenAI("gpt-4o-mini"))
//	p, err := aibridge.New(aibridge.WithOllama("llama3.2"))
//	p, err := aibridge.New(aibridge.WithAzureOpenAI("https://res.openai.azure.com", "gpt4o-prod"))
//
// For multi-backend setups, [FromConfig] builds a provider registry from a
// YAML config file instead.
package aibridge

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/config"
	"github.com/aibridge/aibridge/llm/providers"
	"github.com/aibridge/aibridge/llm/providers/azureopenai"
	"github.com/aibridge/aibridge/llm/providers/ollama"
	"github.com/aibridge/aibridge/llm/providers/onnx"
	"github.com/aibridge/aibridge/llm/providers/openai"
)

type options struct {
	provider llm.Provider
	build    func(o *options) (llm.Provider, error)
	apiKey   string
	model    string
	logger   *zap.Logger

	azureEndpoint   string
	azureDeployment string
	ollamaHost      string
}

// Option configures the provider created by [New].
type Option func(*options)

// WithProvider uses a pre-built provider as-is.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithOpenAI selects the OpenAI backend. The API key defaults to the
// OPENAI_API_KEY environment variable.
func WithOpenAI(model string) Option {
	return func(o *options) {
		o.model = model
		o.build = func(o *options) (llm.Provider, error) {
			key := o.apiKey
			if key == "" {
				key = os.Getenv("OPENAI_API_KEY")
			}
			if key == "" {
				return nil, fmt.Errorf("aibridge: OpenAI API key not set (OPENAI_API_KEY)")
			}
			return openai.New(providers.OpenAIConfig{
				BaseProviderConfig: providers.BaseProviderConfig{APIKey: key, Model: o.model},
			}, o.logger), nil
		}
	}
}

// WithAzureOpenAI selects the Azure OpenAI backend. The API key defaults to
// the AZURE_OPENAI_API_KEY environment variable.
func WithAzureOpenAI(endpoint, deployment string) Option {
	return func(o *options) {
		o.azureEndpoint = endpoint
		o.azureDeployment = deployment
		o.build = func(o *options) (llm.Provider, error) {
			key := o.apiKey
			if key == "" {
				key = os.Getenv("AZURE_OPENAI_API_KEY")
			}
			return azureopenai.New(providers.AzureOpenAIConfig{
				BaseProviderConfig: providers.BaseProviderConfig{APIKey: key, Model: o.model},
				Endpoint:           o.azureEndpoint,
				Deployment:         o.azureDeployment,
			}, o.logger)
		}
	}
}

// WithOllama selects the local Ollama daemon.
func WithOllama(model string) Option {
	return func(o *options) {
		o.model = model
		o.build = func(o *options) (llm.Provider, error) {
			return ollama.New(providers.OllamaConfig{
				BaseProviderConfig: providers.BaseProviderConfig{Model: o.model, BaseURL: o.ollamaHost},
			}, o.logger), nil
		}
	}
}

// WithOllamaHost overrides the Ollama daemon address.
func WithOllamaHost(host string) Option {
	return func(o *options) { o.ollamaHost = host }
}

// WithAPIKey overrides the API key for provider shortcuts.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a chat provider with minimal configuration. At minimum a
// backend must be selected via [WithOpenAI], [WithAzureOpenAI], [WithOllama]
// or [WithProvider].
func New(opts ...Option) (llm.Provider, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.provider != nil {
		return o.provider, nil
	}
	if o.build == nil {
		return nil, fmt.Errorf("aibridge: no backend selected")
	}
	return o.build(o)
}

// FromConfig builds a provider registry from a loaded config, one entry per
// configured backend, with the config's default provider set as the
// registry default. The ONNX provider is registered without initializing the
// runtime; call Initialize on it before first use.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*llm.ProviderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := llm.NewProviderRegistry()

	if c := cfg.Providers.OpenAI; c != nil {
		reg.Register(config.ProviderOpenAI, openai.New(*c, logger))
	}
	if c := cfg.Providers.AzureOpenAI; c != nil {
		p, err := azureopenai.New(*c, logger)
		if err != nil {
			return nil, fmt.Errorf("aibridge: azure-openai: %w", err)
		}
		reg.Register(config.ProviderAzureOpenAI, p)
	}
	if c := cfg.Providers.Ollama; c != nil {
		reg.Register(config.ProviderOllama, ollama.New(*c, logger))
	}
	if c := cfg.Providers.ONNX; c != nil {
		p, err := onnx.New(*c, logger)
		if err != nil {
			return nil, fmt.Errorf("aibridge: onnx: %w", err)
		}
		reg.Register(config.ProviderONNX, p)
	}

	if cfg.DefaultProvider != "" {
		if err := reg.SetDefault(cfg.DefaultProvider); err != nil {
			return nil, fmt.Errorf("aibridge: %w", err)
		}
	}
	return reg, nil
}
