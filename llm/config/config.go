// Package config loads connector configuration from YAML files with
// environment variable expansion, so API keys stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
)

// Provider names accepted in DefaultProvider and the Providers section.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure-openai"
	ProviderOllama      = "ollama"
	ProviderONNX        = "onnx"
)

// ProvidersConfig holds the per-backend sections. A nil section means the
// backend is not configured.
type ProvidersConfig struct {
	OpenAI      *providers.OpenAIConfig      `yaml:"openai,omitempty"`
	AzureOpenAI *providers.AzureOpenAIConfig `yaml:"azure_openai,omitempty"`
	Ollama      *providers.OllamaConfig      `yaml:"ollama,omitempty"`
	ONNX        *providers.ONNXConfig        `yaml:"onnx,omitempty"`
}

// LoggingConfig controls the zap logger the host builds.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug/info/warn/error
	Format string `yaml:"format,omitempty"` // json or console
}

// RedisConfig locates the cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// RateLimitConfig bounds local request throughput.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	DefaultProvider string           `yaml:"default_provider,omitempty"`
	Providers       ProvidersConfig  `yaml:"providers"`
	Cache           *llm.CacheConfig `yaml:"cache,omitempty"`
	Redis           *RedisConfig     `yaml:"redis,omitempty"`
	RateLimit       *RateLimitConfig `yaml:"rate_limit,omitempty"`
	Logging         LoggingConfig    `yaml:"logging,omitempty"`
	// RequestTimeout applies when a provider section sets no timeout of its
	// own.
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
}

// Duration decodes YAML duration strings like "30s" or "2m". Bare integers
// are taken as nanoseconds for compatibility with time.Duration's native
// encoding.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, expands and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes after environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:-default} references. Unset
// variables without a default expand to the empty string.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDef := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDef {
			return def
		}
		return ""
	})
}

func (c *Config) applyDefaults() {
	if c.DefaultProvider == "" {
		switch {
		case c.Providers.OpenAI != nil:
			c.DefaultProvider = ProviderOpenAI
		case c.Providers.AzureOpenAI != nil:
			c.DefaultProvider = ProviderAzureOpenAI
		case c.Providers.Ollama != nil:
			c.DefaultProvider = ProviderOllama
		case c.Providers.ONNX != nil:
			c.DefaultProvider = ProviderONNX
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RequestTimeout > 0 {
		if c.Providers.OpenAI != nil && c.Providers.OpenAI.Timeout == 0 {
			c.Providers.OpenAI.Timeout = c.RequestTimeout.Std()
		}
		if c.Providers.AzureOpenAI != nil && c.Providers.AzureOpenAI.Timeout == 0 {
			c.Providers.AzureOpenAI.Timeout = c.RequestTimeout.Std()
		}
		if c.Providers.Ollama != nil && c.Providers.Ollama.Timeout == 0 {
			c.Providers.Ollama.Timeout = c.RequestTimeout.Std()
		}
	}
}

// Validate checks cross-field constraints. Section-specific requirements the
// connectors enforce themselves (Azure endpoint/deployment) are checked here
// too so a bad file fails at load time rather than on first request.
func (c *Config) Validate() error {
	if !c.hasProvider() {
		return fmt.Errorf("config: at least one provider must be configured")
	}

	switch c.DefaultProvider {
	case ProviderOpenAI:
		if c.Providers.OpenAI == nil {
			return fmt.Errorf("config: default provider %q has no section", c.DefaultProvider)
		}
	case ProviderAzureOpenAI:
		if c.Providers.AzureOpenAI == nil {
			return fmt.Errorf("config: default provider %q has no section", c.DefaultProvider)
		}
	case ProviderOllama:
		if c.Providers.Ollama == nil {
			return fmt.Errorf("config: default provider %q has no section", c.DefaultProvider)
		}
	case ProviderONNX:
		if c.Providers.ONNX == nil {
			return fmt.Errorf("config: default provider %q has no section", c.DefaultProvider)
		}
	default:
		return fmt.Errorf("config: unknown default provider %q", c.DefaultProvider)
	}

	if a := c.Providers.AzureOpenAI; a != nil {
		if a.Endpoint == "" {
			return fmt.Errorf("config: azure_openai.endpoint is required")
		}
		if a.Deployment == "" {
			return fmt.Errorf("config: azure_openai.deployment is required")
		}
	}
	if o := c.Providers.ONNX; o != nil {
		if o.ModelPath == "" {
			return fmt.Errorf("config: onnx.model_path is required")
		}
		if o.VocabPath == "" {
			return fmt.Errorf("config: onnx.vocab_path is required")
		}
		if o.MaxSequenceLength < 0 {
			return fmt.Errorf("config: onnx.max_sequence_length must be positive")
		}
		if o.MaxNewTokens < 0 {
			return fmt.Errorf("config: onnx.max_new_tokens must be positive")
		}
	}
	if c.Cache != nil && c.Cache.EnableRedis && c.Redis == nil {
		return fmt.Errorf("config: cache.enable_redis requires a redis section")
	}
	if rl := c.RateLimit; rl != nil {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("config: rate_limit.requests_per_second must be positive")
		}
		if rl.Burst <= 0 {
			return fmt.Errorf("config: rate_limit.burst must be positive")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) hasProvider() bool {
	return c.Providers.OpenAI != nil ||
		c.Providers.AzureOpenAI != nil ||
		c.Providers.Ollama != nil ||
		c.Providers.ONNX != nil
}
