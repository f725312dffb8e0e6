package providers

import "time"

// BaseProviderConfig holds the configuration fields every connector shares.
// Vendor configs embed it so APIKey, BaseURL, Model and Timeout are defined
// once.
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig configures the OpenAI connector.
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
	Project            string `json:"project,omitempty" yaml:"project,omitempty"`
}

// AzureOpenAIConfig configures the Azure OpenAI connector. Endpoint is the
// resource endpoint (https://<resource>.openai.azure.com); Deployment is the
// deployment name requests are scoped to.
type AzureOpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Endpoint           string `json:"endpoint" yaml:"endpoint"`
	Deployment         string `json:"deployment" yaml:"deployment"`
	APIVersion         string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	// UseAzureAD switches auth from the api-key header to a bearer token
	// obtained from TokenProvider.
	UseAzureAD bool `json:"use_azure_ad,omitempty" yaml:"use_azure_ad,omitempty"`
}

// OllamaConfig configures the Ollama connector. Host defaults to the local
// daemon.
type OllamaConfig struct {
	BaseProviderConfig `yaml:",inline"`
	// KeepAlive controls how long the model stays loaded after a request
	// (Ollama keep_alive parameter, e.g. "5m").
	KeepAlive string `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
}

// ONNXConfig configures the local ONNX Runtime connector.
type ONNXConfig struct {
	// ModelPath is the path to the .onnx model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// VocabPath is the path to the vocabulary file used by the tokenizer.
	VocabPath string `json:"vocab_path" yaml:"vocab_path"`
	// SharedLibraryPath locates the ONNX Runtime shared library; empty uses
	// the library's default lookup.
	SharedLibraryPath string `json:"shared_library_path,omitempty" yaml:"shared_library_path,omitempty"`
	// MaxSequenceLength caps tokenized input length.
	MaxSequenceLength int `json:"max_sequence_length,omitempty" yaml:"max_sequence_length,omitempty"`
	// MaxNewTokens caps generated tokens per request when the request does
	// not set its own limit.
	MaxNewTokens int `json:"max_new_tokens,omitempty" yaml:"max_new_tokens,omitempty"`
	// EOSTokenID terminates generation. -1 disables the check.
	EOSTokenID int64 `json:"eos_token_id,omitempty" yaml:"eos_token_id,omitempty"`
}
