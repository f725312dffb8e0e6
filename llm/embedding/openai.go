package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aibridge/aibridge/internal/tlsutil"
	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"go.uber.org/zap"
)

const (
	openaiDefaultModel   = "text-embedding-3-small"
	openaiMaxBatch       = 2048
	defaultConcurrency   = 4
	openaiEmbeddingsPath = "/v1/embeddings"
)

// OpenAIEmbedder calls an OpenAI-dialect embeddings endpoint. The Azure
// constructor reuses it with a different URL and header layout.
type OpenAIEmbedder struct {
	name         string
	model        string
	dimensions   int
	client       *http.Client
	logger       *zap.Logger
	buildURL     func() string
	buildHeaders func(*http.Request)

	mu       sync.Mutex
	detected int // dimensions observed on the first response
}

// NewOpenAI creates an embedder for the OpenAI embeddings API. dimensions of
// 0 keeps the model default.
func NewOpenAI(cfg providers.OpenAIConfig, dimensions int, logger *zap.Logger) *OpenAIEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEmbedder{
		name:       "openai",
		model:      model,
		dimensions: dimensions,
		client:     tlsutil.SecureHTTPClient(timeout),
		logger:     logger,
		buildURL:   func() string { return baseURL + openaiEmbeddingsPath },
		buildHeaders: func(r *http.Request) {
			providers.BearerTokenHeaders(r, cfg.APIKey)
			if cfg.Organization != "" {
				r.Header.Set("OpenAI-Organization", cfg.Organization)
			}
			if cfg.Project != "" {
				r.Header.Set("OpenAI-Project", cfg.Project)
			}
		},
	}
}

// NewAzureOpenAI creates an embedder for an Azure OpenAI embedding
// deployment.
func NewAzureOpenAI(cfg providers.AzureOpenAIConfig, dimensions int, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure embedding: endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure embedding: deployment is required")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIEmbedder{
		name:       "azure-openai",
		model:      cfg.Deployment,
		dimensions: dimensions,
		client:     tlsutil.SecureHTTPClient(timeout),
		logger:     logger,
		buildURL: func() string {
			return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
				endpoint, cfg.Deployment, apiVersion)
		},
		buildHeaders: func(r *http.Request) {
			r.Header.Set("Content-Type", "application/json")
			r.Header.Set("api-key", cfg.APIKey)
		},
	}, nil
}

// Name returns the provider identifier.
func (e *OpenAIEmbedder) Name() string { return e.name }

// Dimensions returns the configured or detected vector size.
func (e *OpenAIEmbedder) Dimensions() int {
	if e.dimensions > 0 {
		return e.dimensions
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detected
}

// MaxBatchSize returns the API's input list limit.
func (e *OpenAIEmbedder) MaxBatchSize() int { return openaiMaxBatch }

// EmbedQuery embeds one text.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed embeds texts, batching and fanning out as needed.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, e.MaxBatchSize(), defaultConcurrency, e.embedBatch)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody := map[string]any{
		"model": e.model,
		"input": batch,
	}
	if e.dimensions > 0 {
		reqBody["dimensions"] = e.dimensions
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.buildURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	e.buildHeaders(httpReq)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: e.name,
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, e.name)
	}

	var wire struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: e.name,
		}
	}
	if len(wire.Data) != len(batch) {
		return nil, &llm.Error{
			Code:     llm.ErrUpstreamError,
			Message:  fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(batch), len(wire.Data)),
			Provider: e.name,
		}
	}

	// The API may return out of order; index is authoritative.
	out := make([][]float32, len(batch))
	for _, d := range wire.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &llm.Error{
				Code:     llm.ErrUpstreamError,
				Message:  fmt.Sprintf("embedding index %d out of range", d.Index),
				Provider: e.name,
			}
		}
		out[d.Index] = d.Embedding
	}

	if len(out) > 0 && len(out[0]) > 0 {
		e.mu.Lock()
		e.detected = len(out[0])
		e.mu.Unlock()
	}
	return out, nil
}
