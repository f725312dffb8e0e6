package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aibridge/aibridge/internal/tlsutil"
	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"go.uber.org/zap"
)

const (
	ollamaDefaultModel = "nomic-embed-text"
	ollamaMaxBatch     = 512
)

// OllamaEmbedder calls the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	cfg     providers.OllamaConfig
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// NewOllama creates an embedder for a local Ollama daemon.
func NewOllama(cfg providers.OllamaConfig, logger *zap.Logger) *OllamaEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = ollamaDefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaEmbedder{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger,
	}
}

// Name returns the provider identifier.
func (e *OllamaEmbedder) Name() string { return "ollama" }

// Dimensions is unknown until the model answers; Ollama does not advertise it.
func (e *OllamaEmbedder) Dimensions() int { return 0 }

// MaxBatchSize caps one /api/embed call.
func (e *OllamaEmbedder) MaxBatchSize() int { return ollamaMaxBatch }

// EmbedQuery embeds one text.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed embeds texts. The daemon runs one model serially; batches go out one
// at a time rather than fanned out.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, texts, e.MaxBatchSize(), 1, e.embedBatch)
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	payload, err := json.Marshal(map[string]any{
		"model":      e.model,
		"input":      batch,
		"keep_alive": e.cfg.KeepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrProviderUnavailable, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: e.Name(),
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, e.Name())
	}

	var wire struct {
		Embeddings [][]float32 `json:"embeddings"`
		Error      string      `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: e.Name(),
		}
	}
	if wire.Error != "" {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: wire.Error, Provider: e.Name()}
	}
	if len(wire.Embeddings) != len(batch) {
		return nil, &llm.Error{
			Code:     llm.ErrUpstreamError,
			Message:  fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(batch), len(wire.Embeddings)),
			Provider: e.Name(),
		}
	}
	return wire.Embeddings, nil
}
