// Package openaicompat is the shared base for every connector speaking the
// OpenAI chat completions dialect. OpenAI and Azure OpenAI embed this and
// only override what differs: endpoint layout, headers, default models.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aibridge/aibridge/internal/tlsutil"
	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible connector.
type Config struct {
	// ProviderName is the unique identifier for this connector (e.g. "openai").
	ProviderName string

	// APIKey is the authentication key for the backend.
	APIKey string

	// BaseURL is the base URL for the backend (e.g. "https://api.openai.com").
	BaseURL string

	// DefaultModel is used when the request does not name a model.
	DefaultModel string

	// FallbackModel is used when both request and DefaultModel are empty.
	FallbackModel string

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration

	// HTTPClient overrides the default hardened client when set. This is the
	// hook hosts use to inject proxies or instrumented transports.
	HTTPClient *http.Client

	// EndpointPath is the chat completions endpoint path.
	// Defaults to "/v1/chat/completions".
	EndpointPath string

	// ModelsEndpoint is the models list endpoint path. Defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders optionally sets custom headers on each request.
	// If nil, the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string)

	// BuildURL optionally overrides full URL construction. Azure uses this
	// for its deployment-scoped, api-versioned paths. If nil, the URL is
	// BaseURL + path.
	BuildURL func(path string) string

	// RequestHook optionally mutates the wire request before sending, for
	// backend-specific fields.
	RequestHook func(req *llm.ChatRequest, body *providers.OpenAICompatRequest)

	// SupportsTools indicates whether the backend supports native function
	// calling. Defaults to true if not set.
	SupportsTools *bool
}

// Provider is the base implementation for OpenAI-compatible connectors.
// Embed this in a connector struct and override Name() if needed.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible connector base with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(timeout)
	}
	return &Provider{
		Cfg:    cfg,
		Client: client,
		Logger: logger,
	}
}

// Name returns the connector name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// SupportsNativeFunctionCalling reports whether the backend handles tools.
func (p *Provider) SupportsNativeFunctionCalling() bool {
	if p.Cfg.SupportsTools != nil {
		return *p.Cfg.SupportsTools
	}
	return true
}

// SetBuildHeaders sets a custom header builder for the connector.
func (p *Provider) SetBuildHeaders(fn func(req *http.Request, apiKey string)) {
	p.Cfg.BuildHeaders = fn
}

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, apiKey)
		return
	}
	providers.BearerTokenHeaders(req, apiKey)
}

// endpoint builds the full URL for a given path.
func (p *Provider) endpoint(path string) string {
	if p.Cfg.BuildURL != nil {
		return p.Cfg.BuildURL(path)
	}
	return fmt.Sprintf("%s%s", strings.TrimRight(p.Cfg.BaseURL, "/"), path)
}

// HealthCheck verifies the backend is reachable via the models endpoint.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("%s health check failed: status=%d msg=%s", p.Cfg.ProviderName, resp.StatusCode, msg)
	}

	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels returns the backend's advertised models.
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return providers.ListModelsOpenAICompat(
		ctx, p.Client, p.endpoint(p.Cfg.ModelsEndpoint), p.Cfg.APIKey,
		p.Cfg.ProviderName, p.buildHeaders,
	)
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) providers.OpenAICompatRequest {
	body := providers.OpenAICompatRequest{
		Model:       providers.ChooseModel(req.Model, p.Cfg.DefaultModel, p.Cfg.FallbackModel),
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		Tools:       providers.ConvertToolsToOpenAI(req.Tools),
		ToolChoice:  providers.ConvertToolChoice(req.ToolChoice),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Seed:        req.Seed,
		User:        req.User,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &providers.StreamOptions{IncludeUsage: true}
	}
	if p.Cfg.RequestHook != nil {
		p.Cfg.RequestHook(req, &body)
	}
	return body
}

func (p *Provider) post(ctx context.Context, body providers.OpenAICompatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	return resp, nil
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}

	result := providers.ToChatResponse(oaResp, p.Name())
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	return result, nil
}

// Stream performs a streaming chat completion via SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	return StreamSSE(ctx, resp.Body, p.Name()), nil
}

// Generate adapts the prompt into a single-turn chat completion. OpenAI-style
// backends have no separate text generation endpoint anymore.
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	resp, err := p.Completion(ctx, textToChatRequest(req))
	if err != nil {
		return nil, err
	}
	out := &llm.TextResponse{
		ID:        resp.ID,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Usage:     resp.Usage,
		CreatedAt: resp.CreatedAt,
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = resp.Choices[0].FinishReason
	}
	return out, nil
}

// GenerateStream adapts the prompt into a single-turn streaming completion.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.TextChunk, error) {
	chunks, err := p.Stream(ctx, textToChatRequest(req))
	if err != nil {
		return nil, err
	}
	out := make(chan llm.TextChunk)
	go func() {
		defer close(out)
		for chunk := range chunks {
			tc := llm.TextChunk{
				ID:           chunk.ID,
				Provider:     chunk.Provider,
				Model:        chunk.Model,
				Text:         chunk.Delta.Content,
				FinishReason: chunk.FinishReason,
				Usage:        chunk.Usage,
				Err:          chunk.Err,
			}
			select {
			case <-ctx.Done():
				return
			case out <- tc:
			}
		}
	}()
	return out, nil
}

func textToChatRequest(req *llm.TextRequest) *llm.ChatRequest {
	msgs := make([]llm.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: req.System})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Prompt})
	return &llm.ChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Metadata:    req.Metadata,
	}
}

// StreamSSE parses an SSE stream from an OpenAI-compatible API into a
// channel of StreamChunks. The caller must have checked the response status.
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
						return
					case ch <- llm.StreamChunk{Err: &llm.Error{
						Code: llm.ErrUpstreamError, Message: err.Error(),
						HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
					}}:
					}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var oaResp providers.OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				select {
				case <-ctx.Done():
					return
				case ch <- llm.StreamChunk{Err: &llm.Error{
					Code: llm.ErrUpstreamError, Message: err.Error(),
					HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
				}}:
				}
				return
			}

			// A usage-only frame (stream_options.include_usage) has no choices.
			if len(oaResp.Choices) == 0 && oaResp.Usage != nil {
				chunk := llm.StreamChunk{
					ID: oaResp.ID, Provider: providerName, Model: oaResp.Model,
					Usage: &llm.ChatUsage{
						PromptTokens:     oaResp.Usage.PromptTokens,
						CompletionTokens: oaResp.Usage.CompletionTokens,
						TotalTokens:      oaResp.Usage.TotalTokens,
					},
				}
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
				continue
			}

			for _, choice := range oaResp.Choices {
				chunk := llm.StreamChunk{
					ID:           oaResp.ID,
					Provider:     providerName,
					Model:        oaResp.Model,
					Index:        choice.Index,
					FinishReason: choice.FinishReason,
					Delta: llm.Message{
						Role: llm.RoleAssistant,
					},
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
					if len(choice.Delta.ToolCalls) > 0 {
						chunk.Delta.ToolCalls = make([]llm.ToolCall, 0, len(choice.Delta.ToolCalls))
						for _, tc := range choice.Delta.ToolCalls {
							chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, llm.ToolCall{
								ID:        tc.ID,
								Name:      tc.Function.Name,
								Arguments: tc.Function.Arguments,
							})
						}
					}
				}
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
		}
	}()
	return ch
}
