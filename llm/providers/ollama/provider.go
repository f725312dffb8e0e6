// Package ollama implements the connector for a local Ollama daemon. Ollama
// has its own API shape: /api/chat and /api/generate stream newline-delimited
// JSON with a done flag instead of SSE, and /api/tags lists installed models.
package ollama

import (
	"bufio"
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
	"github.com/aibridge/aibridge/llm/tokenizer"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
)

// Provider is the Ollama connector. It implements both the chat and the text
// generation interfaces; Ollama keeps a native prompt endpoint.
type Provider struct {
	cfg       providers.OllamaConfig
	baseURL   string
	model     string
	client    *http.Client
	logger    *zap.Logger
	estimator *tokenizer.Estimator
}

// New creates an Ollama connector from the given config.
func New(cfg providers.OllamaConfig, logger *zap.Logger) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Local inference on CPU can be slow; give it room.
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		client:    tlsutil.SecureHTTPClient(timeout),
		logger:    logger,
		estimator: tokenizer.NewEstimator(),
	}
}

// Name returns the connector name.
func (p *Provider) Name() string { return "ollama" }

// SupportsNativeFunctionCalling reports tool support. Recent Ollama versions
// handle tools on /api/chat.
func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

// Wire types for the Ollama API.

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model     string                       `json:"model"`
	Messages  []chatMessage                `json:"messages"`
	Tools     []providers.OpenAICompatTool `json:"tools,omitempty"`
	Stream    bool                         `json:"stream"`
	KeepAlive string                       `json:"keep_alive,omitempty"`
	Options   map[string]any               `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
	Error           string      `json:"error,omitempty"`
}

type generateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	System    string         `json:"system,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

func buildOptions(maxTokens int, temperature, topP float32, stop []string) map[string]any {
	opts := map[string]any{}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	if temperature > 0 {
		opts["temperature"] = temperature
	}
	if topP > 0 {
		opts["top_p"] = topP
	}
	if len(stop) > 0 {
		opts["stop"] = stop
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (p *Provider) buildChatRequest(req *llm.ChatRequest, stream bool) chatRequest {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		cm := chatMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == llm.RoleTool {
			// Ollama has no tool_call_id field; tool output rides as a tool
			// role message.
			cm.Role = "tool"
		}
		for _, tc := range m.ToolCalls {
			var w wireToolCall
			w.Function.Name = tc.Name
			w.Function.Arguments = tc.Arguments
			cm.ToolCalls = append(cm.ToolCalls, w)
		}
		msgs = append(msgs, cm)
	}
	return chatRequest{
		Model:     providers.ChooseModel(req.Model, p.model, defaultModel),
		Messages:  msgs,
		Tools:     providers.ConvertToolsToOpenAI(req.Tools),
		Stream:    stream,
		KeepAlive: p.cfg.KeepAlive,
		Options:   buildOptions(req.MaxTokens, req.Temperature, req.TopP, req.Stop),
	}
}

func (p *Provider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrProviderUnavailable, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp, nil
}

// Completion performs a non-streaming chat request against /api/chat.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.post(ctx, "/api/chat", p.buildChatRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	if wire.Error != "" {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: wire.Error, Provider: p.Name(),
		}
	}

	msg := llm.Message{Role: llm.RoleAssistant, Content: wire.Message.Content}
	for i, tc := range wire.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	out := &llm.ChatResponse{
		Provider:  p.Name(),
		Model:     wire.Model,
		CreatedAt: time.Now(),
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: finishReason(wire.DoneReason, len(msg.ToolCalls) > 0),
			Message:      msg,
		}},
		Usage: p.usage(wire.PromptEvalCount, wire.EvalCount, wire.Model, req.Messages, wire.Message.Content),
	}
	return out, nil
}

// Stream performs a streaming chat request. Ollama streams one JSON object
// per line; the final object has done=true and carries the eval counts.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, "/api/chat", p.buildChatRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer providers.SafeCloseBody(resp.Body)
		defer close(ch)

		var sb strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var wire chatResponse
			if err := json.Unmarshal(line, &wire); err != nil {
				p.sendErr(ctx, ch, err.Error())
				return
			}
			if wire.Error != "" {
				p.sendErr(ctx, ch, wire.Error)
				return
			}

			sb.WriteString(wire.Message.Content)
			chunk := llm.StreamChunk{
				Provider: p.Name(),
				Model:    wire.Model,
				Delta:    llm.Message{Role: llm.RoleAssistant, Content: wire.Message.Content},
			}
			for i, tc := range wire.Message.ToolCalls {
				chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, llm.ToolCall{
					ID:        fmt.Sprintf("call_%d", i),
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if wire.Done {
				chunk.FinishReason = finishReason(wire.DoneReason, false)
				u := p.usage(wire.PromptEvalCount, wire.EvalCount, wire.Model, req.Messages, sb.String())
				chunk.Usage = &u
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
			if wire.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			p.sendErr(ctx, ch, err.Error())
		}
	}()
	return ch, nil
}

// Generate performs a non-streaming request against the native /api/generate
// prompt endpoint.
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	resp, err := p.post(ctx, "/api/generate", generateRequest{
		Model:     providers.ChooseModel(req.Model, p.model, defaultModel),
		Prompt:    req.Prompt,
		System:    req.System,
		Stream:    false,
		KeepAlive: p.cfg.KeepAlive,
		Options:   buildOptions(req.MaxTokens, req.Temperature, req.TopP, req.Stop),
	})
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var wire generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	if wire.Error != "" {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: wire.Error, Provider: p.Name()}
	}

	promptMsgs := []llm.Message{llm.NewUserMessage(req.Prompt)}
	return &llm.TextResponse{
		Provider:     p.Name(),
		Model:        wire.Model,
		Text:         wire.Response,
		FinishReason: finishReason(wire.DoneReason, false),
		Usage:        p.usage(wire.PromptEvalCount, wire.EvalCount, wire.Model, promptMsgs, wire.Response),
		CreatedAt:    time.Now(),
	}, nil
}

// GenerateStream streams from /api/generate.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.TextChunk, error) {
	resp, err := p.post(ctx, "/api/generate", generateRequest{
		Model:     providers.ChooseModel(req.Model, p.model, defaultModel),
		Prompt:    req.Prompt,
		System:    req.System,
		Stream:    true,
		KeepAlive: p.cfg.KeepAlive,
		Options:   buildOptions(req.MaxTokens, req.Temperature, req.TopP, req.Stop),
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.TextChunk)
	go func() {
		defer providers.SafeCloseBody(resp.Body)
		defer close(ch)

		var sb strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var wire generateResponse
			if err := json.Unmarshal(line, &wire); err != nil {
				select {
				case <-ctx.Done():
				case ch <- llm.TextChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name()}}:
				}
				return
			}
			if wire.Error != "" {
				select {
				case <-ctx.Done():
				case ch <- llm.TextChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: wire.Error, Provider: p.Name()}}:
				}
				return
			}

			sb.WriteString(wire.Response)
			chunk := llm.TextChunk{Provider: p.Name(), Model: wire.Model, Text: wire.Response}
			if wire.Done {
				chunk.FinishReason = finishReason(wire.DoneReason, false)
				u := p.usage(wire.PromptEvalCount, wire.EvalCount, wire.Model,
					[]llm.Message{llm.NewUserMessage(req.Prompt)}, sb.String())
				chunk.Usage = &u
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
			if wire.Done {
				return
			}
		}
	}()
	return ch, nil
}

// HealthCheck probes /api/tags, which answers without loading a model.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("ollama health check failed: status=%d", resp.StatusCode)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels returns the locally installed models from /api/tags.
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrProviderUnavailable, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var tags struct {
		Models []struct {
			Name       string    `json:"name"`
			ModifiedAt time.Time `json:"modified_at"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(),
		}
	}

	models := make([]llm.Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, llm.Model{ID: m.Name, OwnedBy: "library", Created: m.ModifiedAt.Unix()})
	}
	return models, nil
}

// usage prefers the daemon's eval counts; when missing it falls back to the
// local estimator and flags the result.
func (p *Provider) usage(promptEval, eval int, model string, msgs []llm.Message, completion string) llm.ChatUsage {
	if promptEval > 0 || eval > 0 {
		return llm.ChatUsage{
			PromptTokens:     promptEval,
			CompletionTokens: eval,
			TotalTokens:      promptEval + eval,
		}
	}
	return p.estimator.EstimateUsage(model, msgs, completion)
}

func (p *Provider) sendErr(ctx context.Context, ch chan<- llm.StreamChunk, msg string) {
	select {
	case <-ctx.Done():
	case ch <- llm.StreamChunk{Err: &llm.Error{
		Code: llm.ErrUpstreamError, Message: msg, Retryable: true, Provider: p.Name(),
	}}:
	}
}

func finishReason(doneReason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch doneReason {
	case "", "stop":
		return "stop"
	case "length":
		return "length"
	default:
		return doneReason
	}
}
