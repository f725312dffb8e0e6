package observability

import (
	"context"
	"testing"
	"time"

	"github.com/aibridge/aibridge/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The global otel providers default to no-ops, so these exercise the full
// recording path without an SDK installed.

func TestMetrics_RequestLifecycle(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	attrs := RequestAttrs{Provider: "openai", Model: "gpt-4o-mini"}
	ctx, span := m.StartRequest(context.Background(), attrs)
	require.NotNil(t, span)

	m.EndRequest(ctx, span, attrs, ResponseAttrs{
		Status:           "success",
		TokensPrompt:     12,
		TokensCompletion: 34,
		Duration:         150 * time.Millisecond,
	})
}

func TestMetrics_ErrorAndCache(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	ctx, span := m.StartRequest(context.Background(), RequestAttrs{Provider: "ollama", Model: "llama3.2"})
	m.EndRequest(ctx, span, RequestAttrs{Provider: "ollama", Model: "llama3.2"}, ResponseAttrs{
		Status:    "error",
		ErrorCode: "RATE_LIMITED",
		Duration:  time.Second,
	})

	m.RecordCacheMiss(ctx, "ollama", "llama3.2")
	m.RecordToolCall(ctx, "get_weather", 20*time.Millisecond, true)
	require.NotNil(t, m.Tracer())
}

func TestMiddleware_Success(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	var sawReq *llm.ChatRequest
	handler := Middleware(m, "openai")(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		sawReq = req
		return &llm.ChatResponse{
			Model: "gpt-4o-2024-08-06",
			Usage: llm.ChatUsage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
		}, nil
	})

	req := &llm.ChatRequest{Model: "gpt-4o", Messages: []llm.Message{llm.NewUserMessage("hi")}}
	resp, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, req, sawReq)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestMiddleware_ErrorPassthrough(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	wantErr := &llm.Error{Code: llm.ErrRateLimited, Message: "slow down", Retryable: true}
	handler := Middleware(m, "openai")(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, wantErr
	})

	_, err = handler(context.Background(), &llm.ChatRequest{Model: "gpt-4o"})
	var typed *llm.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, llm.ErrRateLimited, typed.Code)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "UNAUTHORIZED", errorCode(&llm.Error{Code: llm.ErrUnauthorized}))
	assert.Equal(t, "UNKNOWN", errorCode(context.Canceled))
}
