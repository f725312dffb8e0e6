package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func boolPtr(b bool) *bool { return &b }

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name             string
		cfg              Config
		logger           *zap.Logger
		wantEndpoint     string
		wantModels       string
		wantName         string
		wantToolsSupport bool
	}{
		{
			name:             "all defaults applied",
			cfg:              Config{ProviderName: "test"},
			logger:           nil,
			wantEndpoint:     "/v1/chat/completions",
			wantModels:       "/v1/models",
			wantName:         "test",
			wantToolsSupport: true,
		},
		{
			name: "custom endpoint paths preserved",
			cfg: Config{
				ProviderName:   "custom",
				EndpointPath:   "/api/chat",
				ModelsEndpoint: "/api/models",
			},
			logger:           zap.NewNop(),
			wantEndpoint:     "/api/chat",
			wantModels:       "/api/models",
			wantName:         "custom",
			wantToolsSupport: true,
		},
		{
			name: "supports tools false",
			cfg: Config{
				ProviderName:  "no-tools",
				SupportsTools: boolPtr(false),
			},
			logger:           zap.NewNop(),
			wantEndpoint:     "/v1/chat/completions",
			wantModels:       "/v1/models",
			wantName:         "no-tools",
			wantToolsSupport: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, tt.logger)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantEndpoint, p.Cfg.EndpointPath)
			assert.Equal(t, tt.wantModels, p.Cfg.ModelsEndpoint)
			assert.Equal(t, tt.wantName, p.Name())
			assert.Equal(t, tt.wantToolsSupport, p.SupportsNativeFunctionCalling())
			assert.NotNil(t, p.Client)
			assert.NotNil(t, p.Logger)
		})
	}
}

func TestNew_TimeoutDefault(t *testing.T) {
	p := New(Config{ProviderName: "t"}, nil)
	assert.Equal(t, 30*time.Second, p.Client.Timeout)
}

func TestNew_CustomHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: 3 * time.Second}
	p := New(Config{ProviderName: "t", HTTPClient: custom}, nil)
	assert.Same(t, custom, p.Client)
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func completionFixture(model, content string) providers.OpenAICompatResponse {
	return providers.OpenAICompatResponse{
		ID:    "chatcmpl-1",
		Model: model,
		Choices: []providers.OpenAICompatChoice{
			{
				Index:        0,
				FinishReason: "stop",
				Message:      providers.OpenAICompatMessage{Role: "assistant", Content: content},
			},
		},
		Usage:   &providers.OpenAICompatUsage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
		Created: 1700000000,
	}
}

func TestCompletion(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody providers.OpenAICompatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(completionFixture("gpt-4o", "hello there"))
	}))
	defer srv.Close()

	p := New(Config{
		ProviderName: "test",
		APIKey:       "sk-test",
		BaseURL:      srv.URL,
		DefaultModel: "gpt-4o",
	}, zap.NewNop())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages:    []llm.Message{llm.NewUserMessage("hi")},
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o", gotBody.Model)
	assert.False(t, gotBody.Stream)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.Equal(t, "test", resp.Provider)
	assert.Equal(t, time.Unix(1700000000, 0), resp.CreatedAt)
}

func TestCompletion_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := providers.OpenAICompatResponse{
			ID:    "chatcmpl-2",
			Model: "gpt-4o",
			Choices: []providers.OpenAICompatChoice{
				{
					FinishReason: "tool_calls",
					Message: providers.OpenAICompatMessage{
						Role: "assistant",
						ToolCalls: []providers.OpenAICompatToolCall{
							{
								ID:   "call_1",
								Type: "function",
								Function: providers.OpenAICompatFunction{
									Name:      "get_weather",
									Arguments: json.RawMessage(`{"location":"Paris"}`),
								},
							},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL, DefaultModel: "gpt-4o"}, nil)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("weather in paris?")},
		Tools: []llm.ToolSchema{
			{Name: "get_weather", Description: "Look up current weather"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)

	calls := resp.Choices[0].Message.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"location":"Paris"}`, string(calls[0].Arguments))
}

func TestCompletion_ErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantCode  string
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, "UNAUTHORIZED", false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, "RATE_LIMITED", true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"missing field"}}`, "INVALID_REQUEST", false},
		{"quota", http.StatusBadRequest, `{"error":{"message":"monthly quota exhausted"}}`, "QUOTA_EXCEEDED", false},
		{"server error", http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, "UPSTREAM_ERROR", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL, DefaultModel: "m"}, nil)
			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{llm.NewUserMessage("hi")},
			})
			require.Error(t, err)

			var typed *llm.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tc.wantCode, string(typed.Code))
			assert.Equal(t, tc.status, typed.HTTPStatus)
			assert.Equal(t, tc.retryable, typed.Retryable)
			assert.Equal(t, "test", typed.Provider)
		})
	}
}

func TestCompletion_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request context only fires on client disconnect once the body
		// has been consumed, so drain it before parking.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL, DefaultModel: "m"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Completion(ctx, &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body providers.OpenAICompatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"id":"s1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"s1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"s1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`{"id":"s1","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL, DefaultModel: "gpt-4o"}, nil)

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	var text string
	var finish string
	var usage *llm.ChatUsage
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		text += chunk.Delta.Content
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	assert.Equal(t, "Hello", text)
	assert.Equal(t, "stop", finish)
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL, DefaultModel: "m"}, nil)
	_, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.Error(t, err)

	var typed *llm.Error
	require.ErrorAs(t, err, &typed)
	assert.True(t, typed.Retryable)
}

func TestStream_MalformedFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL, DefaultModel: "m"}, nil)
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	var sawErr bool
	for chunk := range ch {
		if chunk.Err != nil {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
}

// ---------------------------------------------------------------------------
// Text generation adapter
// ---------------------------------------------------------------------------

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body providers.OpenAICompatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "be terse", body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)
		_ = json.NewEncoder(w).Encode(completionFixture("gpt-4o", "generated text"))
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL, DefaultModel: "gpt-4o"}, nil)

	resp, err := p.Generate(context.Background(), &llm.TextRequest{
		Prompt: "write a haiku",
		System: "be terse",
	})
	require.NoError(t, err)
	assert.Equal(t, "generated text", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

// ---------------------------------------------------------------------------
// HealthCheck / ListModels
// ---------------------------------------------------------------------------

func TestHealthCheckAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "gpt-4o", "owned_by": "openai"},
				{"id": "gpt-4o-mini", "owned_by": "openai"},
			},
		})
	}))
	defer srv.Close()

	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: srv.URL}, nil)

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Greater(t, status.Latency, time.Duration(0))

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4o", models[0].ID)
}

func TestHealthCheck_Unreachable(t *testing.T) {
	p := New(Config{ProviderName: "test", APIKey: "k", BaseURL: "http://127.0.0.1:1"}, nil)
	status, err := p.HealthCheck(context.Background())
	require.Error(t, err)
	require.NotNil(t, status)
	assert.False(t, status.Healthy)
}
