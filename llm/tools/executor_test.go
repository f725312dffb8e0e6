package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/aibridge/aibridge/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoTool(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(zap.NewNop())
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Register("echo", echoTool, Metadata{}))
	assert.True(t, r.Has("echo"))

	_, meta, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", meta.Schema.Name)
	assert.Equal(t, defaultTimeout, meta.Timeout)

	err = r.Register("echo", echoTool, Metadata{})
	require.ErrorContains(t, err, "already registered")

	err = r.Register("other", echoTool, Metadata{
		Schema: llm.ToolSchema{Name: "mismatch"},
	})
	require.ErrorContains(t, err, "name mismatch")

	err = r.Register("unbounded", echoTool, Metadata{RateLimit: &RateLimit{}})
	require.ErrorContains(t, err, "rate limit")
	assert.False(t, r.Has("unbounded"))

	err = r.Register("nowindow", echoTool, Metadata{RateLimit: &RateLimit{MaxCalls: 3}})
	require.ErrorContains(t, err, "rate limit")
}

func TestRegistry_RegisterFor(t *testing.T) {
	type weatherArgs struct {
		City string `json:"city" description:"City name" required:"true"`
		Unit string `json:"unit,omitempty"`
	}

	r := newTestRegistry(t)
	require.NoError(t, r.RegisterFor("get_weather", "Current weather", weatherArgs{}, echoTool, Metadata{}))

	_, meta, err := r.Get("get_weather")
	require.NoError(t, err)
	require.NotNil(t, meta.Schema.Parameters)
	assert.Equal(t, "Current weather", meta.Schema.Description)
	assert.Contains(t, meta.Schema.Parameters.Properties, "city")
	assert.Contains(t, meta.Schema.Parameters.Required, "city")
}

func TestRegistry_Unregister(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("echo", echoTool, Metadata{}))
	require.NoError(t, r.Unregister("echo"))
	assert.False(t, r.Has("echo"))
	require.ErrorContains(t, r.Unregister("echo"), "not found")
}

func TestRegistry_Schemas(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("a", echoTool, Metadata{}))
	require.NoError(t, r.Register("b", echoTool, Metadata{}))
	assert.Len(t, r.Schemas(), 2)
}

func TestExecuteOne(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("echo", echoTool, Metadata{}))
	e := NewExecutor(r, zap.NewNop())

	res := e.ExecuteOne(context.Background(), llm.ToolCall{
		ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"k":"v"}`),
	})
	assert.Empty(t, res.Error)
	assert.JSONEq(t, `{"k":"v"}`, string(res.Content))
	assert.Equal(t, "call_1", res.ToolCallID)
}

func TestExecuteOne_NotFound(t *testing.T) {
	e := NewExecutor(newTestRegistry(t), zap.NewNop())
	res := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "missing"})
	assert.Contains(t, res.Error, "not found")
}

func TestExecuteOne_InvalidArguments(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("echo", echoTool, Metadata{}))
	e := NewExecutor(r, zap.NewNop())

	res := e.ExecuteOne(context.Background(), llm.ToolCall{
		ID: "c", Name: "echo", Arguments: json.RawMessage(`{broken`),
	})
	assert.Contains(t, res.Error, "invalid arguments")
}

func TestExecuteOne_ToolError(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("fail", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("backend unavailable")
	}, Metadata{}))
	e := NewExecutor(r, zap.NewNop())

	res := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "fail"})
	assert.Equal(t, "backend unavailable", res.Error)
}

func TestExecuteOne_Timeout(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("slow", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, Metadata{Timeout: 50 * time.Millisecond}))
	e := NewExecutor(r, zap.NewNop())

	start := time.Now()
	res := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "slow"})
	assert.Contains(t, res.Error, "timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteOne_RateLimit(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("limited", echoTool, Metadata{
		RateLimit: &RateLimit{MaxCalls: 2, Window: time.Hour},
	}))
	e := NewExecutor(r, zap.NewNop())

	for i := 0; i < 2; i++ {
		res := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "limited"})
		assert.Empty(t, res.Error)
	}
	res := e.ExecuteOne(context.Background(), llm.ToolCall{ID: "c", Name: "limited"})
	assert.Contains(t, res.Error, "rate limit")
}

func TestExecute_Concurrent(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("echo", echoTool, Metadata{}))
	e := NewExecutor(r, zap.NewNop())

	calls := []llm.ToolCall{
		{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"n":1}`)},
		{ID: "c2", Name: "missing"},
		{ID: "c3", Name: "echo", Arguments: json.RawMessage(`{"n":3}`)},
	}
	results := e.Execute(context.Background(), calls)
	require.Len(t, results, 3)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.JSONEq(t, `{"n":1}`, string(results[0].Content))
	assert.Contains(t, results[1].Error, "not found")
	assert.JSONEq(t, `{"n":3}`, string(results[2].Content))
}

func TestResult_Message(t *testing.T) {
	ok := Result{ToolCallID: "c1", Name: "echo", Content: json.RawMessage(`{"ok":true}`)}
	msg := ok.Message()
	assert.Equal(t, llm.RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.JSONEq(t, `{"ok":true}`, msg.Content)

	failed := Result{ToolCallID: "c2", Name: "echo", Error: "boom"}
	msg = failed.Message()
	assert.JSONEq(t, `{"error":"boom"}`, msg.Content)
}
