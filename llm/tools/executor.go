// Package tools holds the tool registry and executor. The registry maps tool
// names to Go functions plus their schemas; the executor runs the tool calls
// a model proposes, with per-tool timeouts and rate limits.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// Func is the tool function signature. Arguments arrive as the raw JSON the
// model produced; the result is returned as JSON.
type Func func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Metadata describes a registered tool.
type Metadata struct {
	Schema    llm.ToolSchema
	Timeout   time.Duration // per-call timeout, defaults to 30s
	RateLimit *RateLimit    // optional per-tool rate limit
}

// RateLimit caps tool invocations per time window.
type RateLimit struct {
	MaxCalls int
	Window   time.Duration
}

// Result is the outcome of a single tool call.
type Result struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Content    json.RawMessage `json:"content,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Message renders the result as the tool message to append to the
// conversation.
func (r Result) Message() llm.Message {
	content := string(r.Content)
	if r.Error != "" {
		payload, _ := json.Marshal(map[string]string{"error": r.Error})
		content = string(payload)
	}
	return llm.NewToolMessage(r.ToolCallID, r.Name, content)
}

// Registry stores the available tools.
type Registry struct {
	mu       sync.RWMutex
	fns      map[string]Func
	metadata map[string]Metadata
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		fns:      make(map[string]Func),
		metadata: make(map[string]Metadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// Register adds a tool under the given name. Registering an existing name is
// an error.
func (r *Registry) Register(name string, fn Func, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fns[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema says %s, registered as %s", meta.Schema.Name, name)
	}
	if meta.Timeout == 0 {
		meta.Timeout = defaultTimeout
	}
	if rl := meta.RateLimit; rl != nil && (rl.MaxCalls <= 0 || rl.Window <= 0) {
		return fmt.Errorf("tool %s: rate limit requires positive MaxCalls and Window", name)
	}

	r.fns[name] = fn
	r.metadata[name] = meta
	if rl := meta.RateLimit; rl != nil {
		r.limiters[name] = rate.NewLimiter(rate.Every(rl.Window/time.Duration(rl.MaxCalls)), rl.MaxCalls)
	}

	r.logger.Info("tool registered", zap.String("name", name), zap.Duration("timeout", meta.Timeout))
	return nil
}

// RegisterFor derives the tool's parameter schema from an argument struct via
// reflection and registers it.
func (r *Registry) RegisterFor(name, description string, args any, fn Func, meta Metadata) error {
	schema, err := types.SchemaFromStruct(args)
	if err != nil {
		return fmt.Errorf("failed to derive schema for %s: %w", name, err)
	}
	meta.Schema = llm.ToolSchema{Name: name, Description: description, Parameters: schema}
	return r.Register(name, fn, meta)
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fns[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.fns, name)
	delete(r.metadata, name)
	delete(r.limiters, name)
	return nil
}

// Get returns a tool's function and metadata.
func (r *Registry) Get(name string) (Func, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.fns[name]
	if !ok {
		return nil, Metadata{}, fmt.Errorf("tool %s not found", name)
	}
	return fn, r.metadata[name], nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[name]
	return ok
}

// Schemas returns the schemas of all registered tools, for attaching to a
// ChatRequest.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		out = append(out, meta.Schema)
	}
	return out
}

func (r *Registry) allow(name string) bool {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// Executor runs tool calls against a registry.
type Executor struct {
	registry *Registry
	logger   *zap.Logger
}

// NewExecutor creates an executor bound to a registry.
func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute runs all calls concurrently and returns results in call order.
func (e *Executor) Execute(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			results[idx] = e.ExecuteOne(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExecuteOne runs a single tool call. Failures are reported in the result,
// not as an error; the model sees them as tool output.
func (e *Executor) ExecuteOne(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Name: call.Name}
	finish := func() Result {
		result.Duration = time.Since(start)
		return result
	}

	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("tool not found", zap.String("name", call.Name))
		return finish()
	}

	if !e.registry.allow(call.Name) {
		result.Error = fmt.Sprintf("rate limit exceeded for tool %s", call.Name)
		e.logger.Warn("tool rate limited", zap.String("name", call.Name))
		return finish()
	}

	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		result.Error = "invalid arguments: not valid JSON"
		e.logger.Warn("invalid tool arguments", zap.String("name", call.Name))
		return finish()
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	// Buffered so the goroutine exits even if the timeout fires first.
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(execCtx, call.Arguments)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			result.Error = out.err.Error()
			e.logger.Error("tool execution failed",
				zap.String("name", call.Name), zap.Error(out.err))
		} else {
			result.Content = out.res
			e.logger.Debug("tool executed",
				zap.String("name", call.Name), zap.Duration("duration", time.Since(start)))
		}
	case <-execCtx.Done():
		result.Error = fmt.Sprintf("execution timeout after %s", meta.Timeout)
		e.logger.Error("tool execution timeout",
			zap.String("name", call.Name), zap.Duration("timeout", meta.Timeout))
	}
	return finish()
}
