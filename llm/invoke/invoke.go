// Package invoke runs the tool calling loop: send a chat request, execute
// the tool calls the model proposes, feed the results back, and repeat until
// the model answers in plain text or the iteration cap is hit.
package invoke

import (
	"context"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/tools"
	"go.uber.org/zap"
)

// MaxAutoInvokeIterations caps the tool calling loop. The cap guards against
// a model that keeps requesting tools forever; when it is reached the loop
// stops and the last response is handed back with CapReached set.
const MaxAutoInvokeIterations = 128

// Invoker drives the auto-invoke loop against a provider and a tool
// registry.
type Invoker struct {
	provider llm.Provider
	registry *tools.Registry
	executor *tools.Executor
	logger   *zap.Logger
	maxIters int
}

// Option configures the invoker.
type Option func(*Invoker)

// WithMaxIterations lowers the iteration cap. Values above
// MaxAutoInvokeIterations or below 1 are clamped.
func WithMaxIterations(n int) Option {
	return func(inv *Invoker) {
		if n < 1 {
			n = 1
		}
		if n > MaxAutoInvokeIterations {
			n = MaxAutoInvokeIterations
		}
		inv.maxIters = n
	}
}

// New creates an invoker.
func New(provider llm.Provider, registry *tools.Registry, logger *zap.Logger, opts ...Option) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	inv := &Invoker{
		provider: provider,
		registry: registry,
		executor: tools.NewExecutor(registry, logger),
		logger:   logger,
		maxIters: MaxAutoInvokeIterations,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs the loop to completion. The caller's request is not mutated;
// the conversation grows on a private copy. The returned response is the
// final model turn, and Messages on the result carries the full transcript
// including tool results.
func (inv *Invoker) Invoke(ctx context.Context, req *llm.ChatRequest) (*Outcome, error) {
	if len(req.Tools) > 0 && !inv.provider.SupportsNativeFunctionCalling() {
		return nil, &llm.Error{
			Code:     llm.ErrToolValidation,
			Message:  "provider " + inv.provider.Name() + " does not support tools",
			Provider: inv.provider.Name(),
		}
	}

	working := *req
	working.Messages = append([]llm.Message(nil), req.Messages...)
	if len(working.Tools) == 0 {
		working.Tools = inv.registry.Schemas()
	}

	for iter := 0; iter < inv.maxIters; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := inv.provider.Completion(ctx, &working)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return &Outcome{Response: resp, Messages: working.Messages, Iterations: iter + 1}, nil
		}

		assistant := resp.Choices[0].Message
		working.Messages = append(working.Messages, assistant)

		if len(assistant.ToolCalls) == 0 {
			return &Outcome{Response: resp, Messages: working.Messages, Iterations: iter + 1}, nil
		}

		inv.logger.Debug("executing tool calls",
			zap.Int("iteration", iter+1),
			zap.Int("count", len(assistant.ToolCalls)))

		results := inv.executor.Execute(ctx, assistant.ToolCalls)
		for _, res := range results {
			working.Messages = append(working.Messages, res.Message())
		}

		if iter == inv.maxIters-1 {
			// Cap reached with tools still pending; hand the last response
			// back instead of looping forever.
			inv.logger.Warn("auto invoke iteration cap reached",
				zap.Int("max_iterations", inv.maxIters))
			return &Outcome{
				Response:   resp,
				Messages:   working.Messages,
				Iterations: iter + 1,
				CapReached: true,
			}, nil
		}
	}

	// Unreachable; the loop always returns.
	return nil, &llm.Error{Code: llm.ErrInternalError, Message: "invoke loop exited unexpectedly"}
}

// Outcome is the result of an auto-invoke run.
type Outcome struct {
	// Response is the final model turn.
	Response *llm.ChatResponse
	// Messages is the full transcript, including tool results.
	Messages []llm.Message
	// Iterations is the number of model turns taken.
	Iterations int
	// CapReached is set when the loop stopped at the iteration cap with
	// tool calls still pending.
	CapReached bool
}

// Text returns the final assistant text, empty if the run ended on pending
// tool calls.
func (o *Outcome) Text() string {
	if o.Response == nil || len(o.Response.Choices) == 0 {
		return ""
	}
	return o.Response.Choices[0].Message.Content
}
