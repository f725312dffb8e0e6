package observability

import (
	"context"
	"errors"
	"time"

	"github.com/aibridge/aibridge/llm"
)

// Middleware records a span and the full metric set for every completion
// flowing through the chain.
func Middleware(m *Metrics, provider string) llm.Middleware {
	return func(next llm.Handler) llm.Handler {
		return func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			attrs := RequestAttrs{Provider: provider, Model: req.Model}
			ctx, span := m.StartRequest(ctx, attrs)
			start := time.Now()

			resp, err := next(ctx, req)

			out := ResponseAttrs{Duration: time.Since(start)}
			switch {
			case err != nil:
				out.Status = "error"
				out.ErrorCode = errorCode(err)
			default:
				out.Status = "success"
				out.TokensPrompt = resp.Usage.PromptTokens
				out.TokensCompletion = resp.Usage.CompletionTokens
				if resp.Model != "" {
					attrs.Model = resp.Model
				}
			}
			m.EndRequest(ctx, span, attrs, out)
			return resp, err
		}
	}
}

func errorCode(err error) string {
	var typed *llm.Error
	if errors.As(err, &typed) {
		return string(typed.Code)
	}
	return "UNKNOWN"
}
