package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler processes a chat request and returns a response.
type Handler func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// Middleware wraps a handler with additional functionality.
type Middleware func(next Handler) Handler

// Chain represents a middleware chain.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain creates a new middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use adds middleware to the chain.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps a handler with all middleware.
func (c *Chain) Then(h Handler) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len returns the number of middleware.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// WrapProvider applies the chain to a provider's Completion path, returning
// a Provider whose sync requests flow through the middleware. Stream and the
// other methods delegate unchanged.
func (c *Chain) WrapProvider(p Provider) Provider {
	return &chainedProvider{Provider: p, handler: c.Then(p.Completion)}
}

type chainedProvider struct {
	Provider
	handler Handler
}

func (p *chainedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.handler(ctx, req)
}

// LoggingMiddleware logs request/response details with zap.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			start := time.Now()
			logger.Debug("chat request",
				zap.String("model", req.Model),
				zap.Int("messages", len(req.Messages)),
				zap.Int("tools", len(req.Tools)))

			resp, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				logger.Warn("chat request failed",
					zap.String("model", req.Model),
					zap.Duration("duration", duration),
					zap.Error(err))
				return nil, err
			}
			logger.Debug("chat response",
				zap.String("model", resp.Model),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
				zap.Duration("duration", duration))
			return resp, nil
		}
	}
}

// TimeoutMiddleware adds a timeout to requests.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// RecoveryMiddleware recovers from panics in downstream handlers and turns
// them into errors.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (resp *ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic", zap.Any("panic", r))
					err = &Error{
						Code:    ErrInternalError,
						Message: fmt.Sprintf("handler panic: %v", r),
					}
				}
			}()
			return next(ctx, req)
		}
	}
}

// RateLimitMiddleware blocks until the limiter grants a token or the context
// is cancelled.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &Error{
					Code:      ErrRateLimited,
					Message:   fmt.Sprintf("local rate limit: %v", err),
					Retryable: true,
				}
			}
			return next(ctx, req)
		}
	}
}

// CacheMiddleware serves cacheable requests from the cache and stores fresh
// responses on the way out. Requests carrying tools bypass the cache.
func CacheMiddleware(cache *MultiLevelCache) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			if cache == nil || !cache.IsCacheable(req) {
				return next(ctx, req)
			}
			key := cache.GenerateKey(req)
			if entry, err := cache.Get(ctx, key); err == nil {
				return entry.Response, nil
			}
			resp, err := next(ctx, req)
			if err != nil {
				return nil, err
			}
			_ = cache.Set(ctx, key, &CacheEntry{
				Response:    resp,
				TokensSaved: resp.Usage.TotalTokens,
			})
			return resp, nil
		}
	}
}
