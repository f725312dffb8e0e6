package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chain := NewChain(mk("outer")).Use(mk("inner"))
	handler := chain.Then(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		order = append(order, "handler")
		return &ChatResponse{}, nil
	})

	_, err := handler(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	assert.Equal(t, 2, chain.Len())
}

func TestTimeoutMiddleware(t *testing.T) {
	handler := TimeoutMiddleware(20 * time.Millisecond)(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		select {
		case <-time.After(time.Second):
			return &ChatResponse{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	_, err := handler(context.Background(), &ChatRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		panic("boom")
	})

	_, err := handler(context.Background(), &ChatRequest{})
	require.Error(t, err)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, ErrInternalError, typed.Code)
}

func TestRateLimitMiddleware_Cancelled(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	handler := RateLimitMiddleware(limiter)(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{}, nil
	})

	// First call consumes the single burst token.
	_, err := handler(context.Background(), &ChatRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = handler(ctx, &ChatRequest{})
	require.Error(t, err)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, ErrRateLimited, typed.Code)
}

func TestCacheMiddleware(t *testing.T) {
	cache := NewMultiLevelCache(nil, &CacheConfig{
		EnableLocal:  true,
		LocalMaxSize: 10,
		LocalTTL:     time.Minute,
	}, nil)

	calls := 0
	handler := CacheMiddleware(cache)(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		calls++
		return testResponse("cached-model"), nil
	})

	req := &ChatRequest{Model: "cached-model", Messages: []Message{NewUserMessage("q")}}

	for i := 0; i < 3; i++ {
		resp, err := handler(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "cached-model", resp.Model)
	}
	assert.Equal(t, 1, calls, "second and third calls must be served from cache")

	// Tool-bearing requests bypass the cache.
	toolReq := &ChatRequest{Model: "cached-model", Tools: []ToolSchema{{Name: "t"}}}
	_, err := handler(context.Background(), toolReq)
	require.NoError(t, err)
	_, err = handler(context.Background(), toolReq)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCacheMiddleware_ErrorNotCached(t *testing.T) {
	cache := NewMultiLevelCache(nil, &CacheConfig{
		EnableLocal:  true,
		LocalMaxSize: 10,
		LocalTTL:     time.Minute,
	}, nil)

	calls := 0
	handler := CacheMiddleware(cache)(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		calls++
		return nil, errors.New("upstream down")
	})

	req := &ChatRequest{Model: "m", Messages: []Message{NewUserMessage("q")}}
	_, err := handler(context.Background(), req)
	require.Error(t, err)
	_, err = handler(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestChain_WrapProvider(t *testing.T) {
	var hits int
	chain := NewChain(func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			hits++
			return next(ctx, req)
		}
	})

	p := chain.WrapProvider(&stubProvider{name: "wrapped"})
	resp, err := p.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "wrapped", resp.Provider)
	assert.Equal(t, 1, hits)
	assert.Equal(t, "wrapped", p.Name())
}
