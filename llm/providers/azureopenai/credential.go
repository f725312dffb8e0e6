package azureopenai

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshSkew renews a cached token this long before its exp claim.
const refreshSkew = 2 * time.Minute

// TokenProvider supplies Azure AD bearer tokens for the
// https://cognitiveservices.azure.com scope.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token. Useful for tests and for hosts
// that manage refresh themselves.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// CachedTokenProvider wraps a fetch function and caches the token until
// shortly before its JWT exp claim. Fetches are serialized; concurrent
// callers share the cached token.
type CachedTokenProvider struct {
	fetch func(ctx context.Context) (string, error)

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCachedTokenProvider builds a caching provider around fetch.
func NewCachedTokenProvider(fetch func(ctx context.Context) (string, error)) *CachedTokenProvider {
	return &CachedTokenProvider{fetch: fetch}
}

func (c *CachedTokenProvider) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expires) {
		return c.token, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expires = tokenExpiry(token)
	return token, nil
}

// tokenExpiry extracts the exp claim without verifying the signature; the
// token is opaque credential material here, not something we validate.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		// Unparseable token: cache briefly so a broken fetch does not hammer
		// the token endpoint.
		return time.Now().Add(time.Minute)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(time.Minute)
	}
	return exp.Time.Add(-refreshSkew)
}
