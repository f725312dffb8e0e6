package azureopenai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func azureConfig(endpoint string) providers.AzureOpenAIConfig {
	return providers.AzureOpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "azure-key"},
		Endpoint:           endpoint,
		Deployment:         "gpt4o-prod",
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(providers.AzureOpenAIConfig{Deployment: "d"}, nil)
	require.ErrorContains(t, err, "endpoint is required")

	_, err = New(providers.AzureOpenAIConfig{Endpoint: "https://r.openai.azure.com"}, nil)
	require.ErrorContains(t, err, "deployment is required")

	cfg := azureConfig("https://r.openai.azure.com")
	cfg.UseAzureAD = true
	_, err = New(cfg, nil)
	require.ErrorContains(t, err, "token provider")
}

func TestCompletion_URLAndHeaders(t *testing.T) {
	var gotPath, gotVersion, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotAPIKey = r.Header.Get("api-key")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID:    "chatcmpl-az",
			Model: "gpt-4o",
			Choices: []providers.OpenAICompatChoice{
				{Message: providers.OpenAICompatMessage{Role: "assistant", Content: "ok"}, FinishReason: "stop"},
			},
		})
	}))
	defer srv.Close()

	p, err := New(azureConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, "/openai/deployments/gpt4o-prod/chat/completions", gotPath)
	assert.Equal(t, defaultAPIVersion, gotVersion)
	assert.Equal(t, "azure-key", gotAPIKey)
	assert.Equal(t, "azure-openai", p.Name())
}

func TestCompletion_AzureADToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			Choices: []providers.OpenAICompatChoice{
				{Message: providers.OpenAICompatMessage{Role: "assistant", Content: "ok"}},
			},
		})
	}))
	defer srv.Close()

	cfg := azureConfig(srv.URL)
	cfg.UseAzureAD = true
	p, err := New(cfg, zap.NewNop(), WithTokenProvider(StaticTokenProvider("ad-token")))
	require.NoError(t, err)

	_, err = p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer ad-token", gotAuth)
}

func TestListModels_NotDeploymentScoped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/models", r.URL.Path)
		assert.Equal(t, defaultAPIVersion, r.URL.Query().Get("api-version"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []llm.Model{{ID: "gpt-4o"}},
		})
	}))
	defer srv.Close()

	p, err := New(azureConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o", models[0].ID)
}

func signedTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"aud": "https://cognitiveservices.azure.com",
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestCachedTokenProvider(t *testing.T) {
	t.Run("caches until expiry", func(t *testing.T) {
		calls := 0
		token := signedTestToken(t, time.Now().Add(time.Hour))
		tp := NewCachedTokenProvider(func(ctx context.Context) (string, error) {
			calls++
			return token, nil
		})

		for i := 0; i < 5; i++ {
			got, err := tp.Token(context.Background())
			require.NoError(t, err)
			assert.Equal(t, token, got)
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("refreshes expired token", func(t *testing.T) {
		calls := 0
		tp := NewCachedTokenProvider(func(ctx context.Context) (string, error) {
			calls++
			// Already inside the refresh window, so every call refetches.
			return signedTestToken(t, time.Now().Add(time.Minute)), nil
		})

		_, err := tp.Token(context.Background())
		require.NoError(t, err)
		_, err = tp.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("fetch error propagates", func(t *testing.T) {
		tp := NewCachedTokenProvider(func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("aad unavailable")
		})
		_, err := tp.Token(context.Background())
		require.ErrorContains(t, err, "aad unavailable")
	})

	t.Run("opaque token cached briefly", func(t *testing.T) {
		calls := 0
		tp := NewCachedTokenProvider(func(ctx context.Context) (string, error) {
			calls++
			return "not-a-jwt", nil
		})
		_, err := tp.Token(context.Background())
		require.NoError(t, err)
		got, err := tp.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "not-a-jwt", got)
		assert.Equal(t, 1, calls)
	})
}
