package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := New(providers.OpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{
			APIKey:  "sk-test",
			BaseURL: srv.URL,
		},
		Organization: "org-123",
		Project:      "proj-456",
	}, zap.NewNop())
	return p, srv
}

func TestNew_Defaults(t *testing.T) {
	p := New(providers.OpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k"},
	}, nil)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, defaultBaseURL, p.Cfg.BaseURL)
	assert.Equal(t, defaultModel, p.Cfg.DefaultModel)
	assert.True(t, p.SupportsNativeFunctionCalling())
}

func TestCompletion_Headers(t *testing.T) {
	var gotOrg, gotProject, gotAuth string
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotOrg = r.Header.Get("OpenAI-Organization")
		gotProject = r.Header.Get("OpenAI-Project")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []providers.OpenAICompatChoice{
				{Message: providers.OpenAICompatMessage{Role: "assistant", Content: "ok"}, FinishReason: "stop"},
			},
		})
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, "org-123", gotOrg)
	assert.Equal(t, "proj-456", gotProject)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestUploadFile(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, FilePurposeAssistants, r.FormValue("purpose"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "notes.txt", hdr.Filename)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "file body", string(data))

		_ = json.NewEncoder(w).Encode(File{
			ID: "file-1", Object: "file", Bytes: 9, Filename: "notes.txt", Purpose: FilePurposeAssistants,
		})
	})

	file, err := p.UploadFile(context.Background(), "notes.txt", FilePurposeAssistants, strings.NewReader("file body"))
	require.NoError(t, err)
	assert.Equal(t, "file-1", file.ID)
	assert.Equal(t, int64(9), file.Bytes)
}

func TestListFiles(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files", r.URL.Path)
		assert.Equal(t, "batch", r.URL.Query().Get("purpose"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []File{{ID: "file-1"}, {ID: "file-2"}},
		})
	})

	files, err := p.ListFiles(context.Background(), "batch")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "file-2", files[1].ID)
}

func TestListFiles_TrailingSlashBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []File{}})
	}))
	t.Cleanup(srv.Close)

	p := New(providers.OpenAIConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k", BaseURL: srv.URL + "/"},
	}, zap.NewNop())

	_, err := p.ListFiles(context.Background(), "")
	require.NoError(t, err)
}

func TestDownloadFile(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/file-1/content", r.URL.Path)
		_, _ = w.Write([]byte("raw content"))
	})

	rc, err := p.DownloadFile(context.Background(), "file-1")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "raw content", string(data))
}

func TestDeleteFile(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			_ = json.NewEncoder(w).Encode(map[string]any{"deleted": true})
		})
		require.NoError(t, p.DeleteFile(context.Background(), "file-1"))
	})

	t.Run("not found", func(t *testing.T) {
		p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"no such file"}}`))
		})
		err := p.DeleteFile(context.Background(), "file-x")
		require.Error(t, err)
		var typed *llm.Error
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, http.StatusNotFound, typed.HTTPStatus)
	})
}
