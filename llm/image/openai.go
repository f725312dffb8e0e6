package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aibridge/aibridge/internal/tlsutil"
	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"go.uber.org/zap"
)

const openaiDefaultModel = "dall-e-3"

// OpenAIGenerator talks to an OpenAI-dialect images API. The Azure
// constructor reuses it with deployment-scoped URLs and api-key auth.
type OpenAIGenerator struct {
	name         string
	model        string
	client       *http.Client
	logger       *zap.Logger
	buildURL     func(op string) string
	buildHeaders func(*http.Request)
}

// NewOpenAI creates a generator for the OpenAI images API.
func NewOpenAI(cfg providers.OpenAIConfig, logger *zap.Logger) *OpenAIGenerator {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Image generation is slow; the chat default would cut it off.
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		name:   "openai",
		model:  model,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
		buildURL: func(op string) string {
			return baseURL + "/v1/images/" + op
		},
		buildHeaders: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			if cfg.Organization != "" {
				r.Header.Set("OpenAI-Organization", cfg.Organization)
			}
		},
	}
}

// NewAzureOpenAI creates a generator for an Azure OpenAI image deployment.
// Azure supports generations only; Edit and Vary return an error.
func NewAzureOpenAI(cfg providers.AzureOpenAIConfig, logger *zap.Logger) (*OpenAIGenerator, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure image: endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure image: deployment is required")
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		name:   "azure-openai",
		model:  cfg.Deployment,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
		buildURL: func(op string) string {
			if op != "generations" {
				return ""
			}
			return fmt.Sprintf("%s/openai/deployments/%s/images/generations?api-version=%s",
				endpoint, cfg.Deployment, apiVersion)
		},
		buildHeaders: func(r *http.Request) {
			r.Header.Set("api-key", cfg.APIKey)
		},
	}, nil
}

// Name returns the provider identifier.
func (g *OpenAIGenerator) Name() string { return g.name }

// SupportedSizes lists the sizes the default model accepts.
func (g *OpenAIGenerator) SupportedSizes() []string {
	switch g.model {
	case "dall-e-2":
		return []string{"256x256", "512x512", "1024x1024"}
	default:
		return []string{"1024x1024", "1792x1024", "1024x1792"}
	}
}

// Generate creates images from a text prompt.
func (g *OpenAIGenerator) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, &llm.Error{
			Code: llm.ErrInvalidRequest, Message: "prompt is required", Provider: g.name,
		}
	}
	model := req.Model
	if model == "" {
		model = g.model
	}
	body := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
	}
	if req.N > 0 {
		body["n"] = req.N
	}
	if req.Size != "" {
		body["size"] = req.Size
	}
	if req.Quality != "" {
		body["quality"] = req.Quality
	}
	if req.Style != "" {
		body["style"] = req.Style
	}
	if req.ResponseFormat != "" {
		body["response_format"] = req.ResponseFormat
	}
	if req.User != "" {
		body["user"] = req.User
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.buildURL("generations"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	g.buildHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	return g.do(httpReq)
}

// Edit edits an image per the prompt via the multipart edits endpoint.
func (g *OpenAIGenerator) Edit(ctx context.Context, req *EditRequest) (*Response, error) {
	url := g.buildURL("edits")
	if url == "" {
		return nil, g.unsupported("edits")
	}
	if req.Image == nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "image is required", Provider: g.name}
	}

	fields := map[string]string{"prompt": req.Prompt}
	addCommonFields(fields, req.Model, g.model, req.N, req.Size, req.ResponseFormat)
	files := []filePart{{field: "image", name: orDefault(req.ImageName, "image.png"), r: req.Image}}
	if req.Mask != nil {
		files = append(files, filePart{field: "mask", name: orDefault(req.MaskName, "mask.png"), r: req.Mask})
	}
	return g.multipart(ctx, url, fields, files)
}

// Vary generates variations of an image via the multipart variations
// endpoint.
func (g *OpenAIGenerator) Vary(ctx context.Context, req *VariationRequest) (*Response, error) {
	url := g.buildURL("variations")
	if url == "" {
		return nil, g.unsupported("variations")
	}
	if req.Image == nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "image is required", Provider: g.name}
	}

	fields := map[string]string{}
	addCommonFields(fields, req.Model, g.model, req.N, req.Size, req.ResponseFormat)
	files := []filePart{{field: "image", name: orDefault(req.ImageName, "image.png"), r: req.Image}}
	return g.multipart(ctx, url, fields, files)
}

type filePart struct {
	field string
	name  string
	r     io.Reader
}

func (g *OpenAIGenerator) multipart(ctx context.Context, url string, fields map[string]string, files []filePart) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file %s: %w", f.field, err)
		}
		if _, err := io.Copy(part, f.r); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", f.field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	g.buildHeaders(httpReq)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	return g.do(httpReq)
}

func (g *OpenAIGenerator) do(httpReq *http.Request) (*Response, error) {
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: g.name,
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, g.name)
	}

	var wire struct {
		Created int64   `json:"created"`
		Data    []Image `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: g.name,
		}
	}
	return &Response{Provider: g.name, Created: wire.Created, Images: wire.Data}, nil
}

func (g *OpenAIGenerator) unsupported(op string) error {
	return &llm.Error{
		Code:     llm.ErrInvalidRequest,
		Message:  fmt.Sprintf("%s does not support image %s", g.name, op),
		Provider: g.name,
	}
}

func addCommonFields(fields map[string]string, reqModel, defaultModel string, n int, size, format string) {
	model := reqModel
	if model == "" {
		model = defaultModel
	}
	fields["model"] = model
	if n > 0 {
		fields["n"] = strconv.Itoa(n)
	}
	if size != "" {
		fields["size"] = size
	}
	if format != "" {
		fields["response_format"] = format
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
