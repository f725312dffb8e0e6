package speech

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

const (
	defaultSTTModel = "whisper-1"
	defaultTTSModel = "tts-1"
	defaultVoice    = "alloy"
)

// OpenAISpeech implements Transcriber and Synthesizer against the OpenAI
// audio endpoints.
type OpenAISpeech struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAI creates the OpenAI audio client.
func NewOpenAI(cfg providers.OpenAIConfig, logger *zap.Logger) *OpenAISpeech {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAISpeech{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger,
	}
}

// Name returns the provider identifier.
func (s *OpenAISpeech) Name() string { return "openai" }

// Transcribe converts audio to text in the source language.
func (s *OpenAISpeech) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	return s.audioToText(ctx, "/v1/audio/transcriptions", req, true)
}

// Translate converts audio to English text.
func (s *OpenAISpeech) Translate(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	// The translations endpoint has no language parameter; output is English.
	return s.audioToText(ctx, "/v1/audio/translations", req, false)
}

func (s *OpenAISpeech) audioToText(ctx context.Context, path string, req *TranscribeRequest, withLanguage bool) (*TranscribeResponse, error) {
	if req.Audio == nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "audio is required", Provider: s.Name()}
	}
	model := req.Model
	if model == "" {
		model = defaultSTTModel
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}
	_ = mw.WriteField("model", model)
	if withLanguage && req.Language != "" {
		_ = mw.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = mw.WriteField("prompt", req.Prompt)
	}
	if req.Temperature > 0 {
		_ = mw.WriteField("temperature", strconv.FormatFloat(float64(req.Temperature), 'f', -1, 32))
	}
	if req.ResponseFormat != "" {
		_ = mw.WriteField("response_format", req.ResponseFormat)
	}
	for _, g := range req.TimestampGranularities {
		_ = mw.WriteField("timestamp_granularities[]", g)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: s.Name(),
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, s.Name())
	}

	// Plain-text formats return the transcript raw.
	if req.ResponseFormat == FormatText || req.ResponseFormat == FormatSRT || req.ResponseFormat == FormatVTT {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return &TranscribeResponse{Provider: s.Name(), Text: string(data)}, nil
	}

	var wire struct {
		Text     string    `json:"text"`
		Language string    `json:"language,omitempty"`
		Duration float64   `json:"duration,omitempty"`
		Segments []Segment `json:"segments,omitempty"`
		Words    []Word    `json:"words,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: s.Name(),
		}
	}
	return &TranscribeResponse{
		Provider: s.Name(),
		Text:     wire.Text,
		Language: wire.Language,
		Duration: wire.Duration,
		Segments: wire.Segments,
		Words:    wire.Words,
	}, nil
}

// Synthesize converts text to audio via /v1/audio/speech. The caller must
// close the returned reader.
func (s *OpenAISpeech) Synthesize(ctx context.Context, req *SpeechRequest) (io.ReadCloser, error) {
	if req.Input == "" {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "input is required", Provider: s.Name()}
	}
	model := req.Model
	if model == "" {
		model = defaultTTSModel
	}
	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}
	body := map[string]any{
		"model": model,
		"input": req.Input,
		"voice": voice,
	}
	if req.Format != "" {
		body["response_format"] = req.Format
	}
	if req.Speed > 0 {
		body["speed"] = req.Speed
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: s.Name(),
		}
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, s.Name())
	}
	return resp.Body, nil
}
