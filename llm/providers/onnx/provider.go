// Package onnx implements a local text generation connector backed by ONNX
// Runtime. It loads a causal language model from disk and decodes greedily:
// run the model, take the argmax of the last position's logits, append, and
// repeat until EOS or the token budget runs out.
package onnx

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"github.com/google/uuid"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	defaultMaxSequenceLength = 512
	defaultMaxNewTokens      = 128
)

// logitsRunner runs one forward pass and returns the logits for the last
// sequence position. Abstracted so the decode loop is testable without the
// ONNX Runtime shared library.
type logitsRunner interface {
	run(inputIDs []int64) ([]float32, error)
	destroy()
}

// Provider is the local ONNX text generation connector.
type Provider struct {
	cfg    providers.ONNXConfig
	tok    *Tokenizer
	runner logitsRunner
	logger *zap.Logger

	// mu serializes inference; a session is not safe for concurrent Run.
	mu          sync.Mutex
	initialized bool
}

// New validates the config and creates an uninitialized connector. Call
// Initialize before use; model loading is expensive and callers control when
// it happens.
func New(cfg providers.ONNXConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required")
	}
	if cfg.VocabPath == "" {
		return nil, fmt.Errorf("onnx: vocab path is required")
	}
	if cfg.MaxSequenceLength <= 0 {
		cfg.MaxSequenceLength = defaultMaxSequenceLength
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = defaultMaxNewTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}, nil
}

// Initialize loads the model and vocabulary and prepares the runtime.
func (p *Provider) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	if _, err := os.Stat(p.cfg.ModelPath); err != nil {
		return fmt.Errorf("onnx: model file not found: %s", p.cfg.ModelPath)
	}

	tok, err := NewTokenizer(p.cfg.VocabPath)
	if err != nil {
		return fmt.Errorf("onnx: %w", err)
	}

	runner, err := newOrtRunner(p.cfg, tok.VocabSize())
	if err != nil {
		return err
	}

	p.tok = tok
	p.runner = runner
	p.initialized = true
	p.logger.Info("onnx model loaded",
		zap.String("model", p.cfg.ModelPath),
		zap.Int("vocab_size", tok.VocabSize()))
	return nil
}

// Close releases the runtime session.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runner != nil {
		p.runner.destroy()
		p.runner = nil
	}
	p.initialized = false
	return nil
}

// Name returns the connector name.
func (p *Provider) Name() string { return "onnx" }

// SupportsNativeFunctionCalling is false; local models have no tool protocol.
func (p *Provider) SupportsNativeFunctionCalling() bool { return false }

// HealthCheck reports whether the model is loaded.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	p.mu.Lock()
	ok := p.initialized
	p.mu.Unlock()
	if !ok {
		return &llm.HealthStatus{Healthy: false, Message: "model not loaded"},
			fmt.Errorf("onnx: model not loaded")
	}
	return &llm.HealthStatus{Healthy: true}, nil
}

// Generate runs the greedy decode loop to completion.
func (p *Provider) Generate(ctx context.Context, req *llm.TextRequest) (*llm.TextResponse, error) {
	text, finish, usage, err := p.decode(ctx, buildPrompt(req.System, req.Prompt), req.MaxTokens, nil)
	if err != nil {
		return nil, err
	}
	return &llm.TextResponse{
		ID:           "onnx-" + uuid.NewString(),
		Provider:     p.Name(),
		Model:        p.cfg.ModelPath,
		Text:         text,
		FinishReason: finish,
		Usage:        usage,
		CreatedAt:    time.Now(),
	}, nil
}

// GenerateStream runs the decode loop, emitting one chunk per token.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.TextRequest) (<-chan llm.TextChunk, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, p.notLoaded()
	}
	p.mu.Unlock()

	id := "onnx-" + uuid.NewString()
	ch := make(chan llm.TextChunk)
	go func() {
		defer close(ch)
		emit := func(token string) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- llm.TextChunk{ID: id, Provider: p.Name(), Text: token}:
				return true
			}
		}
		_, finish, usage, err := p.decode(ctx, buildPrompt(req.System, req.Prompt), req.MaxTokens, emit)
		if err != nil {
			var typed *llm.Error
			if e, ok := err.(*llm.Error); ok {
				typed = e
			} else {
				typed = &llm.Error{Code: llm.ErrInternalError, Message: err.Error(), Provider: p.Name()}
			}
			select {
			case <-ctx.Done():
			case ch <- llm.TextChunk{ID: id, Provider: p.Name(), Err: typed}:
			}
			return
		}
		select {
		case <-ctx.Done():
		case ch <- llm.TextChunk{ID: id, Provider: p.Name(), FinishReason: finish, Usage: &usage}:
		}
	}()
	return ch, nil
}

// Completion adapts a conversation into a flat prompt. Local models here have
// no chat template awareness; the transcript is rendered role-prefixed.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if len(req.Tools) > 0 {
		return nil, &llm.Error{
			Code:     llm.ErrToolValidation,
			Message:  "onnx backend does not support tools",
			Provider: p.Name(),
		}
	}
	text, finish, usage, err := p.decode(ctx, renderTranscript(req.Messages), req.MaxTokens, nil)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		ID:        "onnx-" + uuid.NewString(),
		Provider:  p.Name(),
		Model:     p.cfg.ModelPath,
		CreatedAt: time.Now(),
		Usage:     usage,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
	}, nil
}

// Stream adapts a conversation into a streaming decode.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if len(req.Tools) > 0 {
		return nil, &llm.Error{
			Code:     llm.ErrToolValidation,
			Message:  "onnx backend does not support tools",
			Provider: p.Name(),
		}
	}
	textCh, err := p.GenerateStream(ctx, &llm.TextRequest{
		Prompt:    renderTranscript(req.Messages),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for tc := range textCh {
			chunk := llm.StreamChunk{
				ID:           tc.ID,
				Provider:     tc.Provider,
				Delta:        llm.Message{Role: llm.RoleAssistant, Content: tc.Text},
				FinishReason: tc.FinishReason,
				Usage:        tc.Usage,
				Err:          tc.Err,
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}

// decode runs the greedy generation loop. emit, when non-nil, receives each
// decoded token; returning false from emit aborts the loop.
func (p *Provider) decode(ctx context.Context, prompt string, maxTokens int, emit func(string) bool) (string, string, llm.ChatUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return "", "", llm.ChatUsage{}, p.notLoaded()
	}

	budget := maxTokens
	if budget <= 0 || budget > p.cfg.MaxNewTokens {
		budget = p.cfg.MaxNewTokens
	}

	ids := p.tok.Encode(prompt, p.cfg.MaxSequenceLength)
	// Drop the trailing [SEP]; generation continues the sequence.
	if len(ids) > 1 {
		ids = ids[:len(ids)-1]
	}
	promptLen := len(ids)

	var generated []int64
	finish := "length"
	for i := 0; i < budget; i++ {
		if err := ctx.Err(); err != nil {
			return "", "", llm.ChatUsage{}, err
		}
		if len(ids) >= p.cfg.MaxSequenceLength {
			break
		}

		logits, err := p.runner.run(ids)
		if err != nil {
			return "", "", llm.ChatUsage{}, &llm.Error{
				Code: llm.ErrInternalError, Message: err.Error(), Provider: p.Name(),
			}
		}
		next := argmax(logits)
		if p.cfg.EOSTokenID >= 0 && next == p.cfg.EOSTokenID {
			finish = "stop"
			break
		}

		ids = append(ids, next)
		generated = append(generated, next)
		if emit != nil {
			if !emit(p.tok.DecodeToken(next, len(generated) == 1)) {
				break
			}
		}
	}

	usage := llm.ChatUsage{
		PromptTokens:     promptLen,
		CompletionTokens: len(generated),
		TotalTokens:      promptLen + len(generated),
	}
	return p.tok.Decode(generated), finish, usage, nil
}

func (p *Provider) notLoaded() error {
	return &llm.Error{
		Code:     llm.ErrProviderUnavailable,
		Message:  "onnx model not loaded, call Initialize first",
		Provider: p.Name(),
	}
}

// argmax returns the index of the largest logit.
func argmax(logits []float32) int64 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int64(best)
}

func buildPrompt(system, prompt string) string {
	if system == "" {
		return prompt
	}
	return system + "\n\n" + prompt
}

func renderTranscript(msgs []llm.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("assistant:")
	return sb.String()
}

// ortRunner is the real ONNX Runtime session. Input layout follows the
// standard causal LM export: input_ids and attention_mask in, logits out.
type ortRunner struct {
	session   *ort.DynamicAdvancedSession
	vocabSize int
}

func newOrtRunner(cfg providers.ONNXConfig, vocabSize int) (*ortRunner, error) {
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to load model: %w", err)
	}
	return &ortRunner{session: session, vocabSize: vocabSize}, nil
}

func (r *ortRunner) run(inputIDs []int64) ([]float32, error) {
	seqLen := int64(len(inputIDs))
	mask := make([]int64, seqLen)
	for i := range mask {
		mask[i] = 1
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	maskTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, int64(r.vocabSize)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = r.session.Run(
		[]ort.ArbitraryTensor{inputTensor, maskTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// Logits for the last position only.
	data := outputTensor.GetData()
	last := data[(seqLen-1)*int64(r.vocabSize):]
	out := make([]float32, r.vocabSize)
	copy(out, last)
	return out, nil
}

func (r *ortRunner) destroy() {
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
}
