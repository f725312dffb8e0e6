package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aibridge/aibridge/llm/providers"
	"github.com/aibridge/aibridge/llm/providers/onnx"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	// onnxDefaultDimension matches MiniLM-class sentence encoders.
	onnxDefaultDimension = 384
	onnxDefaultMaxSeqLen = 256
)

// encoderSession runs one encoder pass and returns the token embeddings
// (seqLen x dimension, row major). Abstracted for tests.
type encoderSession interface {
	encode(inputIDs, attentionMask, tokenTypeIDs []int64) ([]float32, error)
	destroy()
}

// ONNXEmbedder runs a local BERT-style sentence encoder under ONNX Runtime
// and mean-pools the token embeddings into one normalized vector.
type ONNXEmbedder struct {
	cfg       providers.ONNXConfig
	dimension int
	tok       *onnx.Tokenizer
	session   encoderSession
	logger    *zap.Logger

	// mu serializes inference.
	mu          sync.Mutex
	initialized bool
}

// NewONNX validates the config and creates an uninitialized embedder. Call
// Initialize before use.
func NewONNX(cfg providers.ONNXConfig, dimension int, logger *zap.Logger) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx embedding: model path is required")
	}
	if cfg.VocabPath == "" {
		return nil, fmt.Errorf("onnx embedding: vocab path is required")
	}
	if dimension == 0 {
		dimension = onnxDefaultDimension
	}
	if cfg.MaxSequenceLength <= 0 {
		cfg.MaxSequenceLength = onnxDefaultMaxSeqLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ONNXEmbedder{cfg: cfg, dimension: dimension, logger: logger}, nil
}

// Initialize loads the model and vocabulary.
func (e *ONNXEmbedder) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	if _, err := os.Stat(e.cfg.ModelPath); err != nil {
		return fmt.Errorf("onnx embedding: model file not found: %s", e.cfg.ModelPath)
	}
	tok, err := onnx.NewTokenizer(e.cfg.VocabPath)
	if err != nil {
		return fmt.Errorf("onnx embedding: %w", err)
	}
	session, err := newEncoderSession(e.cfg, e.dimension)
	if err != nil {
		return err
	}

	e.tok = tok
	e.session = session
	e.initialized = true
	e.logger.Info("onnx embedding model loaded",
		zap.String("model", e.cfg.ModelPath),
		zap.Int("dimension", e.dimension))
	return nil
}

// Close releases the runtime session.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.destroy()
		e.session = nil
	}
	e.initialized = false
	return nil
}

// Name returns the provider identifier.
func (e *ONNXEmbedder) Name() string { return "onnx" }

// Dimensions returns the output vector size.
func (e *ONNXEmbedder) Dimensions() int { return e.dimension }

// MaxBatchSize is 1; the session runs one sequence per pass.
func (e *ONNXEmbedder) MaxBatchSize() int { return 1 }

// EmbedQuery embeds one text.
func (e *ONNXEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, fmt.Errorf("onnx embedding: model not loaded, call Initialize first")
	}
	return e.embedOne(ctx, text)
}

// Embed embeds texts sequentially.
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, fmt.Errorf("onnx embedding: model not loaded, call Initialize first")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *ONNXEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	ids := e.tok.Encode(text, e.cfg.MaxSequenceLength)
	seqLen := len(ids)
	mask := make([]int64, seqLen)
	types := make([]int64, seqLen)
	for i := range mask {
		mask[i] = 1
	}

	hidden, err := e.session.encode(ids, mask, types)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return Normalize(meanPool(hidden, mask, e.dimension)), nil
}

// meanPool averages token embeddings over the attended positions.
func meanPool(hidden []float32, attentionMask []int64, dimension int) []float32 {
	out := make([]float32, dimension)
	var weight float32
	for i := range attentionMask {
		if attentionMask[i] != 1 {
			continue
		}
		for j := 0; j < dimension; j++ {
			out[j] += hidden[i*dimension+j]
		}
		weight++
	}
	if weight > 0 {
		for j := range out {
			out[j] /= weight
		}
	}
	return out
}

// ortEncoderSession is the real ONNX Runtime session with the standard BERT
// encoder layout.
type ortEncoderSession struct {
	session   *ort.DynamicAdvancedSession
	dimension int
}

func newEncoderSession(cfg providers.ONNXConfig, dimension int) (*ortEncoderSession, error) {
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx embedding: failed to initialize runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx embedding: failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx embedding: failed to load model: %w", err)
	}
	return &ortEncoderSession{session: session, dimension: dimension}, nil
}

func (s *ortEncoderSession) encode(inputIDs, attentionMask, tokenTypeIDs []int64) ([]float32, error) {
	seqLen := int64(len(inputIDs))

	inputTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	maskTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), attentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, seqLen, int64(s.dimension)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = s.session.Run(
		[]ort.ArbitraryTensor{inputTensor, maskTensor, typeTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, err
	}

	data := outputTensor.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (s *ortEncoderSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}
