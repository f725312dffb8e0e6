// Package embedding provides text embedding across backends behind one
// interface. Remote backends batch over HTTP; the local backend runs a BERT
// style encoder under ONNX Runtime with mean pooling.
package embedding

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

// Provider is the uniform embedding interface.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier.
	Name() string

	// Dimensions returns the output vector size, 0 if unknown before the
	// first call.
	Dimensions() int

	// MaxBatchSize returns the largest batch one request may carry.
	MaxBatchSize() int
}

// batchEmbed splits texts into provider-sized batches and embeds them
// concurrently, preserving input order. Shared by the HTTP backends.
func batchEmbed(ctx context.Context, texts []string, batchSize, concurrency int, embedBatch func(ctx context.Context, batch []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			vecs, err := embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize applies L2 normalization in place and returns the vector.
func Normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// CosineSimilarity computes the cosine similarity of two vectors, 0 when the
// lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
