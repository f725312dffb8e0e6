// Package tokenizer provides local token counting. Backends that report
// usage on the wire do not need this; local backends and usage-less
// responses use it to fill estimated counts.
package tokenizer

import (
	"sync"

	"github.com/aibridge/aibridge/llm"
	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// perMessageOverhead approximates the chat framing tokens each message costs
// on OpenAI-style backends.
const perMessageOverhead = 4

// Estimator counts tokens with tiktoken, falling back to a bytes/4 heuristic
// for models with no known encoding. Encodings are cached per model.
type Estimator struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewEstimator creates an empty estimator.
func NewEstimator() *Estimator {
	return &Estimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// CountText returns the token count of text under the given model's encoding.
func (e *Estimator) CountText(model, text string) int {
	if text == "" {
		return 0
	}
	enc := e.encodingFor(model)
	if enc == nil {
		// Rough heuristic used across the industry for unknown vocabularies.
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages returns the estimated prompt token count of a conversation,
// including per-message framing overhead.
func (e *Estimator) CountMessages(model string, msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += e.CountText(model, m.Content)
		total += e.CountText(model, m.Name)
		for _, tc := range m.ToolCalls {
			total += e.CountText(model, tc.Name)
			total += e.CountText(model, string(tc.Arguments))
		}
	}
	return total
}

// EstimateUsage builds a ChatUsage for a prompt/completion pair, flagged as
// estimated.
func (e *Estimator) EstimateUsage(model string, msgs []llm.Message, completion string) llm.ChatUsage {
	prompt := e.CountMessages(model, msgs)
	out := e.CountText(model, completion)
	return llm.ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}

func (e *Estimator) encodingFor(model string) *tiktoken.Tiktoken {
	e.mu.RLock()
	enc, ok := e.encodings[model]
	e.mu.RUnlock()
	if ok {
		return enc
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encodings[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			enc = nil
		}
	}
	e.encodings[model] = enc
	return enc
}
