// Package llm defines the uniform service surface for chat completion and
// text generation across model-serving backends, plus the supporting pieces
// every connector shares: the service registry, the middleware chain, and
// the multi-level response cache.
//
// Backend connectors live under llm/providers; embeddings, image generation
// and speech have their own modality packages next to this one.
package llm
