// Package providers contains the backend connectors and the wire-format
// plumbing they share: the OpenAI-compatible DTOs and converters, HTTP error
// mapping, and the per-vendor configuration structs.
//
// Each backend lives in its own subpackage (openai, azureopenai, ollama,
// onnx); the OpenAI-dialect backends embed the shared base in openaicompat
// and only override what differs.
package providers
