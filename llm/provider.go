package llm

import (
	"context"
	"time"

	"github.com/aibridge/aibridge/types"
)

// Core conversation types are defined once in the types package and aliased
// here so connector code can stay within the llm namespace.
type (
	Role     = types.Role
	Message  = types.Message
	ToolCall = types.ToolCall
	Error    = types.Error
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// Message constructors re-exported for convenience.
var (
	NewSystemMessage    = types.NewSystemMessage
	NewUserMessage      = types.NewUserMessage
	NewAssistantMessage = types.NewAssistantMessage
	NewToolMessage      = types.NewToolMessage
)

// Unified error codes, aligned with HTTP status and retryability.
const (
	ErrInvalidRequest      = types.ErrInvalidRequest
	ErrUnauthorized        = types.ErrUnauthorized
	ErrForbidden           = types.ErrForbidden
	ErrRateLimited         = types.ErrRateLimited
	ErrQuotaExceeded       = types.ErrQuotaExceeded
	ErrContentFiltered     = types.ErrContentFiltered
	ErrToolValidation      = types.ErrToolValidation
	ErrModelOverloaded     = types.ErrModelOverloaded
	ErrUpstreamTimeout     = types.ErrUpstreamTimeout
	ErrUpstreamError       = types.ErrUpstreamError
	ErrProviderUnavailable = types.ErrProviderUnavailable
	ErrInternalError       = types.ErrInternalError
)

// ToolSchema describes a tool the model may call.
type ToolSchema struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Parameters  *types.JSONSchema `json:"parameters"`
}

// ToolChoice values accepted by ChatRequest.ToolChoice. Any other value is
// treated as the name of a required tool.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// ChatRequest is the backend-neutral chat completion request. Providers
// translate it into their own wire format.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Tools       []ToolSchema      `json:"tools,omitempty"`
	ToolChoice  string            `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Seed        *int64            `json:"seed,omitempty"`
	User        string            `json:"user,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChatUsage reports token consumption for a request.
type ChatUsage struct {
	PromptTokens     int  `json:"prompt_tokens,omitempty"`
	CompletionTokens int  `json:"completion_tokens,omitempty"`
	TotalTokens      int  `json:"total_tokens,omitempty"`
	Estimated        bool `json:"estimated,omitempty"` // true when filled by the local tokenizer
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

// ChatResponse is the backend-neutral chat completion response.
type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// StreamChunk is one increment of a streaming chat completion. A terminal
// error is delivered in-band via Err before the channel closes.
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Index        int        `json:"index,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"` // final chunk may carry usage
	Err          *Error     `json:"error,omitempty"`
}

// Model describes a model advertised by a backend.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// HealthStatus reports the result of a provider health probe.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// Provider is the uniform chat completion interface every backend connector
// implements. Tool calls arrive via ChatRequest.Tools; the model's proposed
// invocations come back as ToolCalls on the response message, and execution
// belongs to the invoke/tools packages.
type Provider interface {
	// Completion performs a synchronous chat request and returns the full response.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream performs a streaming chat request. The returned channel is
	// closed when the stream ends; a mid-stream failure is delivered as a
	// chunk with Err set.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthCheck performs a lightweight reachability probe.
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name returns the unique provider identifier.
	Name() string

	// SupportsNativeFunctionCalling reports whether the backend handles
	// tools natively. When false and ChatRequest.Tools is non-empty, callers
	// should reject the request or strip the tools.
	SupportsNativeFunctionCalling() bool
}

// TextRequest is the backend-neutral text generation request.
type TextRequest struct {
	Model       string            `json:"model"`
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TextResponse is the backend-neutral text generation response.
type TextResponse struct {
	ID           string    `json:"id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model"`
	Text         string    `json:"text"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        ChatUsage `json:"usage,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// TextChunk is one increment of a streaming text generation.
type TextChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	Err          *Error     `json:"error,omitempty"`
}

// TextProvider is the uniform text generation interface. Backends with a
// native prompt endpoint (Ollama, ONNX) implement it directly; chat-only
// backends adapt the prompt into a single-turn conversation.
type TextProvider interface {
	Generate(ctx context.Context, req *TextRequest) (*TextResponse, error)
	GenerateStream(ctx context.Context, req *TextRequest) (<-chan TextChunk, error)
	Name() string
}
