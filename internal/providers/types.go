// Package providers implements the Tool Loop's OpenAI-compatible provider
// adapter, per spec §4.10. Narrowed from the teacher's multi-vendor
// providers package (internal/providers/types.go's Provider interface) to
// the single OpenAI-compatible family the closed spec names; the
// anthropic/dashscope/gemini-specific adapters are not carried over.
package providers

import "context"

// Provider is the interface the Tool Loop calls against. Only one
// implementation exists (OpenAIProvider) since every backend msgcode talks
// to is OpenAI-compatible by contract (spec §6: "Provider (HTTP). OpenAI-
// compatible /chat/completions").
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
	DefaultModel() string
	Name() string
}

// ChatRequest is the Tool Loop's provider-agnostic request shape.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the parsed provider reply.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length"
	Usage        *Usage
}

// StreamChunk is one piece of a streamed response.
type StreamChunk struct {
	Content string
	Done    bool
}

// Message is one entry in the conversation sent to the provider.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set on role="tool" responses
}

// ToolCall is one tool invocation requested by the model, after
// normalizeToolCalls (spec §4.10).
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolDefinition describes one callable tool, exposed to the provider only
// when `pi.enabled` (spec §4.7, §4.10).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage tracks token consumption for observability.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
