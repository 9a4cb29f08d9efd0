// Package llm defines the Provider interface for Large Language Model
// backends.
//
// A provider wraps a remote or local model API and exposes a uniform
// streaming interface for the conversation pipeline, including native
// function/tool calling. Implementors must be safe for concurrent use.
// Channels returned by StreamCompletion must be closed by the implementation
// when the stream ends or the supplied context is cancelled.
package llm

import "context"

// Message is a single entry in the model's conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// ToolCalls contains tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call
	// this message responds to.
	ToolCallID string
}

// ToolCall is a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema describing the tool's input.
	Parameters map[string]any
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before the conversation history. Providers
	// without a dedicated system field prepend it as a "system" message.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []Message

	// Tools is the set of tool definitions offered to the model.
	Tools []ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. Zero uses the
	// provider default.
	Temperature float64

	// MaxTokens caps generated tokens. Zero uses the provider default.
	MaxTokens int
}

// Chunk is one fragment of a streaming completion. A single chunk may carry
// text, a finish signal, tool calls, or any combination.
type Chunk struct {
	// Text is the incremental text content, possibly empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length",
	// "tool_calls", or "error". Empty on non-final chunks.
	FinishReason string

	// ToolCalls holds fully accumulated tool invocations. Providers emit
	// them only on the final chunk of a tool-calling turn.
	ToolCalls []ToolCall

	// Err carries a mid-stream failure; set only together with
	// FinishReason "error".
	Err error
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the reply. Empty when the model responds
	// exclusively with tool calls.
	Content string

	// ToolCalls holds any tool invocations the model requested.
	ToolCalls []ToolCall

	// Usage is the token accounting for this completion, when available.
	Usage Usage
}

// FinishReason values emitted on final chunks.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishError     = "error"
)

// Provider is the interface every LLM backend implements.
type Provider interface {
	// StreamCompletion starts a streaming completion. The returned channel
	// is closed when generation finishes or ctx is cancelled. Callers must
	// drain the channel.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete performs a blocking completion and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
