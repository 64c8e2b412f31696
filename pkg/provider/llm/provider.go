// Package llm defines the Provider interface for large language model
// backends.
//
// A provider wraps a model API (OpenAI, Anthropic, Gemini, a local Ollama,
// ...) behind a uniform interface so the coach generator can request replies,
// count tokens and inspect model limits without depending on any SDK.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/cadence/pkg/types"
)

// FinishReasonError marks the last Chunk of a stream that failed midway. Its
// Text carries the error message.
const FinishReasonError = "error"

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation; the last one is normally the
	// user's utterance.
	Messages []types.Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int

	// SystemPrompt is sent ahead of Messages with system priority.
	SystemPrompt string
}

// Chunk is one fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental reply text.
	Text string

	// FinishReason is set on the final chunk: "stop", "length",
	// [FinishReasonError], or "" for non-final chunks.
	FinishReason string
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel of reply fragments.
	// Errors after the stream started arrive as a final Chunk with
	// [FinishReasonError]. The initial error is non-nil only when the stream
	// could not be started. The channel is never nil when err is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context tokens messages would consume.
	// The estimate may be approximate but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities reports static limits of the configured model.
	Capabilities() ModelCapabilities
}
