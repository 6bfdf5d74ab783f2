// Package llm defines the Provider interface for the chat model that produces
// the tutor's replies and the session summaries.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, Gemini, a
// local Ollama instance, ...) behind a uniform completion interface so the
// conversation driver never couples to a specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of a conversation history.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// usually from the learner and drives the response.
	Messages []Message

	// SystemPrompt is injected before the history. Providers without a
	// dedicated system field prepend it as a [RoleSystem] message.
	SystemPrompt string

	// Temperature in [0.0, 2.0]. Zero means provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default. Conversational turns always set it to keep replies short.
	MaxTokens int
}

// Chunk is a fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or "error"
	// when the stream failed after it started (Text then holds the error).
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities describes static limits of the configured model.
type ModelCapabilities struct {
	ContextWindow     int
	MaxOutputTokens   int
	SupportsStreaming bool
}

// Provider is the abstraction over any chat model backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that
	// emits Chunk values as they arrive. The channel is closed when
	// generation finishes or ctx is cancelled; callers must drain it.
	//
	// The initial error is non-nil only for failures that prevent the stream
	// from starting. The returned channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

// CollectStream drains ch and concatenates its text. A chunk with
// FinishReason "error" turns into a returned error.
func CollectStream(ch <-chan Chunk) (string, error) {
	var (
		text   []byte
		failed string
	)
	for c := range ch {
		if c.FinishReason == "error" {
			failed = c.Text
			continue
		}
		text = append(text, c.Text...)
	}
	if failed != "" {
		return string(text), &StreamError{Message: failed}
	}
	return string(text), nil
}

// StreamError reports a failure that happened after a stream had started.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llm: stream: " + e.Message }
