// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a single whole-reply completion call. The
// turn engine uses it to generate the assistant's next message from the
// conversation history.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when the backend answered without any text.
var ErrEmptyReply = errors.New("llm: empty reply")

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the prompt history.
type Message struct {
	Role    Role
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// normally from the user and drives the response.
	Messages []Message

	// SystemPrompt is injected before the history. Providers without a
	// dedicated system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls output randomness. Zero keeps the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero keeps the provider default.
	MaxTokens int
}

// CompletionResponse is the complete reply of a non-streaming call.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and blocks until the whole reply is available or ctx
	// is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// EstimateTokens returns a rough token count for msgs using the ~4 characters
// per token heuristic plus a small per-message overhead.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// TrimToBudget drops the oldest messages until the estimate fits in budget.
// The last message is always kept. A budget <= 0 disables trimming.
func TrimToBudget(msgs []Message, budget int) []Message {
	if budget <= 0 {
		return msgs
	}
	for len(msgs) > 1 && EstimateTokens(msgs) > budget {
		msgs = msgs[1:]
	}
	return msgs
}
