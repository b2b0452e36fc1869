package turn

import (
	"context"
	"fmt"

	"github.com/MrWong99/luna/internal/conversation"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/pkg/provider/llm"
)

// DefaultSystemPrompt frames the model as the voice assistant.
const DefaultSystemPrompt = "You are Luna, a friendly voice assistant. " +
	"Answer in one to three short, conversational sentences. " +
	"Your replies are read aloud, so avoid markdown, lists and code."

// LLMOption configures an [LLM] responder.
type LLMOption func(*LLM)

// WithSystemPrompt overrides [DefaultSystemPrompt].
func WithSystemPrompt(p string) LLMOption {
	return func(l *LLM) {
		if p != "" {
			l.systemPrompt = p
		}
	}
}

// WithSampling sets temperature and the completion token cap.
func WithSampling(temperature float64, maxTokens int) LLMOption {
	return func(l *LLM) {
		l.temperature = temperature
		l.maxTokens = maxTokens
	}
}

// WithHistoryBudget caps the estimated prompt size in tokens; the oldest
// messages are dropped first. Zero disables trimming.
func WithHistoryBudget(tokens int) LLMOption {
	return func(l *LLM) { l.historyBudget = tokens }
}

// WithLLMMetrics records provider request counters under name.
func WithLLMMetrics(m *observe.Metrics, name string) LLMOption {
	return func(l *LLM) {
		l.metrics = m
		l.name = name
	}
}

// LLM asks a language model for the reply.
type LLM struct {
	provider      llm.Provider
	systemPrompt  string
	temperature   float64
	maxTokens     int
	historyBudget int
	metrics       *observe.Metrics
	name          string
}

var _ Responder = (*LLM)(nil)

// NewLLM returns a responder backed by p.
func NewLLM(p llm.Provider, opts ...LLMOption) *LLM {
	l := &LLM{
		provider:      p,
		systemPrompt:  DefaultSystemPrompt,
		maxTokens:     256,
		historyBudget: 4000,
		name:          "llm",
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Respond implements [Responder].
func (l *LLM) Respond(ctx context.Context, input string, history []conversation.Message) (string, error) {
	req := l.buildRequest(input, history)
	resp, err := l.provider.Complete(ctx, req)
	if l.metrics != nil && ctx.Err() == nil {
		l.metrics.RecordProviderRequest(ctx, l.name, "llm", err)
	}
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("llm: %w", llm.ErrEmptyReply)
	}
	return resp.Content, nil
}

func (l *LLM) buildRequest(input string, history []conversation.Message) llm.CompletionRequest {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input})

	return llm.CompletionRequest{
		Messages:     llm.TrimToBudget(msgs, l.historyBudget),
		SystemPrompt: l.systemPrompt,
		Temperature:  l.temperature,
		MaxTokens:    l.maxTokens,
	}
}
