package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/luna/pkg/provider/llm"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		role    llm.Role
		content string
	}{
		{llm.RoleSystem, "You are helpful."},
		{llm.RoleUser, "Hello!"},
		{llm.RoleAssistant, "Hi there!"},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			got := convertMessage(llm.Message{Role: tt.role, Content: tt.content})
			if got.Role != string(tt.role) {
				t.Errorf("role = %q, want %q", got.Role, tt.role)
			}
			if got.ContentString() != tt.content {
				t.Errorf("content = %q, want %q", got.ContentString(), tt.content)
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Luna.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "hello"},
			{Role: llm.RoleUser, Content: "how are you?"},
		},
	})

	if params.Model != "llama3" {
		t.Errorf("model = %q, want llama3", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[0].ContentString() != "You are Luna." {
		t.Errorf("system content = %q", params.Messages[0].ContentString())
	}
	if params.Messages[3].ContentString() != "how are you?" {
		t.Errorf("last content = %q", params.Messages[3].ContentString())
	}
	if params.Temperature != nil {
		t.Error("temperature should be nil when unset")
	}
	if params.MaxTokens != nil {
		t.Error("max tokens should be nil when unset")
	}
}

func TestBuildParams_Sampling(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   256,
	})
	if len(params.Messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1 (no system prompt)", len(params.Messages))
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v, want 256", params.MaxTokens)
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	p, err := New("OpenAI", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", p.Model())
	}
	if p.Name() != "openai" {
		t.Errorf("name = %q, want openai", p.Name())
	}
}

// Relies on OPENAI_API_KEY being cleared for the test.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"NewOpenAI", func() (*Provider, error) { return NewOpenAI("gpt-4o-mini", anyllmlib.WithAPIKey("sk-test")) }},
		{"NewAnthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3") }},
		{"NewLlamaCpp", func() (*Provider, error) { return NewLlamaCpp("llama3") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p == nil {
				t.Fatal("expected non-nil provider")
			}
		})
	}
}

func TestComplete_NoMessages(t *testing.T) {
	p, err := NewOllama("llama3")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if _, err := p.Complete(t.Context(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}
