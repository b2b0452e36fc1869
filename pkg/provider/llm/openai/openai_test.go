package openai

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/luna/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "You are helpful."})
	if err != nil || sys.OfSystem == nil {
		t.Errorf("system: OfSystem not set (err=%v)", err)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "Hello!"})
	if err != nil || usr.OfUser == nil {
		t.Errorf("user: OfUser not set (err=%v)", err)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"})
	if err != nil || asst.OfAssistant == nil {
		t.Errorf("assistant: OfAssistant not set (err=%v)", err)
	}
	if _, err := convertMessage(llm.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_MissingModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "gpt-4o-mini",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
		WithMaxRetries(0),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}

type wireRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role string `json:"role"`
	} `json:"messages"`
}

func TestComplete(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  Hi, I'm Luna!  "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(t.Context(), llm.CompletionRequest{
		SystemPrompt: "You are Luna.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hi, I'm Luna!" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("total tokens = %d, want 17", resp.Usage.TotalTokens)
	}

	if got.Model != "gpt-4o-mini" {
		t.Errorf("wire model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("wire messages = %+v, want [system user]", got.Messages)
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":""}}]}`)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "m", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	_, err := p.Complete(t.Context(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	if !errors.Is(err, llm.ErrEmptyReply) {
		t.Fatalf("err = %v, want ErrEmptyReply", err)
	}
}

func TestComplete_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, _ := New("sk-bad", "m", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if _, err := p.Complete(t.Context(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	}); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestComplete_NoMessages(t *testing.T) {
	p, _ := New("sk-test", "m")
	if _, err := p.Complete(t.Context(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}
