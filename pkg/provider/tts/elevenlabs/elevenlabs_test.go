package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// ---- Synthesize ----

func TestSynthesize_RequestShape(t *testing.T) {
	var (
		gotPath   string
		gotMethod string
		gotKey    string
		gotBody   synthesisRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there", VoiceID: "voice-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method: got %q, want POST", gotMethod)
	}
	if gotPath != "/v1/text-to-speech/voice-1" {
		t.Errorf("path: got %q, want /v1/text-to-speech/voice-1", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("xi-api-key: got %q, want %q", gotKey, "secret")
	}
	if gotBody.Text != "Hello there" {
		t.Errorf("text: got %q", gotBody.Text)
	}
	if gotBody.ModelID != "eleven_multilingual_v2" {
		t.Errorf("model_id: got %q", gotBody.ModelID)
	}
	if gotBody.VoiceSettings.Stability != 0.5 || gotBody.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("voice_settings: got %+v", gotBody.VoiceSettings)
	}
	if string(speech.Audio) != "ID3-fake-mp3" {
		t.Errorf("audio: got %q", speech.Audio)
	}
	if speech.ContentType != "audio/mpeg" {
		t.Errorf("content type: got %q", speech.ContentType)
	}
}

func TestSynthesize_WireFieldNames(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &raw)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", VoiceID: "v"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for _, key := range []string{"text", "model_id", "voice_settings"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("request body missing %q", key)
		}
	}
	var vs map[string]float64
	if err := json.Unmarshal(raw["voice_settings"], &vs); err != nil {
		t.Fatalf("voice_settings: %v", err)
	}
	if _, ok := vs["similarity_boost"]; !ok {
		t.Error("voice_settings missing similarity_boost")
	}
}

func TestSynthesize_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", VoiceID: "v"})
	if err == nil {
		t.Fatal("expected error")
	}
	var se *tts.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *tts.StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", se.StatusCode, http.StatusUnauthorized)
	}
	if !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Error("expected errors.Is(err, tts.ErrSynthesisFailed)")
	}
	if !strings.Contains(se.Body, "invalid api key") {
		t.Errorf("body: got %q", se.Body)
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p, _ := New("k", WithBaseURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Synthesize(ctx, tts.Request{Text: "hi", VoiceID: "v"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSynthesize_Validation(t *testing.T) {
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for empty voice ID")
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "  ", VoiceID: "v"}); err == nil {
		t.Error("expected error for blank text")
	}
}

func TestSynthesisURL_OutputFormat(t *testing.T) {
	p, _ := New("k", WithBaseURL("https://example.test/"), WithOutputFormat("mp3_44100_128"))
	got := p.synthesisURL("a b")
	want := "https://example.test/v1/text-to-speech/a%20b?output_format=mp3_44100_128"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"abc","name":"Rachel","description":"calm"}]}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "abc" || voices[0].Description != "calm" {
		t.Errorf("unexpected voices: %+v", voices)
	}
}

func TestParseVoicesResponse_Success(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Rachel",
				"category": "premade",
				"labels": {"gender": "female", "accent": "american"}
			},
			{
				"voice_id": "def456",
				"name": "Adam",
				"category": "premade",
				"labels": {"gender": "male"}
			}
		]
	}`)

	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	rachel := profiles[0]
	if rachel.ID != "abc123" {
		t.Errorf("expected ID 'abc123', got %q", rachel.ID)
	}
	if rachel.Provider != "elevenlabs" {
		t.Errorf("expected Provider 'elevenlabs', got %q", rachel.Provider)
	}
	if rachel.Metadata["gender"] != "female" {
		t.Errorf("expected gender 'female', got %q", rachel.Metadata["gender"])
	}
	if rachel.Metadata["category"] != "premade" {
		t.Errorf("expected category 'premade', got %q", rachel.Metadata["category"])
	}
}

func TestParseVoicesResponse_NoLabels(t *testing.T) {
	raw := []byte(`{"voices": [{"voice_id": "x1", "name": "Ghost", "category": "", "labels": null}]}`)
	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	if _, ok := profiles[0].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	if _, err := parseVoicesResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_turbo_v2"), WithVoiceSettings(0.3, 0.9))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_turbo_v2" {
		t.Errorf("expected model 'eleven_turbo_v2', got %q", p.model)
	}
	if p.settings.Stability != 0.3 || p.settings.SimilarityBoost != 0.9 {
		t.Errorf("unexpected settings %+v", p.settings)
	}
}
