// Package coqui provides a TTS provider backed by a locally running Coqui TTS
// server. It implements the tts.Provider interface and is typically configured
// as an offline fallback behind a hosted provider.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters; the voice catalogue is retrieved from GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body; the voice catalogue is retrieved
//     from GET /studio_speakers.
//
// Both servers answer with a WAV file, which is returned unchanged with content
// type "audio/wav".
//
// Voice IDs of other providers mean nothing to a Coqui server, so requests are
// mapped through [WithVoiceMap] and fall back to [WithDefaultSpeaker].
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en", "zh-cn").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithVoiceMap translates incoming voice IDs to Coqui speaker names.
func WithVoiceMap(m map[string]string) Option {
	return func(p *Provider) {
		p.voiceMap = m
	}
}

// WithDefaultSpeaker sets the speaker used when a voice ID has no mapping.
// An empty speaker lets single-speaker models use their only voice.
func WithDefaultSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.defaultSpeaker = speaker
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL      string
	language       string
	apiMode        APIMode
	voiceMap       map[string]string
	defaultSpeaker string
	httpClient     *http.Client
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// xttsRequest is the JSON body sent to POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// studioSpeakersResponse maps voice names to speaker embeddings; only the keys matter.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ---- Synthesize ----

// Synthesize performs one synthesis request and returns the WAV payload.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	speaker := p.speakerFor(req.VoiceID)

	var (
		httpReq  *http.Request
		endpoint string
		err      error
	)
	if p.apiMode == APIModeXTTS {
		endpoint = xttsEndpoint
		data, mErr := json.Marshal(xttsRequest{Text: req.Text, SpeakerWav: speaker, Language: p.language})
		if mErr != nil {
			return nil, fmt.Errorf("coqui: marshal tts request: %w", mErr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(data))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	} else {
		endpoint = apiTTSEndpoint
		params := url.Values{}
		params.Set("text", req.Text)
		if speaker != "" {
			params.Set("speaker_id", speaker)
		}
		if p.language != "" {
			params.Set("language_id", p.language)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", httpReq.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &tts.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	if !isWAV(wav) {
		return nil, errors.New("coqui: response is not a WAV file")
	}
	return &tts.Speech{Audio: wav, ContentType: "audio/wav"}, nil
}

func (p *Provider) speakerFor(voiceID string) string {
	if s, ok := p.voiceMap[voiceID]; ok {
		return s
	}
	return p.defaultSpeaker
}

// isWAV checks for the RIFF/WAVE container magic.
func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// ---- ListVoices ----

// ListVoices retrieves the list of available voices from the Coqui server.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		return p.listVoicesXTTS(ctx)
	}
	return p.listVoicesStandard(ctx)
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func (p *Provider) listVoicesXTTS(ctx context.Context) ([]tts.VoiceProfile, error) {
	var raw studioSpeakersResponse
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

func (p *Provider) listVoicesStandard(ctx context.Context) ([]tts.VoiceProfile, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
			})
		}
		return profiles, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{"type": "single-speaker", "model_name": name},
	}}, nil
}
