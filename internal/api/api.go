// Package api exposes the assistant to a browser UI.
//
// The JSON endpoints map one-to-one onto orchestrator commands. State changes
// are pushed to clients over a WebSocket at /api/events, one JSON snapshot per
// message, so the UI never polls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/orchestrator"
	"github.com/MrWong99/luna/internal/turn"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

const (
	// maxRequestBodySize limits request bodies to 1 MiB.
	maxRequestBodySize = 1 << 20

	// writeTimeout bounds a single WebSocket write to a slow client.
	writeTimeout = 5 * time.Second
)

// Assistant is the command surface of the conversation, implemented by
// [orchestrator.Orchestrator].
type Assistant interface {
	Snapshot() orchestrator.Snapshot
	Subscribe() (<-chan orchestrator.Snapshot, func())
	SendText(ctx context.Context, text string) error
	StartCapture(ctx context.Context) error
	StopCapture(ctx context.Context) error
	ToggleCapture(ctx context.Context) error
	Clear(ctx context.Context) error
	UpdatePreferences(ctx context.Context, patch func(*orchestrator.Preferences)) (orchestrator.Preferences, error)
}

var _ Assistant = (*orchestrator.Orchestrator)(nil)

// VoiceLister queries the synthesis backend for its voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]tts.VoiceProfile, error)
}

// Option configures a [Handler].
type Option func(*Handler)

// WithVoiceLister enables GET /api/voices?source=provider.
func WithVoiceLister(l VoiceLister) Option {
	return func(h *Handler) { h.lister = l }
}

// WithAllowedOrigins sets the host patterns accepted for cross-origin
// WebSocket connections. Same-origin connections are always accepted.
func WithAllowedOrigins(patterns []string) Option {
	return func(h *Handler) { h.origins = slices.Clone(patterns) }
}

// Handler serves the HTTP API.
type Handler struct {
	assistant Assistant
	lister    VoiceLister
	origins   []string

	mu     sync.RWMutex
	voices []tts.VoiceProfile
}

// New creates a Handler over the assistant and its voice catalog.
func New(a Assistant, voices []tts.VoiceProfile, opts ...Option) *Handler {
	h := &Handler{
		assistant: a,
		voices:    slices.Clone(voices),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetVoices replaces the voice catalog, e.g. after a config reload.
func (h *Handler) SetVoices(voices []tts.VoiceProfile) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.voices = slices.Clone(voices)
}

func (h *Handler) catalog() []tts.VoiceProfile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.voices
}

// RegisterRoutes adds the API routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.handleState)
	mux.HandleFunc("POST /api/messages", h.handleSendMessage)
	mux.HandleFunc("POST /api/capture/start", h.handleStartCapture)
	mux.HandleFunc("POST /api/capture/stop", h.handleStopCapture)
	mux.HandleFunc("POST /api/capture/toggle", h.handleToggleCapture)
	mux.HandleFunc("POST /api/clear", h.handleClear)
	mux.HandleFunc("GET /api/voices", h.handleVoices)
	mux.HandleFunc("GET /api/preferences", h.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", h.handlePutPreferences)
	mux.HandleFunc("GET /api/events", h.handleEvents)
}

// ─── Commands ────────────────────────────────────────────────────────────────

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.assistant.Snapshot())
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	h.command(w, r, func(ctx context.Context) error {
		return h.assistant.SendText(ctx, req.Text)
	})
}

func (h *Handler) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.assistant.StartCapture)
}

func (h *Handler) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.assistant.StopCapture)
}

func (h *Handler) handleToggleCapture(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.assistant.ToggleCapture)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.assistant.Clear)
}

// command runs fn and answers with the resulting snapshot.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Warn("api: command failed", "path", r.URL.Path, "err", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.assistant.Snapshot())
}

// statusFor maps command errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrListening), errors.Is(err, turn.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrUnavailable), errors.Is(err, orchestrator.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ─── Voices and preferences ──────────────────────────────────────────────────

func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") != "provider" {
		writeJSON(w, http.StatusOK, h.catalog())
		return
	}
	if h.lister == nil {
		writeError(w, http.StatusNotImplemented, "voice listing is not supported by the synthesis provider")
		return
	}
	voices, err := h.lister.ListVoices(r.Context())
	if err != nil {
		slog.Warn("api: list voices failed", "err", err)
		writeError(w, http.StatusBadGateway, "list voices failed")
		return
	}
	if voices == nil {
		voices = []tts.VoiceProfile{}
	}
	writeJSON(w, http.StatusOK, voices)
}

func (h *Handler) handleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.assistant.Snapshot().Preferences)
}

// preferencesPatch is a partial update; omitted fields keep their value. Field
// names match the JSON of [orchestrator.Preferences].
type preferencesPatch struct {
	AutoSpeak    *bool   `json:"autoSpeak"`
	SoundEnabled *bool   `json:"soundEnabled"`
	VoiceID      *string `json:"voiceId"`
}

func (p preferencesPatch) apply(prefs *orchestrator.Preferences) {
	if p.AutoSpeak != nil {
		prefs.AutoSpeak = *p.AutoSpeak
	}
	if p.SoundEnabled != nil {
		prefs.SoundEnabled = *p.SoundEnabled
	}
	if p.VoiceID != nil {
		prefs.VoiceID = *p.VoiceID
	}
}

func (h *Handler) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var patch preferencesPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if patch.VoiceID != nil && !h.knownVoice(*patch.VoiceID) {
		writeError(w, http.StatusBadRequest, "unknown voiceId "+*patch.VoiceID)
		return
	}

	prefs, err := h.assistant.UpdatePreferences(r.Context(), patch.apply)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) knownVoice(id string) bool {
	return slices.ContainsFunc(h.catalog(), func(v tts.VoiceProfile) bool { return v.ID == id })
}

// ─── Event stream ────────────────────────────────────────────────────────────

// handleEvents upgrades to a WebSocket and streams snapshots until the client
// goes away or the orchestrator stops. Intermediate snapshots may be skipped
// for slow clients; the latest state is always delivered.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx once they disconnect.
	ctx := conn.CloseRead(r.Context())

	snaps, unsubscribe := h.assistant.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "assistant stopped")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, snap)
			cancel()
			if err != nil {
				slog.Debug("api: websocket write failed", "err", err)
				return
			}
		}
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
