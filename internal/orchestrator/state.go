package orchestrator

import (
	"errors"
	"time"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/conversation"
	"github.com/MrWong99/luna/internal/playback"
	"github.com/MrWong99/luna/internal/turn"
)

// Phase is the coarse state reported to the user interface. The underlying
// flags in [Snapshot] may overlap, e.g. a reply can be pending while the user
// is speaking again.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseListening     Phase = "listening"
	PhaseAwaitingReply Phase = "awaiting_reply"
	PhaseSpeaking      Phase = "speaking"
)

// ErrorKind classifies a surfaced error.
type ErrorKind string

const (
	KindCaptureUnavailable ErrorKind = "capture_unavailable"
	KindCaptureFailed      ErrorKind = "capture_failed"
	KindBusy               ErrorKind = "busy"
	KindGenerationFailed   ErrorKind = "generation_failed"
	KindSynthesisFailed    ErrorKind = "synthesis_failed"
	KindPlaybackFailed     ErrorKind = "playback_failed"
	KindInternal           ErrorKind = "internal"
)

// ErrorInfo is the most recent error shown to the user.
type ErrorInfo struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode,omitempty"`
	At         time.Time `json:"at"`
}

// classify maps a component error onto its kind.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, capture.ErrUnavailable):
		return KindCaptureUnavailable
	case errors.Is(err, capture.ErrFailed):
		return KindCaptureFailed
	case errors.Is(err, turn.ErrBusy):
		return KindBusy
	case errors.Is(err, turn.ErrGenerationFailed):
		return KindGenerationFailed
	case errors.Is(err, playback.ErrSynthesisFailed):
		return KindSynthesisFailed
	case errors.Is(err, playback.ErrPlaybackFailed):
		return KindPlaybackFailed
	default:
		return KindInternal
	}
}

// Preferences are the user toggles that influence orchestration.
type Preferences struct {
	// AutoSpeak speaks every reply as soon as it arrives.
	AutoSpeak bool `json:"autoSpeak" yaml:"auto_speak"`

	// SoundEnabled gates all playback. Turning it off stops active playback.
	SoundEnabled bool `json:"soundEnabled" yaml:"sound_enabled"`

	// VoiceID selects the synthesis voice.
	VoiceID string `json:"voiceId" yaml:"voice_id"`
}

// DefaultPreferences speaks replies aloud with the provider's default voice.
func DefaultPreferences() Preferences {
	return Preferences{AutoSpeak: true, SoundEnabled: true}
}

// Snapshot is a consistent copy of the orchestrator state.
type Snapshot struct {
	Messages         []conversation.Message `json:"messages"`
	Version          uint64                 `json:"version"`
	Phase            Phase                  `json:"phase"`
	Listening        bool                   `json:"listening"`
	AwaitingReply    bool                   `json:"awaitingReply"`
	Speaking         bool                   `json:"speaking"`
	CaptureAvailable bool                   `json:"captureAvailable"`
	// Transcript is the interim text of the live capture attempt.
	Transcript  string      `json:"transcript,omitempty"`
	LastError   *ErrorInfo  `json:"lastError,omitempty"`
	Preferences Preferences `json:"preferences"`
}

func phaseOf(listening, speaking, awaiting bool) Phase {
	switch {
	case listening:
		return PhaseListening
	case speaking:
		return PhaseSpeaking
	case awaiting:
		return PhaseAwaitingReply
	default:
		return PhaseIdle
	}
}
