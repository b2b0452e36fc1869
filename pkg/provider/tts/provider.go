// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and turns
// one complete utterance into one encoded audio payload. Luna speaks whole
// assistant replies, so the contract is request/response rather than streaming:
// the synthesis player buffers the result and hands it to an audio output.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrSynthesisFailed is matched by every [*StatusError] via errors.Is.
var ErrSynthesisFailed = errors.New("tts: synthesis failed")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Text into speech spoken by req.VoiceID and returns
	// the encoded audio. Cancelling ctx aborts the in-flight request.
	//
	// A non-success response from the service is reported as a [*StatusError]
	// so callers can surface the HTTP status code.
	Synthesize(ctx context.Context, req Request) (*Speech, error)

	// ListVoices returns all voice profiles available from this provider.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// StatusError reports a non-2xx response from a synthesis service.
type StatusError struct {
	// StatusCode is the HTTP status code returned by the service.
	StatusCode int

	// Body holds the (possibly truncated) response body for diagnostics.
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tts: synthesis failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("tts: synthesis failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// Is reports whether target is [ErrSynthesisFailed].
func (e *StatusError) Is(target error) bool {
	return target == ErrSynthesisFailed
}
