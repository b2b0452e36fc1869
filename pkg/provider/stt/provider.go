// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider opens a streaming session that accepts raw PCM chunks and emits
// interim ([SessionHandle.Partials]) and final ([SessionHandle.Finals])
// transcripts. A final transcript flagged with EndOfUtterance tells the caller
// that the speaker has finished the current utterance.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig configures a single streaming session.
type StreamConfig struct {
	// SampleRate of the PCM audio that will be sent, in Hz.
	SampleRate int

	// Channels of the PCM audio that will be sent.
	Channels int

	// Language is the BCP-47 recognition language (e.g., "en", "zh-CN").
	// Empty means the provider default.
	Language string

	// Keywords are boosted during recognition (e.g., the assistant's name).
	Keywords []KeywordBoost
}

// SessionHandle is a live streaming transcription session.
type SessionHandle interface {
	// SendAudio queues a chunk of 16-bit little-endian PCM for recognition.
	// Returns an error once the session has been closed or has failed.
	SendAudio(chunk []byte) error

	// Partials returns the channel of interim transcripts. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals returns the channel of final transcripts. Closed when the session
	// ends; every final produced for audio sent before Close is delivered first.
	Finals() <-chan Transcript

	// Err returns the error that terminated the session, or nil if it ended
	// normally. Only meaningful after Finals has been closed.
	Err() error

	// Close flushes pending audio, asks the service for its last results and
	// ends the session. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The session stays alive until
	// Close is called on the handle or ctx is cancelled.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
