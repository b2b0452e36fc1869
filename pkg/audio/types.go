package audio

import "time"

// AudioFrame represents a single frame of captured audio.
type AudioFrame struct {
	// PCM audio data, 16-bit little-endian samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
