// Package audio defines the device abstractions Luna uses to hear and speak.
//
// The two primary abstractions are:
//
//   - [Input] opens a microphone [Stream] delivering PCM [AudioFrame] values.
//   - [Output] plays an encoded [Clip] and returns a [Playback] handle that
//     owns the underlying audio resources until it finishes or is stopped.
//
// Implementations live in adapter packages (audio/microphone, audio/speaker).
// The interfaces are intentionally narrow so that the capture session and the
// synthesis player can be exercised in tests with the audio/mock package.
package audio

import (
	"context"
	"fmt"
)

// Format describes the PCM layout requested from an [Input].
type Format struct {
	// SampleRate in Hz (e.g., 16000 for speech recognition).
	SampleRate int

	// Channels is the channel count; 1 for mono.
	Channels int
}

// String returns a human-readable description such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Stream is a live microphone capture. It holds the device until Close is called.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the channel of captured 16-bit little-endian PCM frames.
	// The channel is closed when the stream ends, either because Close was called,
	// the open context was cancelled, or the device failed (see Err).
	Frames() <-chan AudioFrame

	// Err returns the error that terminated the stream, or nil if the stream was
	// closed normally. Only meaningful after Frames has been closed.
	Err() error

	// Close stops capturing and releases the device. Safe to call more than once.
	Close() error
}

// Input opens microphone streams.
type Input interface {
	// Open acquires the capture device and starts delivering frames in the
	// requested format. The returned [Stream] must be closed by the caller.
	Open(ctx context.Context, format Format) (Stream, error)
}

// Clip is a fully buffered, encoded piece of audio (for example MP3 bytes
// returned by a speech synthesis service).
type Clip struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// ContentType is the MIME type of Data (e.g., "audio/mpeg").
	ContentType string
}

// Playback is a handle on one clip being played. It owns the decoder and the
// device slot until playback ends.
//
// Implementations must be safe for concurrent use.
type Playback interface {
	// Done is closed once playback has ended, naturally, by Stop, or on error.
	// All resources held by the handle are released before Done is closed.
	Done() <-chan struct{}

	// Err reports the playback error, or nil if the clip finished or was stopped.
	// Only meaningful after Done has been closed.
	Err() error

	// Stop halts playback immediately and releases the handle. Safe to call more
	// than once and after playback has already finished.
	Stop() error
}

// Output plays encoded clips on a speaker.
type Output interface {
	// Play decodes clip and starts playing it. Cancelling ctx stops playback.
	// Returns an error if the clip cannot be decoded or the device cannot be opened.
	Play(ctx context.Context, clip Clip) (Playback, error)
}
