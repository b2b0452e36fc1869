// Package microphone provides an [audio.Input] backed by the PortAudio default
// input device.
//
// Each call to [Input.Open] initialises PortAudio, opens a blocking 16-bit
// input stream and terminates PortAudio again when the stream is closed, so
// the device is held only while a capture is active.
package microphone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/luna/pkg/audio"
)

const defaultFrameDuration = 20 * time.Millisecond

// Option is a functional option for configuring the Input.
type Option func(*Input)

// WithDeviceRate opens the device at rate and resamples captured audio to the
// rate requested in [Input.Open]. Use it for devices that reject 16 kHz.
func WithDeviceRate(rate int) Option {
	return func(i *Input) {
		i.deviceRate = rate
	}
}

// WithFrameDuration sets the length of each delivered frame.
func WithFrameDuration(d time.Duration) Option {
	return func(i *Input) {
		if d > 0 {
			i.frameDuration = d
		}
	}
}

// Input implements [audio.Input] using PortAudio.
type Input struct {
	deviceRate    int
	frameDuration time.Duration
}

// New creates a new microphone Input.
func New(opts ...Option) *Input {
	i := &Input{frameDuration: defaultFrameDuration}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Open acquires the default input device. Only mono capture is supported.
func (i *Input) Open(ctx context.Context, format audio.Format) (audio.Stream, error) {
	if format.SampleRate <= 0 {
		return nil, errors.New("microphone: sample rate must be positive")
	}
	if format.Channels != 1 {
		return nil, fmt.Errorf("microphone: unsupported format %s", format)
	}
	rate := format.SampleRate
	if i.deviceRate > 0 {
		rate = i.deviceRate
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("microphone: portaudio init: %w", err)
	}
	buf := make([]int16, int(float64(rate)*i.frameDuration.Seconds()))
	pa, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("microphone: open stream: %w", err)
	}
	if err := pa.Start(); err != nil {
		_ = pa.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("microphone: start stream: %w", err)
	}

	s := &stream{
		pa:         pa,
		buf:        buf,
		deviceRate: rate,
		format:     format,
		frames:     make(chan audio.AudioFrame, 32),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	go s.readLoop(ctx)
	return s, nil
}

// stream is the [audio.Stream] returned by Open.
type stream struct {
	pa         *portaudio.Stream
	buf        []int16
	deviceRate int
	format     audio.Format

	frames   chan audio.AudioFrame
	stop     chan struct{}
	loopDone chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

func (s *stream) readLoop(ctx context.Context) {
	defer close(s.loopDone)
	defer close(s.frames)

	start := time.Now()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.pa.Read(); err != nil {
			s.mu.Lock()
			s.err = fmt.Errorf("microphone: read: %w", err)
			s.mu.Unlock()
			return
		}
		pcm := audio.ResampleMono16(audio.Int16ToPCM(s.buf), s.deviceRate, s.format.SampleRate)
		frame := audio.AudioFrame{
			Data:       pcm,
			SampleRate: s.format.SampleRate,
			Channels:   1,
			Timestamp:  time.Since(start),
		}
		select {
		case s.frames <- frame:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the read loop before tearing down the PortAudio stream so that
// Read is never called on a closed stream.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.loopDone
		s.closeErr = errors.Join(s.pa.Stop(), s.pa.Close(), portaudio.Terminate())
	})
	return s.closeErr
}

var _ audio.Input = (*Input)(nil)
