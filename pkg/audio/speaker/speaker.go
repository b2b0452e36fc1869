// Package speaker provides an [audio.Output] that decodes MP3 or WAV clips with
// beep and plays them on the default system speaker.
//
// The speaker device is initialised lazily on the first clip. Clips whose
// sample rate differs from the device rate are resampled on the fly.
package speaker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"

	"github.com/MrWong99/luna/pkg/audio"
)

const (
	defaultBufferDuration = 100 * time.Millisecond
	resampleQuality       = 4
)

// Option is a functional option for configuring the Output.
type Option func(*Output)

// WithBufferDuration sets the speaker buffer length. Shorter buffers reduce
// stop latency at the cost of a higher risk of underruns.
func WithBufferDuration(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.bufferDuration = d
		}
	}
}

// Output implements [audio.Output] on top of the beep speaker.
type Output struct {
	bufferDuration time.Duration

	mu   sync.Mutex
	rate beep.SampleRate // zero until the device has been initialised
}

// New creates a new speaker Output.
func New(opts ...Option) *Output {
	o := &Output{bufferDuration: defaultBufferDuration}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Play decodes clip and starts playback. MP3 and WAV payloads are supported.
func (o *Output) Play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	if len(clip.Data) == 0 {
		return nil, errors.New("speaker: clip is empty")
	}
	streamer, format, err := decode(clip)
	if err != nil {
		return nil, fmt.Errorf("speaker: decode: %w", err)
	}

	rate, err := o.ensureInit(format.SampleRate)
	if err != nil {
		streamer.Close()
		return nil, err
	}

	var src beep.Streamer = streamer
	if format.SampleRate != rate {
		src = beep.Resample(resampleQuality, format.SampleRate, rate, streamer)
	}

	p := &playback{
		decoder: streamer,
		done:    make(chan struct{}),
		ended:   make(chan struct{}),
	}
	p.ctrl = &beep.Ctrl{Streamer: beep.Seq(src, beep.Callback(p.markEnded))}
	speaker.Play(p.ctrl)

	go p.watch(ctx)
	return p, nil
}

// decode picks a decoder from the content type, falling back to sniffing the
// RIFF header for untyped payloads.
func decode(clip audio.Clip) (beep.StreamSeekCloser, beep.Format, error) {
	ct := strings.ToLower(clip.ContentType)
	isWAV := strings.Contains(ct, "wav") ||
		(ct == "" && len(clip.Data) >= 4 && string(clip.Data[:4]) == "RIFF")
	if isWAV {
		return wav.Decode(bytes.NewReader(clip.Data))
	}
	return mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
}

// ensureInit initialises the speaker once and returns the device sample rate.
func (o *Output) ensureInit(rate beep.SampleRate) (beep.SampleRate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rate != 0 {
		return o.rate, nil
	}
	if err := speaker.Init(rate, rate.N(o.bufferDuration)); err != nil {
		return 0, fmt.Errorf("speaker: init: %w", err)
	}
	o.rate = rate
	slog.Debug("speaker initialised", "sample_rate", int(rate), "buffer", o.bufferDuration)
	return rate, nil
}

// playback is the [audio.Playback] handle for a single clip.
type playback struct {
	decoder beep.StreamSeekCloser
	ctrl    *beep.Ctrl

	endOnce sync.Once
	ended   chan struct{} // closed by the speaker goroutine when the clip drains

	stopOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// markEnded runs on the speaker goroutine with the speaker lock held, so it
// must not call back into the speaker package.
func (p *playback) markEnded() {
	p.endOnce.Do(func() { close(p.ended) })
}

func (p *playback) watch(ctx context.Context) {
	select {
	case <-p.ended:
		p.release(p.decoder.Err())
	case <-ctx.Done():
		_ = p.Stop()
	case <-p.done:
	}
}

// release detaches the clip from the mixer, closes the decoder and closes done.
func (p *playback) release(playErr error) {
	p.stopOnce.Do(func() {
		speaker.Lock()
		p.ctrl.Streamer = nil
		speaker.Unlock()

		if err := p.decoder.Close(); err != nil {
			slog.Warn("speaker: closing decoder", "err", err)
		}
		p.mu.Lock()
		p.err = playErr
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *playback) Stop() error {
	p.release(nil)
	return nil
}

var _ audio.Output = (*Output)(nil)
