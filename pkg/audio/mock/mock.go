// Package mock provides in-memory implementations of [audio.Input] and
// [audio.Output] for use in unit tests.
//
// All mocks are safe for concurrent use. They count every acquisition and
// release so that tests can assert that no device handle leaks, and they let
// the test drive stream and playback completion explicitly.
//
// Typical usage:
//
//	out := &mock.Output{}
//	pb, _ := out.Play(ctx, audio.Clip{Data: []byte("mp3")})
//	out.Last().Finish(nil) // simulate natural end of playback
//	<-pb.Done()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/luna/pkg/audio"
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock implementation of [audio.Input].
type Input struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open and no stream is created.
	OpenErr error

	// Formats records the format argument of every Open call.
	Formats []audio.Format

	streams []*Stream
}

// Open implements [audio.Input].
func (i *Input) Open(_ context.Context, format audio.Format) (audio.Stream, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Formats = append(i.Formats, format)
	if i.OpenErr != nil {
		return nil, i.OpenErr
	}
	s := &Stream{frames: make(chan audio.AudioFrame, 64), format: format}
	i.streams = append(i.streams, s)
	return s, nil
}

// Opened returns how many streams were successfully opened.
func (i *Input) Opened() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.streams)
}

// Closed returns how many of the opened streams have been closed.
func (i *Input) Closed() int {
	i.mu.Lock()
	streams := append([]*Stream(nil), i.streams...)
	i.mu.Unlock()
	n := 0
	for _, s := range streams {
		if s.IsClosed() {
			n++
		}
	}
	return n
}

// Last returns the most recently opened stream, or nil.
func (i *Input) Last() *Stream {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.streams) == 0 {
		return nil
	}
	return i.streams[len(i.streams)-1]
}

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	format audio.Format
	frames chan audio.AudioFrame

	mu         sync.Mutex
	closed     bool
	ended      bool
	err        error
	closeCalls int
}

// Push delivers a frame to the consumer. It is a no-op once the stream ended.
func (s *Stream) Push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.frames <- audio.AudioFrame{Data: data, SampleRate: s.format.SampleRate, Channels: s.format.Channels}
}

// Fail ends the stream with err, simulating a device failure.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.ended = true
	close(s.frames)
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
	return nil
}

// IsClosed reports whether Close has been called at least once.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close was called.
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock implementation of [audio.Output].
type Output struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play and no playback is created.
	PlayErr error

	// Clips records every clip passed to Play.
	Clips []audio.Clip

	playbacks []*Playback
}

// Play implements [audio.Output]. Cancelling ctx stops the playback.
func (o *Output) Play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	o.mu.Lock()
	o.Clips = append(o.Clips, clip)
	if o.PlayErr != nil {
		o.mu.Unlock()
		return nil, o.PlayErr
	}
	p := &Playback{done: make(chan struct{})}
	o.playbacks = append(o.playbacks, p)
	o.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop()
		case <-p.done:
		}
	}()
	return p, nil
}

// Started returns how many playbacks were created.
func (o *Output) Started() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.playbacks)
}

// Active returns how many playbacks are still holding the device.
func (o *Output) Active() int {
	o.mu.Lock()
	pbs := append([]*Playback(nil), o.playbacks...)
	o.mu.Unlock()
	n := 0
	for _, p := range pbs {
		select {
		case <-p.done:
		default:
			n++
		}
	}
	return n
}

// Last returns the most recently created playback, or nil.
func (o *Output) Last() *Playback {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.playbacks) == 0 {
		return nil
	}
	return o.playbacks[len(o.playbacks)-1]
}

// Playback is a mock implementation of [audio.Playback].
type Playback struct {
	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	err       error
	stopCalls int
	stopped   bool
}

// Finish ends playback with err (nil for a natural end).
func (p *Playback) Finish(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Done implements [audio.Playback].
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err implements [audio.Playback].
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop implements [audio.Playback].
func (p *Playback) Stop() error {
	p.mu.Lock()
	p.stopCalls++
	p.stopped = true
	p.mu.Unlock()
	p.Finish(nil)
	return nil
}

// Stopped reports whether Stop was called.
func (p *Playback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

var (
	_ audio.Input    = (*Input)(nil)
	_ audio.Stream   = (*Stream)(nil)
	_ audio.Output   = (*Output)(nil)
	_ audio.Playback = (*Playback)(nil)
)
