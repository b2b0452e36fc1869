// Package capture turns microphone audio into user utterances.
//
// A [Session] owns at most one live listening attempt at a time. Each attempt
// opens the microphone, streams its PCM frames into a speech-to-text session
// and reports progress as [Event] values: interim text while the user speaks,
// then exactly one terminal event, either the finalized utterance or a
// failure. The microphone stream and the STT session are released on every
// path before the terminal event is delivered.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/transcript"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

var (
	// ErrUnavailable means voice input cannot start: no recognizer or
	// microphone is configured, or acquiring one of them failed.
	ErrUnavailable = errors.New("capture: unavailable")

	// ErrFailed means a running attempt broke down (microphone read or
	// recognizer failure).
	ErrFailed = errors.New("capture: failed")
)

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventPartial carries the interim transcript of the current attempt.
	EventPartial EventKind = iota

	// EventFinalized is terminal and carries the full utterance, possibly empty.
	EventFinalized

	// EventFailed is terminal and carries an error matching [ErrFailed].
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinalized:
		return "finalized"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports progress of one listening attempt.
type Event struct {
	// Attempt identifies the Start call that produced the event.
	Attempt uint64
	Kind    EventKind
	Text    string
	Err     error
}

// DefaultFormat is the PCM layout requested from the microphone.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Option configures a [Session].
type Option func(*Session)

// WithFormat overrides the microphone format (and the recognizer's input rate).
func WithFormat(f audio.Format) Option {
	return func(s *Session) { s.format = f }
}

// WithLanguage sets the recognition language, e.g. "en" or "zh-CN".
func WithLanguage(lang string) Option {
	return func(s *Session) { s.language = lang }
}

// WithKeywords boosts recognition of the given terms.
func WithKeywords(kw []stt.KeywordBoost) Option {
	return func(s *Session) { s.keywords = kw }
}

// WithCorrector normalizes vocabulary terms in finalized utterances. Interim
// text is left as recognized.
func WithCorrector(c *transcript.Corrector) Option {
	return func(s *Session) { s.corrector = c }
}

// WithMetrics records listening durations and the listening gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session coordinates the microphone and the STT provider. Safe for
// concurrent use.
type Session struct {
	provider stt.Provider
	mic      audio.Input
	format   audio.Format
	language string
	keywords []stt.KeywordBoost
	metrics  *observe.Metrics

	corrector *transcript.Corrector

	events chan Event

	mu             sync.Mutex
	attempt        uint64
	cur            *attempt
	lastTranscript string
}

type attempt struct {
	id       uint64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (a *attempt) requestStop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// New returns a Session. provider or mic may be nil, in which case Start
// always fails with [ErrUnavailable] while typed input keeps working.
func New(provider stt.Provider, mic audio.Input, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		mic:      mic,
		format:   DefaultFormat,
		events:   make(chan Event, 64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Available reports whether both a recognizer and a microphone are configured.
func (s *Session) Available() bool {
	return s.provider != nil && s.mic != nil
}

// Events returns the channel on which attempt events are delivered. It is
// never closed.
func (s *Session) Events() <-chan Event { return s.events }

// Listening reports whether an attempt is live.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// LastTranscript returns the text of the most recent finalized attempt.
func (s *Session) LastTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTranscript
}

// Start opens the microphone and a recognizer session and begins listening.
// ctx bounds the whole attempt, not only the call. Calling Start while an
// attempt is live is a no-op that returns the live attempt's number.
func (s *Session) Start(ctx context.Context) (uint64, error) {
	if !s.Available() {
		return 0, fmt.Errorf("%w: no speech recognizer or microphone configured", ErrUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return s.cur.id, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := s.mic.Open(runCtx, s.format)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("%w: open microphone: %w", ErrUnavailable, err)
	}
	handle, err := s.provider.StartStream(runCtx, stt.StreamConfig{
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Language:   s.language,
		Keywords:   s.keywords,
	})
	if err != nil {
		cancel()
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("capture: close microphone after failed start", "err", cerr)
		}
		return 0, fmt.Errorf("%w: start recognizer: %w", ErrUnavailable, err)
	}

	s.attempt++
	a := &attempt{id: s.attempt, stop: make(chan struct{}), done: make(chan struct{})}
	s.cur = a
	if s.metrics != nil {
		observe.SetFlag(runCtx, s.metrics.Listening, true)
	}
	slog.Debug("capture started", "attempt", a.id, "format", s.format.String())

	go func() {
		defer cancel()
		s.run(runCtx, a, stream, handle)
	}()
	return a.id, nil
}

// Stop asks the live attempt to end. The recognizer is flushed and the
// terminal [EventFinalized] still carries the text heard so far. Safe to call
// at any time and more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	a := s.cur
	s.mu.Unlock()
	if a != nil {
		a.requestStop()
	}
}

// Close stops the live attempt and waits until its resources are released.
func (s *Session) Close() error {
	s.mu.Lock()
	a := s.cur
	s.mu.Unlock()
	if a == nil {
		return nil
	}
	a.requestStop()
	<-a.done
	return nil
}

// run drives one attempt until it finalizes or fails.
func (s *Session) run(ctx context.Context, a *attempt, stream audio.Stream, h stt.SessionHandle) {
	defer close(a.done)

	ctx, span := observe.StartSpan(ctx, "capture.session")
	start := time.Now()

	pumpErr := make(chan error, 1)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for f := range stream.Frames() {
			if err := h.SendAudio(f.Data); err != nil {
				pumpErr <- fmt.Errorf("send audio: %w", err)
				return
			}
		}
		if err := stream.Err(); err != nil {
			pumpErr <- fmt.Errorf("microphone: %w", err)
		}
	}()

	// Releasing runs off the loop: Close on the recognizer waits for its last
	// results, which the loop must keep draining.
	released := make(chan error, 1)
	stopping := false
	release := func() {
		if stopping {
			return
		}
		stopping = true
		go func() {
			micErr := stream.Close()
			<-pumpDone
			released <- errors.Join(micErr, h.Close())
		}()
	}

	var (
		segments []string
		failure  error
		stopCh   = a.stop
		partials = h.Partials()
		finals   = h.Finals()
	)

loop:
	for {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.emitPartial(Event{Attempt: a.id, Kind: EventPartial, Text: joinText(segments, t.Text)})

		case t, ok := <-finals:
			if !ok {
				if err := h.Err(); err != nil && failure == nil && !stopping {
					failure = fmt.Errorf("recognizer: %w", err)
				}
				break loop
			}
			if txt := strings.TrimSpace(t.Text); txt != "" {
				segments = append(segments, txt)
				s.emitPartial(Event{Attempt: a.id, Kind: EventPartial, Text: joinText(segments, "")})
			}
			if t.EndOfUtterance {
				release()
			}

		case err := <-pumpErr:
			if !stopping {
				failure = err
				release()
			}

		case <-stopCh:
			stopCh = nil
			release()

		case <-ctx.Done():
			release()
			// The recognizer closes its channels once its context is gone.
			ctx = context.WithoutCancel(ctx)
		}
	}

	release()
	// Recognizers close Partials right after Finals.
	if partials != nil {
		audio.Drain(partials)
	}
	if err := <-released; err != nil {
		slog.Warn("capture: release resources", "attempt", a.id, "err", err)
	}

	text := joinText(segments, "")
	if s.corrector != nil && failure == nil {
		var corrections []transcript.Correction
		text, corrections = s.corrector.Correct(text)
		for _, c := range corrections {
			slog.Debug("capture: corrected term",
				"attempt", a.id,
				"heard", c.Original,
				"term", c.Corrected,
				"confidence", c.Confidence,
			)
		}
	}

	s.mu.Lock()
	if s.cur == a {
		s.cur = nil
	}
	if failure == nil {
		s.lastTranscript = text
	}
	s.mu.Unlock()

	if s.metrics != nil {
		observe.SetFlag(ctx, s.metrics.Listening, false)
		s.metrics.CaptureDuration.Record(ctx, time.Since(start).Seconds())
	}

	var ev Event
	if failure != nil {
		ev = Event{Attempt: a.id, Kind: EventFailed, Err: fmt.Errorf("%w: %w", ErrFailed, failure)}
		slog.Warn("capture failed", "attempt", a.id, "err", failure)
	} else {
		ev = Event{Attempt: a.id, Kind: EventFinalized, Text: text}
		slog.Debug("capture finalized", "attempt", a.id, "chars", len(text))
	}
	observe.EndSpan(span, failure)
	s.events <- ev
}

// emitPartial delivers interim events without ever blocking the attempt; a
// slow consumer only misses intermediate text.
func (s *Session) emitPartial(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func joinText(segments []string, tail string) string {
	parts := segments
	if tail = strings.TrimSpace(tail); tail != "" {
		parts = append(append([]string(nil), segments...), tail)
	}
	return strings.Join(parts, " ")
}
