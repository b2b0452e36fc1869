// Package playback speaks assistant replies: it sends text to a speech
// synthesis provider and plays the returned audio.
//
// A [Player] owns at most one audio handle at a time. Every Speak supersedes
// the previous one: the older request is cancelled, its handle is stopped and
// released before the new audio is acquired, and any late result of the older
// request is dropped without an event.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/provider/tts"
)

var (
	// ErrSynthesisFailed matches every [*SynthesisError].
	ErrSynthesisFailed = errors.New("playback: synthesis failed")

	// ErrPlaybackFailed means the audio could not be decoded or played.
	ErrPlaybackFailed = errors.New("playback: playback failed")
)

// SynthesisError reports a failed synthesis request. StatusCode is the HTTP
// status returned by the service, or 0 when the request never got a response.
type SynthesisError struct {
	StatusCode int
	Err        error
}

func (e *SynthesisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("playback: synthesis failed: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("playback: synthesis failed: %v", e.Err)
}

// Is makes errors.Is(err, ErrSynthesisFailed) true.
func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesisFailed }

func (e *SynthesisError) Unwrap() error { return e.Err }

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventFinished: the reply was played to the end.
	EventFinished EventKind = iota

	// EventFailed: synthesis or playback failed; Err says which.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports the outcome of one Speak call.
type Event struct {
	// Generation identifies the Speak call; compare with [Player.Generation].
	Generation uint64
	Kind       EventKind
	Err        error
}

// Option configures a [Player].
type Option func(*Player)

// WithMetrics records synthesis and playback latencies and the speaking gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// WithProviderName labels provider request metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(p *Player) { p.providerName = name }
}

// Player turns text into audible speech. Safe for concurrent use.
type Player struct {
	synth        tts.Provider
	out          audio.Output
	metrics      *observe.Metrics
	providerName string

	events chan Event

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	active     audio.Playback
	speaking   bool
}

// New returns a Player that synthesizes with synth and plays on out. Either
// may be nil, in which case every Speak call is ignored.
func New(synth tts.Provider, out audio.Output, opts ...Option) *Player {
	p := &Player{
		synth:        synth,
		out:          out,
		providerName: "tts",
		events:       make(chan Event, 16),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Events returns the channel of Speak outcomes. It is never closed.
func (p *Player) Events() <-chan Event { return p.events }

// Speaking reports whether a reply is being synthesized or played. It turns
// true as soon as the request is issued, before any audio is heard.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Available reports whether both a synthesizer and an output are configured.
func (p *Player) Available() bool {
	return p.synth != nil && p.out != nil
}

// Generation returns the number of the latest Speak or Stop call. Events
// with a smaller generation are stale.
func (p *Player) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Speak synthesizes text with voiceID and plays it, replacing whatever was
// playing. Blank text is ignored and reported by returning false, as is any
// call on a Player that is not [Player.Available]. ctx bounds
// both the request and the playback.
func (p *Player) Speak(ctx context.Context, text, voiceID string) bool {
	text = strings.TrimSpace(text)
	if text == "" || !p.Available() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	gen := p.generation
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.setSpeakingLocked(runCtx, true)

	go p.run(runCtx, gen, tts.Request{Text: text, VoiceID: voiceID})
	return true
}

// Stop cancels any in-flight request, stops the active handle and clears the
// speaking flag. No event is emitted for the interrupted reply. Idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
	p.setSpeakingLocked(context.Background(), false)
}

// haltLocked starts a new generation and releases everything the previous one
// held. Must be called with p.mu held.
func (p *Player) haltLocked() {
	p.generation++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.active != nil {
		if err := p.active.Stop(); err != nil {
			slog.Warn("playback: stop active handle", "err", err)
		}
		p.active = nil
	}
}

// setSpeakingLocked must be called with p.mu held.
func (p *Player) setSpeakingLocked(ctx context.Context, on bool) {
	if p.speaking == on {
		return
	}
	p.speaking = on
	if p.metrics != nil {
		observe.SetFlag(ctx, p.metrics.Speaking, on)
	}
}

func (p *Player) run(ctx context.Context, gen uint64, req tts.Request) {
	ctx, span := observe.StartSpan(ctx, "playback.speak")
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()

	start := time.Now()
	speech, err := p.synth.Synthesize(ctx, req)
	if p.metrics != nil {
		p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
		if ctx.Err() == nil {
			p.metrics.RecordProviderRequest(ctx, p.providerName, "tts", err)
		}
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	if err != nil {
		spanErr = toSynthesisError(err)
		p.finishLocked(ctx)
		p.mu.Unlock()
		slog.Warn("speech synthesis failed", "voice", req.VoiceID, "err", err)
		p.emit(Event{Generation: gen, Kind: EventFailed, Err: spanErr})
		return
	}

	pb, err := p.out.Play(ctx, audio.Clip{Data: speech.Audio, ContentType: speech.ContentType})
	if err != nil {
		spanErr = fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
		p.finishLocked(ctx)
		p.mu.Unlock()
		slog.Warn("playback failed to start", "err", err)
		p.emit(Event{Generation: gen, Kind: EventFailed, Err: spanErr})
		return
	}
	p.active = pb
	p.mu.Unlock()

	played := time.Now()
	<-pb.Done()

	p.mu.Lock()
	if p.active != pb || gen != p.generation {
		// Superseded or stopped; whoever did that released the handle.
		p.mu.Unlock()
		return
	}
	p.active = nil
	p.finishLocked(ctx)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PlaybackDuration.Record(ctx, time.Since(played).Seconds())
	}
	if perr := pb.Err(); perr != nil {
		spanErr = fmt.Errorf("%w: %w", ErrPlaybackFailed, perr)
		slog.Warn("playback failed", "err", perr)
		p.emit(Event{Generation: gen, Kind: EventFailed, Err: spanErr})
		return
	}
	p.emit(Event{Generation: gen, Kind: EventFinished})
}

// finishLocked ends the current generation's claim on the player. Must be
// called with p.mu held.
func (p *Player) finishLocked(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.setSpeakingLocked(ctx, false)
}

func (p *Player) emit(ev Event) {
	p.events <- ev
}

func toSynthesisError(err error) error {
	var se *tts.StatusError
	if errors.As(err, &se) {
		return &SynthesisError{StatusCode: se.StatusCode, Err: err}
	}
	return &SynthesisError{Err: err}
}
