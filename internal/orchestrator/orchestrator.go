// Package orchestrator coordinates one voice conversation.
//
// An [Orchestrator] owns the conversation log and drives the three leaf
// components: speech capture, reply generation and speech playback. All
// state lives in a single goroutine started by [Orchestrator.Run]; public
// methods post commands to it and wait for the outcome, and the leaves
// report back on their event channels. This gives a strict ordering of
// appends and makes the mutual exclusion of capture and playback a plain
// local invariant of the loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/conversation"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/playback"
	"github.com/MrWong99/luna/internal/turn"
)

var (
	// ErrListening rejects typed input while the microphone is open.
	ErrListening = errors.New("orchestrator: typed input is disabled while listening")

	// ErrStopped is returned by commands issued after Run has returned.
	ErrStopped = errors.New("orchestrator: stopped")

	// ErrAlreadyRunning is returned by a second concurrent Run call.
	ErrAlreadyRunning = errors.New("orchestrator: already running")
)

// Capturer is the speech capture component, implemented by [capture.Session].
type Capturer interface {
	Available() bool
	Start(ctx context.Context) (uint64, error)
	Stop()
	Events() <-chan capture.Event
}

// Speaker is the synthesis player, implemented by [playback.Player].
type Speaker interface {
	Speak(ctx context.Context, text, voiceID string) bool
	Stop()
	Generation() uint64
	Events() <-chan playback.Event
}

// Generator produces replies, implemented by [turn.Engine].
type Generator interface {
	Submit(ctx context.Context, input string, history []conversation.Message) (<-chan turn.Result, error)
	Busy() bool
}

var (
	_ Capturer  = (*capture.Session)(nil)
	_ Speaker   = (*playback.Player)(nil)
	_ Generator = (*turn.Engine)(nil)
)

// Input sources used for turn metrics.
const (
	sourceText  = "text"
	sourceVoice = "voice"
)

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithGreeting sets the greeting that starts every conversation.
func WithGreeting(g string) Option {
	return func(o *Orchestrator) { o.greeting = g }
}

// WithPreferences sets the initial user preferences.
func WithPreferences(p Preferences) Option {
	return func(o *Orchestrator) { o.prefs = p }
}

// WithMetrics records turn outcomes and subscriber counts.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the clock used for error timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type command struct {
	fn    func() error
	reply chan error
}

type pendingTurn struct {
	version uint64
	source  string
	results <-chan turn.Result
	cancel  context.CancelFunc
}

// Orchestrator is the voice turn state machine. Create it with [New], start
// the loop with [Orchestrator.Run] and drive it with the command methods,
// which are safe for concurrent use.
type Orchestrator struct {
	capture Capturer
	player  Speaker
	engine  Generator
	metrics *observe.Metrics
	now     func() time.Time

	greeting string
	cmds     chan command
	started  atomic.Bool
	running  atomic.Bool
	stopped  chan struct{}

	// Owned by the loop goroutine.
	runCtx     context.Context
	log        *conversation.Log
	prefs      Preferences
	attempt    uint64
	draining   uint64
	listening  bool
	transcript string
	speaking   bool
	pending    *pendingTurn
	awaiting   bool
	held       *conversation.Message
	lastErr    *ErrorInfo

	pubMu   sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New returns an Orchestrator over the given components. It does nothing
// until Run is called.
func New(c Capturer, p Speaker, g Generator, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, errors.New("orchestrator: capture must not be nil")
	}
	if p == nil {
		return nil, errors.New("orchestrator: player must not be nil")
	}
	if g == nil {
		return nil, errors.New("orchestrator: generator must not be nil")
	}
	o := &Orchestrator{
		capture: c,
		player:  p,
		engine:  g,
		now:     time.Now,
		prefs:   DefaultPreferences(),
		cmds:    make(chan command),
		stopped: make(chan struct{}),
		subs:    make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = conversation.NewLog(o.greeting)
	o.publish()
	return o, nil
}

// Running reports whether the event loop is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run executes the event loop until ctx is cancelled. On return any live
// capture and playback are stopped and every subscription channel is closed.
// Run may only be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	o.running.Store(true)
	o.runCtx = ctx
	defer o.shutdown()
	slog.Info("orchestrator started", "capture_available", o.capture.Available())

	for {
		var results <-chan turn.Result
		if o.pending != nil {
			results = o.pending.results
		}

		select {
		case <-ctx.Done():
			return nil
		case c := <-o.cmds:
			// Callers read Snapshot right after a command returns.
			err := c.fn()
			o.publish()
			c.reply <- err
			continue
		case ev := <-o.capture.Events():
			o.onCapture(ev)
		case ev := <-o.player.Events():
			o.onPlayback(ev)
		case res, ok := <-results:
			if !ok {
				// Channel closed without a result; treat as a failed turn.
				res = turn.Result{Err: fmt.Errorf("%w: no result delivered", turn.ErrGenerationFailed)}
			}
			o.onReply(res)
		}
		o.publish()
	}
}

func (o *Orchestrator) shutdown() {
	if o.listening {
		o.capture.Stop()
	}
	o.player.Stop()
	if o.pending != nil {
		o.pending.cancel()
	}
	o.running.Store(false)
	close(o.stopped)

	o.pubMu.Lock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.pubMu.Unlock()
	slog.Info("orchestrator stopped")
}

// do runs fn on the loop goroutine and returns its error.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case o.cmds <- c:
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

// SendText submits typed input. Blank text is ignored. While listening the
// input is refused with [ErrListening]; while a reply is pending it is
// refused with [turn.ErrBusy]. A refused message is not appended.
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	return o.do(ctx, func() error {
		if o.listening {
			return ErrListening
		}
		return o.submitUserText(sourceText, text)
	})
}

// StartCapture stops any playback and opens the microphone. A pending reply
// is not affected. Calling it while already listening is a no-op.
func (o *Orchestrator) StartCapture(ctx context.Context) error {
	return o.do(ctx, o.startCapture)
}

// StopCapture ends the live capture attempt; its transcript is submitted once
// the recognizer has flushed it. A no-op when not listening.
func (o *Orchestrator) StopCapture(ctx context.Context) error {
	return o.do(ctx, func() error {
		if o.listening {
			o.capture.Stop()
		}
		return nil
	})
}

// ToggleCapture stops capture when listening and starts it otherwise.
func (o *Orchestrator) ToggleCapture(ctx context.Context) error {
	return o.do(ctx, func() error {
		if o.listening {
			o.capture.Stop()
			return nil
		}
		return o.startCapture()
	})
}

// Clear stops all activity and resets the conversation to the greeting. A
// pending reply is abandoned and new input is accepted right away.
func (o *Orchestrator) Clear(ctx context.Context) error {
	return o.do(ctx, func() error {
		if o.listening {
			o.capture.Stop()
			o.draining = o.attempt
			o.listening = false
			o.transcript = ""
		}
		o.stopSpeaking()
		if o.pending != nil {
			o.abandon(o.pending)
			o.pending = nil
		}
		o.awaiting = false
		o.held = nil
		o.lastErr = nil
		o.log.Reset()
		slog.Info("conversation cleared", "version", o.log.Version())
		return nil
	})
}

// SetPreferences replaces the user preferences. Disabling sound stops any
// active playback.
func (o *Orchestrator) SetPreferences(ctx context.Context, p Preferences) error {
	_, err := o.UpdatePreferences(ctx, func(cur *Preferences) { *cur = p })
	return err
}

// UpdatePreferences applies patch to the current preferences as one step, so
// concurrent partial updates do not overwrite each other. It returns the
// preferences that are in effect afterwards.
func (o *Orchestrator) UpdatePreferences(ctx context.Context, patch func(*Preferences)) (Preferences, error) {
	var out Preferences
	err := o.do(ctx, func() error {
		p := o.prefs
		patch(&p)
		o.prefs = p
		if !p.SoundEnabled {
			o.stopSpeaking()
			o.held = nil
		}
		slog.Debug("preferences updated", "auto_speak", p.AutoSpeak, "sound", p.SoundEnabled, "voice", p.VoiceID)
		out = p
		return nil
	})
	if err != nil {
		return Preferences{}, err
	}
	return out, nil
}

// ─── Loop internals ──────────────────────────────────────────────────────────

func (o *Orchestrator) startCapture() error {
	if o.listening {
		return nil
	}
	if o.draining != 0 {
		err := fmt.Errorf("%w: previous capture is still stopping", capture.ErrUnavailable)
		o.setError(err)
		return err
	}
	o.stopSpeaking()

	id, err := o.capture.Start(o.runCtx)
	if err != nil {
		o.setError(err)
		return err
	}
	o.attempt = id
	o.listening = true
	o.transcript = ""
	return nil
}

// submitUserText is the single entry point for typed and spoken input.
func (o *Orchestrator) submitUserText(source, text string) error {
	if o.pending != nil || o.engine.Busy() {
		o.setError(turn.ErrBusy)
		return turn.ErrBusy
	}

	turnCtx, cancel := context.WithCancel(o.runCtx)
	results, err := o.engine.Submit(turnCtx, text, o.log.Messages())
	if err != nil {
		cancel()
		if errors.Is(err, turn.ErrEmptyInput) {
			return nil
		}
		o.setError(err)
		return err
	}

	msg := o.log.Append(conversation.RoleUser, strings.TrimSpace(text))
	o.pending = &pendingTurn{
		version: o.log.Version(),
		source:  source,
		results: results,
		cancel:  cancel,
	}
	o.awaiting = true
	slog.Debug("turn submitted", "source", source, "message_id", msg.ID)
	return nil
}

// abandon cancels p and discards its result once the engine delivers it.
func (o *Orchestrator) abandon(p *pendingTurn) {
	p.cancel()
	ctx := o.runCtx
	go func() {
		res, ok := <-p.results
		if ok && o.metrics != nil {
			o.metrics.RecordTurn(ctx, p.source, res.Duration, res.Err)
		}
		slog.Debug("discarded reply for a cleared conversation", "version", p.version)
	}()
}

func (o *Orchestrator) onReply(res turn.Result) {
	p := o.pending
	o.pending = nil
	p.cancel()

	if o.metrics != nil {
		o.metrics.RecordTurn(o.runCtx, p.source, res.Duration, res.Err)
	}
	o.awaiting = false
	if res.Err != nil {
		o.setError(res.Err)
		return
	}

	o.log.AppendMessage(res.Reply)
	if !o.prefs.AutoSpeak || !o.prefs.SoundEnabled {
		return
	}
	if o.listening {
		reply := res.Reply
		o.held = &reply
		return
	}
	o.speak(res.Reply.Content)
}

func (o *Orchestrator) onCapture(ev capture.Event) {
	if ev.Attempt == o.draining && ev.Kind != capture.EventPartial {
		o.draining = 0
		return
	}
	if !o.listening || ev.Attempt != o.attempt {
		return
	}

	switch ev.Kind {
	case capture.EventPartial:
		o.transcript = ev.Text
	case capture.EventFinalized:
		o.listening = false
		o.transcript = ""
		o.releaseHeld()
		if err := o.submitUserText(sourceVoice, ev.Text); err != nil {
			slog.Warn("transcript rejected", "err", err)
		}
	case capture.EventFailed:
		o.listening = false
		o.transcript = ""
		o.setError(ev.Err)
		o.releaseHeld()
	}
}

func (o *Orchestrator) onPlayback(ev playback.Event) {
	if ev.Generation != o.player.Generation() {
		return
	}
	o.speaking = false
	if ev.Kind == playback.EventFailed {
		o.setError(ev.Err)
	}
}

// releaseHeld speaks the reply that arrived while the microphone was open.
func (o *Orchestrator) releaseHeld() {
	h := o.held
	o.held = nil
	if h == nil || !o.prefs.AutoSpeak || !o.prefs.SoundEnabled {
		return
	}
	o.speak(h.Content)
}

func (o *Orchestrator) speak(text string) {
	if o.listening {
		return
	}
	if o.player.Speak(o.runCtx, text, o.prefs.VoiceID) {
		o.speaking = true
	}
}

func (o *Orchestrator) stopSpeaking() {
	if !o.speaking {
		return
	}
	o.player.Stop()
	o.speaking = false
}

func (o *Orchestrator) setError(err error) {
	info := &ErrorInfo{Kind: classify(err), Message: err.Error(), At: o.now()}
	var se *playback.SynthesisError
	if errors.As(err, &se) {
		info.StatusCode = se.StatusCode
	}
	o.lastErr = info
	slog.Warn("voice turn error", "kind", info.Kind, "err", err)
}
