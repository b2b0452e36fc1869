// Package turn generates the assistant's reply to one user input.
//
// [Engine] is single-flight: while a reply is being generated further
// submissions are rejected with [ErrBusy]. A generation whose context has
// been cancelled stops counting, so a new one may start while it winds down. The reply text itself comes from a
// pluggable [Responder], either the built-in [Canned] table or a language
// model through [LLM].
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/conversation"
	"github.com/MrWong99/luna/internal/observe"
)

var (
	// ErrEmptyInput is returned for blank input. Callers treat it as a no-op.
	ErrEmptyInput = errors.New("turn: empty input")

	// ErrBusy is returned while another reply is being generated.
	ErrBusy = errors.New("turn: a reply is already being generated")

	// ErrGenerationFailed wraps every responder failure.
	ErrGenerationFailed = errors.New("turn: generation failed")
)

// DefaultTimeout bounds a single generation.
const DefaultTimeout = 30 * time.Second

// Responder produces reply text for input given the preceding conversation.
type Responder interface {
	Respond(ctx context.Context, input string, history []conversation.Message) (string, error)
}

// Result is the outcome of one submission. Exactly one of Reply and Err is set.
type Result struct {
	Input    string
	Reply    conversation.Message
	Err      error
	Duration time.Duration
}

// Option configures an [Engine].
type Option func(*Engine)

// WithTimeout bounds each generation. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// Engine runs one reply generation at a time. Safe for concurrent use.
type Engine struct {
	responder Responder
	timeout   time.Duration
	now       func() time.Time

	mu sync.Mutex
	// active is the context of the live generation, nil when idle.
	active context.Context
}

// New returns an Engine backed by r.
func New(r Responder, opts ...Option) *Engine {
	e := &Engine{
		responder: r,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Busy reports whether a generation is in flight and not cancelled.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busyLocked()
}

func (e *Engine) busyLocked() bool {
	return e.active != nil && e.active.Err() == nil
}

// Submit starts generating a reply to input. history is the conversation
// preceding input and is copied. The returned channel receives exactly one
// [Result] and is then closed. The engine is no longer busy by the time the
// result is delivered, or as soon as ctx is cancelled.
func (e *Engine) Submit(ctx context.Context, input string, history []conversation.Message) (<-chan Result, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	e.mu.Lock()
	if e.busyLocked() {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	// Each generation owns a distinct context so a finishing predecessor
	// cannot release its successor.
	ctx, release := context.WithCancel(ctx)
	e.active = ctx
	e.mu.Unlock()

	hist := make([]conversation.Message, len(history))
	copy(hist, history)

	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res := e.generate(ctx, input, hist)

		e.mu.Lock()
		if e.active == ctx {
			e.active = nil
		}
		e.mu.Unlock()
		release()
		out <- res
	}()
	return out, nil
}

func (e *Engine) generate(ctx context.Context, input string, history []conversation.Message) Result {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "turn.generate")

	start := e.now()
	text, err := e.responder.Respond(ctx, input, history)
	if err == nil {
		if text = strings.TrimSpace(text); text == "" {
			err = errors.New("responder returned an empty reply")
		}
	}
	res := Result{Input: input, Duration: e.now().Sub(start)}
	observe.EndSpan(span, err)

	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		observe.Logger(ctx).Warn("reply generation failed", "err", err, "duration", res.Duration)
		return res
	}
	res.Reply = conversation.NewMessage(conversation.RoleAssistant, text, e.now())
	slog.Debug("reply generated", "chars", len(text), "duration", res.Duration)
	return res
}
