// Package app wires all Luna subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the conversation loop and the HTTP server, and
// Shutdown tears everything down in order.
//
// For testing, inject mock devices via functional options (WithInput,
// WithOutput). When an option is not provided, New opens the real microphone
// and speaker unless audio is disabled in the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/luna/internal/api"
	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/config"
	"github.com/MrWong99/luna/internal/health"
	"github.com/MrWong99/luna/internal/observe"
	"github.com/MrWong99/luna/internal/orchestrator"
	"github.com/MrWong99/luna/internal/playback"
	"github.com/MrWong99/luna/internal/transcript"
	"github.com/MrWong99/luna/internal/transcript/phonetic"
	"github.com/MrWong99/luna/internal/turn"
	"github.com/MrWong99/luna/pkg/audio"
	"github.com/MrWong99/luna/pkg/audio/microphone"
	"github.com/MrWong99/luna/pkg/audio/speaker"
	"github.com/MrWong99/luna/pkg/provider/stt"
)

const (
	// readHeaderTimeout bounds how long a client may take to send request headers.
	readHeaderTimeout = 10 * time.Second

	// reloadTimeout bounds applying reloaded preferences to the orchestrator.
	reloadTimeout = 5 * time.Second

	// vocabularyBoost is the recognizer boost given to every vocabulary term.
	vocabularyBoost = 2
)

// App owns all subsystems and their lifecycle.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	level      *slog.LevelVar
	configPath string
	input      audio.Input
	output     audio.Output

	capture *capture.Session
	player  *playback.Player
	engine  *turn.Engine
	orch    *orchestrator.Orchestrator
	api     *api.Handler
	handler http.Handler
	server  *http.Server

	mu      sync.Mutex
	watcher *config.Watcher
	closers []func() error
	stopped bool
}

// Option is a functional option for [New].
type Option func(*App)

// WithInput overrides the microphone.
func WithInput(in audio.Input) Option {
	return func(a *App) { a.input = in }
}

// WithOutput overrides the speaker.
func WithOutput(out audio.Output) Option {
	return func(a *App) { a.output = out }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel gives the App the level of the process logger so that config
// reloads can change it.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload of the config file at path while Run is
// active.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New creates a new App by wiring all subsystems together. Providers may
// leave any slot nil: without STT or a microphone voice input is unavailable,
// without TTS or a speaker replies are only shown as text.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	if !cfg.Audio.Disabled {
		if a.input == nil {
			a.input = microphone.New(microphone.WithFrameDuration(cfg.Audio.FrameDuration))
		}
		if a.output == nil {
			a.output = speaker.New()
		}
	}

	// ── Leaf components ───────────────────────────────────────────────────────
	captureOpts := []capture.Option{
		capture.WithFormat(audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}),
		capture.WithMetrics(a.metrics),
	}
	if cfg.Audio.Language != "" {
		captureOpts = append(captureOpts, capture.WithLanguage(cfg.Audio.Language))
	}
	if vocab := cfg.Audio.Vocabulary; len(vocab) > 0 {
		keywords := make([]stt.KeywordBoost, len(vocab))
		for i, term := range vocab {
			keywords[i] = stt.KeywordBoost{Keyword: term, Boost: vocabularyBoost}
		}
		captureOpts = append(captureOpts,
			capture.WithKeywords(keywords),
			capture.WithCorrector(transcript.NewCorrector(phonetic.New(vocab))),
		)
	}
	a.capture = capture.New(providers.STT, a.input, captureOpts...)
	a.closers = append(a.closers, a.capture.Close)

	playerOpts := []playback.Option{playback.WithMetrics(a.metrics)}
	if name := cfg.Providers.TTS.Name; name != "" {
		playerOpts = append(playerOpts, playback.WithProviderName(name))
	}
	a.player = playback.New(providers.TTS, a.output, playerOpts...)

	responder, err := newResponder(cfg, providers, a.metrics)
	if err != nil {
		return nil, err
	}
	a.engine = turn.New(responder, turn.WithTimeout(cfg.Assistant.Turn.Timeout))

	// ── Orchestrator ──────────────────────────────────────────────────────────
	a.orch, err = orchestrator.New(a.capture, a.player, a.engine,
		orchestrator.WithGreeting(cfg.Assistant.Greeting),
		orchestrator.WithPreferences(orchestrator.Preferences{
			AutoSpeak:    cfg.Assistant.AutoSpeakEnabled(),
			SoundEnabled: cfg.Assistant.SoundOn(),
			VoiceID:      cfg.Assistant.VoiceID,
		}),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	apiOpts := []api.Option{api.WithAllowedOrigins(cfg.Server.AllowedOrigins)}
	if providers.TTS != nil {
		apiOpts = append(apiOpts, api.WithVoiceLister(providers.TTS))
	}
	a.api = api.New(a.orch, cfg.Assistant.Voices, apiOpts...)

	checkers := []health.Checker{health.Running("orchestrator", a.orch.Running)}
	for _, kind := range slices.Sorted(maps.Keys(providers.Breakers)) {
		checkers = append(checkers, health.Breakers(kind, providers.Breakers[kind]))
	}

	mux := http.NewServeMux()
	a.api.RegisterRoutes(mux)
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info("app initialised",
		"capture_available", a.capture.Available(),
		"playback_available", a.player.Available(),
		"strategy", cfg.Assistant.Turn.Strategy,
		"voices", len(cfg.Assistant.Voices),
	)
	return a, nil
}

// newResponder selects the reply strategy from the config.
func newResponder(cfg *config.Config, providers *Providers, m *observe.Metrics) (turn.Responder, error) {
	tc := cfg.Assistant.Turn
	switch tc.Strategy {
	case config.StrategyLLM:
		if providers.LLM == nil {
			return nil, errors.New("app: turn strategy \"llm\" requires an llm provider")
		}
		return turn.NewLLM(providers.LLM,
			turn.WithSystemPrompt(tc.SystemPrompt),
			turn.WithSampling(tc.Temperature, tc.MaxTokens),
			turn.WithHistoryBudget(tc.HistoryBudget),
			turn.WithLLMMetrics(m, cfg.Providers.LLM.Name),
		), nil
	default:
		return turn.NewCanned(
			turn.WithResponses(tc.Responses),
			turn.WithDelay(tc.MinDelay, tc.MaxDelay),
		), nil
	}
}

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the conversation state machine.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Run starts the conversation loop, the HTTP server and, when configured, the
// config watcher. It blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return fmt.Errorf("app: start config watcher: %w", err)
		}
		a.mu.Lock()
		a.watcher = w
		a.mu.Unlock()
		slog.Info("watching config for changes", "path", a.configPath)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.orch.Run(gctx); err != nil {
			return fmt.Errorf("app: orchestrator: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// applyConfig applies the runtime-changeable parts of a reloaded config.
func (a *App) applyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoicesChanged {
		a.api.SetVoices(next.Assistant.Voices)
		slog.Info("voice catalog reloaded", "voices", len(next.Assistant.Voices))
	}
	if d.PreferencesChanged {
		prefs := orchestrator.Preferences{
			AutoSpeak:    d.AutoSpeak,
			SoundEnabled: d.SoundEnabled,
			VoiceID:      d.VoiceID,
		}
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		err := a.orch.SetPreferences(ctx, prefs)
		cancel()
		if err != nil {
			slog.Warn("failed to apply reloaded preferences", "err", err)
		} else {
			slog.Info("preferences reloaded",
				"auto_speak", prefs.AutoSpeak,
				"sound_enabled", prefs.SoundEnabled,
				"voice_id", prefs.VoiceID,
			)
		}
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "field", field)
	}
}

// Shutdown stops the config watcher and releases all devices and sessions.
// It respects the ctx deadline. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	w := a.watcher
	closers := a.closers
	a.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if w != nil {
			w.Stop()
		}
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		slog.Info("app shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: shutdown: %w", ctx.Err())
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
