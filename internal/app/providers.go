package app

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/luna/internal/config"
	"github.com/MrWong99/luna/internal/resilience"
	"github.com/MrWong99/luna/pkg/provider/llm"
	"github.com/MrWong99/luna/pkg/provider/llm/anyllm"
	"github.com/MrWong99/luna/pkg/provider/llm/openai"
	"github.com/MrWong99/luna/pkg/provider/stt"
	"github.com/MrWong99/luna/pkg/provider/stt/deepgram"
	"github.com/MrWong99/luna/pkg/provider/stt/whisper"
	"github.com/MrWong99/luna/pkg/provider/tts"
	"github.com/MrWong99/luna/pkg/provider/tts/coqui"
	"github.com/MrWong99/luna/pkg/provider/tts/elevenlabs"
)

// Providers holds one interface value per provider slot. Nil means the slot
// is not configured.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Breakers reports circuit breaker state per provider kind for slots
	// built with fallbacks. Used by the readiness probe.
	Breakers map[string]func() []resilience.BreakerStatus
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted and local backends go through any-llm-go and share
	// the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "ollama", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := optString(entry.Options, "default_speaker"); speaker != "" {
			opts = append(opts, coqui.WithDefaultSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// BuildProviders instantiates every provider named in cfg. A slot with
// fallbacks is wrapped in a circuit-breaking fallback chain with the primary
// first. Names without a registered factory are skipped with a warning.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{Breakers: make(map[string]func() []resilience.BreakerStatus)}
	fbCfg := resilience.FallbackConfig{}

	// ── LLM ───────────────────────────────────────────────────────────────────
	primary, err := createOne("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if primary != nil && len(cfg.Providers.LLMFallbacks) > 0 {
		chain := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fbCfg)
		for _, e := range cfg.Providers.LLMFallbacks {
			p, err := createOne("llm", e, reg.CreateLLM)
			if err != nil {
				return nil, err
			}
			if p != nil {
				chain.AddFallback(e.Name, p)
			}
		}
		ps.LLM = chain
		ps.Breakers["llm"] = chain.Status
	} else if primary != nil {
		ps.LLM = primary
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	sttPrimary, err := createOne("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if sttPrimary != nil && len(cfg.Providers.STTFallbacks) > 0 {
		chain := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, fbCfg)
		for _, e := range cfg.Providers.STTFallbacks {
			p, err := createOne("stt", e, reg.CreateSTT)
			if err != nil {
				return nil, err
			}
			if p != nil {
				chain.AddFallback(e.Name, p)
			}
		}
		ps.STT = chain
		ps.Breakers["stt"] = chain.Status
	} else if sttPrimary != nil {
		ps.STT = sttPrimary
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	ttsPrimary, err := createOne("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	if ttsPrimary != nil && len(cfg.Providers.TTSFallbacks) > 0 {
		chain := resilience.NewTTSFallback(ttsPrimary, cfg.Providers.TTS.Name, fbCfg)
		for _, e := range cfg.Providers.TTSFallbacks {
			p, err := createOne("tts", e, reg.CreateTTS)
			if err != nil {
				return nil, err
			}
			if p != nil {
				chain.AddFallback(e.Name, p)
			}
		}
		ps.TTS = chain
		ps.Breakers["tts"] = chain.Status
	} else if ttsPrimary != nil {
		ps.TTS = ttsPrimary
	}

	return ps, nil
}

// createOne builds a single provider. It returns the zero value without an
// error when the entry is empty or names an unregistered implementation.
func createOne[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
