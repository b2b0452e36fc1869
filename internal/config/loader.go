package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper"},
	"tts": {"elevenlabs", "coqui"},
}

// Load reads, resolves and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, resolves API
// keys from the environment and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Defaults()
	if err := ResolveSecrets(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveSecrets copies API keys from the environment variables named by
// api_key_env into each provider entry. Inline keys are kept but reported.
func ResolveSecrets(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, e := range cfg.entries() {
		p := e.entry
		if p.APIKey != "" && p.APIKeyEnv == "" {
			slog.Warn("inline api_key in config file; prefer api_key_env", "field", e.path)
		}
		if p.APIKeyEnv == "" {
			continue
		}
		v, ok := lookup(p.APIKeyEnv)
		if !ok || v == "" {
			errs = append(errs, fmt.Errorf("%s.api_key_env: environment variable %s is not set", e.path, p.APIKeyEnv))
			continue
		}
		p.APIKey = v
	}
	return errors.Join(errs...)
}

type namedEntry struct {
	path  string
	kind  string
	entry *ProviderEntry
}

// entries returns every configured provider entry with its YAML path.
func (c *Config) entries() []namedEntry {
	var out []namedEntry
	add := func(kind, path string, e *ProviderEntry) {
		if e.Name != "" || e.APIKeyEnv != "" || e.APIKey != "" {
			out = append(out, namedEntry{path: path, kind: kind, entry: e})
		}
	}
	p := &c.Providers
	add("llm", "providers.llm", &p.LLM)
	add("stt", "providers.stt", &p.STT)
	add("tts", "providers.tts", &p.TTS)
	for i := range p.LLMFallbacks {
		add("llm", fmt.Sprintf("providers.llm_fallbacks[%d]", i), &p.LLMFallbacks[i])
	}
	for i := range p.STTFallbacks {
		add("stt", fmt.Sprintf("providers.stt_fallbacks[%d]", i), &p.STTFallbacks[i])
	}
	for i := range p.TTSFallbacks {
		add("tts", fmt.Sprintf("providers.tts_fallbacks[%d]", i), &p.TTSFallbacks[i])
	}
	return out
}

// Validate checks cfg for coherence and returns all failures joined.
// Problems that do not prevent startup are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for _, e := range cfg.entries() {
		if e.entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", e.path))
			continue
		}
		validateProviderName(e.kind, e.entry.Name)
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	for i, term := range cfg.Audio.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("audio.vocabulary[%d] must not be blank", i))
		}
	}
	if cfg.Providers.STT.Name == "" && !cfg.Audio.Disabled {
		slog.Warn("providers.stt is not configured; voice input is disabled")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies will not be spoken")
	}

	a := cfg.Assistant
	seen := make(map[string]int, len(a.Voices))
	for i, v := range a.Voices {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("assistant.voices[%d].id is required", i))
			continue
		}
		if prev, ok := seen[v.ID]; ok {
			errs = append(errs, fmt.Errorf("assistant.voices[%d].id %q is a duplicate of assistant.voices[%d]", i, v.ID, prev))
		}
		seen[v.ID] = i
	}
	if _, ok := seen[a.VoiceID]; a.VoiceID != "" && len(a.Voices) > 0 && !ok {
		slog.Warn("assistant.voice_id is not in the voice catalog", "voice_id", a.VoiceID)
	}

	t := a.Turn
	if t.Strategy != "" && !t.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("assistant.turn.strategy %q is invalid; valid values: canned, llm", t.Strategy))
	}
	if t.Strategy == StrategyLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("assistant.turn.strategy \"llm\" requires providers.llm"))
	}
	if t.MinDelay < 0 || t.MaxDelay < t.MinDelay {
		errs = append(errs, fmt.Errorf("assistant.turn delays [%s, %s] are not a valid range", t.MinDelay, t.MaxDelay))
	}
	if t.Temperature < 0 || t.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.turn.temperature %.2f is out of range [0, 2]", t.Temperature))
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
