// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the Luna voice assistant.
package config

import (
	"time"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Strategy selects how assistant replies are produced.
type Strategy string

const (
	// StrategyCanned answers from a fixed table after a short simulated delay.
	StrategyCanned Strategy = "canned"

	// StrategyLLM asks the configured language model.
	StrategyLLM Strategy = "llm"
)

// IsValid reports whether s is a recognised strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyCanned || s == StrategyLLM
}

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Assistant AssistantConfig `yaml:"assistant"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists extra origins accepted by the WebSocket endpoint.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig selects the provider implementation for each stage. Names
// are looked up in the [Registry]. Fallbacks are tried in order when the
// primary fails or its circuit breaker is open.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "elevenlabs").
	Name string `yaml:"name"`

	// APIKeyEnv names the environment variable holding the API key. The
	// loader copies its value into APIKey.
	APIKeyEnv string `yaml:"api_key_env"`

	// APIKey may be set inline for local experiments. Prefer APIKeyEnv.
	APIKey string `yaml:"api_key"`

	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig selects the local audio devices.
type AudioConfig struct {
	// Disabled turns off microphone and speaker, leaving a text-only assistant.
	Disabled bool `yaml:"disabled"`

	// SampleRate is the microphone capture rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDuration is the microphone buffer length. Default 20ms.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// Language is passed to the recognizer, e.g. "en" or "zh-CN".
	Language string `yaml:"language"`

	// Vocabulary lists names and terms the recognizer tends to mishear. They
	// are boosted during recognition and normalized in finalized utterances.
	Vocabulary []string `yaml:"vocabulary"`
}

// AssistantConfig holds the conversational defaults.
type AssistantConfig struct {
	// Greeting opens every conversation.
	Greeting string `yaml:"greeting"`

	// VoiceID is the initially selected voice. Defaults to the first catalog voice.
	VoiceID string `yaml:"voice_id"`

	// AutoSpeak speaks replies as they arrive. Default true.
	AutoSpeak *bool `yaml:"auto_speak"`

	// SoundEnabled gates all playback. Default true.
	SoundEnabled *bool `yaml:"sound_enabled"`

	// Voices is the selectable voice catalog.
	Voices []tts.VoiceProfile `yaml:"voices"`

	Turn TurnConfig `yaml:"turn"`
}

// AutoSpeakEnabled returns AutoSpeak, defaulting to true.
func (a AssistantConfig) AutoSpeakEnabled() bool {
	return a.AutoSpeak == nil || *a.AutoSpeak
}

// SoundOn returns SoundEnabled, defaulting to true.
func (a AssistantConfig) SoundOn() bool {
	return a.SoundEnabled == nil || *a.SoundEnabled
}

// TurnConfig configures reply generation.
type TurnConfig struct {
	Strategy Strategy `yaml:"strategy"`

	// Timeout bounds one reply. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MinDelay and MaxDelay bound the simulated latency of the canned strategy.
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`

	// Responses overrides the canned reply table.
	Responses []string `yaml:"responses"`

	// SystemPrompt, Temperature, MaxTokens and HistoryBudget apply to the llm
	// strategy.
	SystemPrompt  string  `yaml:"system_prompt"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	HistoryBudget int     `yaml:"history_budget"`
}

// DefaultVoices is the catalog used when none is configured.
var DefaultVoices = []tts.VoiceProfile{
	{ID: "Q63G7WZ5riIGbK8KmqO9", Name: "Energetic Male (CN)", Description: "A young male with an energetic, cheerful voice, speaking Mandarin Chinese", Provider: "elevenlabs"},
	{ID: "NLl76XZRVj1RVeXptX3h", Name: "Warm Female (CN)", Description: "A young adult female with a warm, friendly tone, speaking Mandarin Chinese", Provider: "elevenlabs"},
	{ID: "At6gj9vUVdJhTriBsuxE", Name: "Friendly Female (CN)", Description: "A young adult female voice with a warm, friendly tone in Mandarin Chinese", Provider: "elevenlabs"},
	{ID: "05Cdh2gw2NMzDvykn1nm", Name: "Wise Elder (CN)", Description: "A middle-aged male with a deep, soothing voice, speaking Mandarin Chinese", Provider: "elevenlabs"},
}

// Defaults fills unset fields in place.
func (c *Config) Defaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameDuration <= 0 {
		c.Audio.FrameDuration = 20 * time.Millisecond
	}

	a := &c.Assistant
	if len(a.Voices) == 0 {
		a.Voices = append([]tts.VoiceProfile(nil), DefaultVoices...)
	}
	if a.VoiceID == "" {
		a.VoiceID = a.Voices[0].ID
	}

	t := &a.Turn
	if t.Strategy == "" {
		t.Strategy = StrategyCanned
	}
	if t.Timeout <= 0 {
		t.Timeout = 30 * time.Second
	}
	if t.MinDelay == 0 && t.MaxDelay == 0 {
		t.MinDelay, t.MaxDelay = time.Second, 2*time.Second
	}
}
