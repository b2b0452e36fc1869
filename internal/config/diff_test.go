package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/luna/internal/config"
)

func baseConfig() *config.Config {
	c := &config.Config{}
	c.Defaults()
	return c
}

func TestDiff_NoChange(t *testing.T) {
	if d := config.Diff(baseConfig(), baseConfig()); !d.Empty() {
		t.Errorf("Diff = %+v, want empty", d)
	}
}

func TestDiff_Preferences(t *testing.T) {
	off := false
	newCfg := baseConfig()
	newCfg.Assistant.SoundEnabled = &off
	newCfg.Assistant.VoiceID = "At6gj9vUVdJhTriBsuxE"

	d := config.Diff(baseConfig(), newCfg)
	if !d.PreferencesChanged {
		t.Fatal("PreferencesChanged = false")
	}
	if d.SoundEnabled || !d.AutoSpeak || d.VoiceID != "At6gj9vUVdJhTriBsuxE" {
		t.Errorf("diff preferences = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Server.LogLevel = config.LogError

	d := config.Diff(baseConfig(), newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogError {
		t.Errorf("diff = %+v", d)
	}
	if d.PreferencesChanged {
		t.Error("PreferencesChanged set for a log level change")
	}
}

func TestDiff_Voices(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Assistant.Voices[0].Name = "Renamed"

	if d := config.Diff(baseConfig(), newCfg); !d.VoicesChanged {
		t.Error("VoicesChanged = false")
	}
}

func TestDiff_VocabularyRequiresRestart(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Audio.Vocabulary = []string{"Luna"}

	d := config.Diff(baseConfig(), newCfg)
	if !slices.Equal(d.RestartRequired, []string{"audio"}) {
		t.Errorf("RestartRequired = %v, want [audio]", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	newCfg := baseConfig()
	newCfg.Server.ListenAddr = ":9999"
	newCfg.Providers.TTS = config.ProviderEntry{Name: "coqui"}
	newCfg.Audio.Disabled = true
	newCfg.Assistant.Greeting = "Yo"
	newCfg.Assistant.Turn.Strategy = config.StrategyLLM

	d := config.Diff(baseConfig(), newCfg)
	want := []string{"server.listen_addr", "providers", "audio", "assistant.greeting", "assistant.turn"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
