package config

import (
	"reflect"
	"slices"

	"github.com/MrWong99/luna/pkg/provider/tts"
)

// ConfigDiff describes what changed between two configs. Assistant
// preferences and the log level apply at runtime; everything listed in
// RestartRequired only takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PreferencesChanged is set when auto_speak, sound_enabled or voice_id changed.
	PreferencesChanged bool
	AutoSpeak          bool
	SoundEnabled       bool
	VoiceID            string

	VoicesChanged bool

	// RestartRequired lists the top-level fields that changed but cannot be
	// applied to a running process.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PreferencesChanged && !d.VoicesChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{
		AutoSpeak:    new.Assistant.AutoSpeakEnabled(),
		SoundEnabled: new.Assistant.SoundOn(),
		VoiceID:      new.Assistant.VoiceID,
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oa, na := old.Assistant, new.Assistant
	if oa.AutoSpeakEnabled() != na.AutoSpeakEnabled() || oa.SoundOn() != na.SoundOn() || oa.VoiceID != na.VoiceID {
		d.PreferencesChanged = true
	}
	if !slices.EqualFunc(oa.Voices, na.Voices, func(a, b tts.VoiceProfile) bool {
		return reflect.DeepEqual(a, b)
	}) {
		d.VoicesChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if oa.Greeting != na.Greeting {
		d.RestartRequired = append(d.RestartRequired, "assistant.greeting")
	}
	if !reflect.DeepEqual(oa.Turn, na.Turn) {
		d.RestartRequired = append(d.RestartRequired, "assistant.turn")
	}
	return d
}
