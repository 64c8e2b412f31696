package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level,
// the default voice preference and the coach persona are applied without a
// restart; every other change is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true if the default voice preference or locale changed.
	VoiceChanged bool

	// CoachChanged is true if the persona or generation settings changed.
	CoachChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.CoachChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.Voice, new.Voice
	if ov.PreferredVoice != nv.PreferredVoice || ov.Gender != nv.Gender ||
		ov.Style != nv.Style || ov.Locale != nv.Locale {
		d.VoiceChanged = true
	}
	// Timing fields apply to new sessions as well.
	if ov.QuietPeriod != nv.QuietPeriod || ov.ProcessingTimeout != nv.ProcessingTimeout ||
		ov.RecordingLimit != nv.RecordingLimit || ov.FrameRate != nv.FrameRate ||
		ov.RestartLimit != nv.RestartLimit || ov.Bars != nv.Bars {
		d.VoiceChanged = true
	}
	if ov.SampleRate != nv.SampleRate {
		d.RestartRequired = append(d.RestartRequired, "voice.sample_rate")
	}

	if old.Coach != new.Coach {
		d.CoachChanged = true
	}

	if !serverEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.ShutdownTimeout != b.ShutdownTimeout {
		return false
	}
	if !slices.Equal(a.AllowedOrigins, b.AllowedOrigins) {
		return false
	}
	switch {
	case a.TLS == nil && b.TLS == nil:
		return true
	case a.TLS == nil || b.TLS == nil:
		return false
	}
	return *a.TLS == *b.TLS
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.Transcriber, b.Transcriber) && entryEqual(a.Audio, b.Audio)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if !reflect.DeepEqual(a.Options, b.Options) {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
