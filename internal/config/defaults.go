package config

import "time"

// Default values filled in by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultLocale            = "en-US"
	DefaultQuietPeriod       = 1500 * time.Millisecond
	DefaultProcessingTimeout = 15 * time.Second
	DefaultRecordingLimit    = 45 * time.Second
	DefaultFrameRate         = 60
	DefaultRestartLimit      = 5
	DefaultBars              = 24
	DefaultSampleRate        = 16000
	DefaultMaxHistory        = 40
)

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)

	v := &cfg.Voice
	setDefault(&v.Locale, DefaultLocale)
	setDefault(&v.QuietPeriod, DefaultQuietPeriod)
	setDefault(&v.ProcessingTimeout, DefaultProcessingTimeout)
	setDefault(&v.RecordingLimit, DefaultRecordingLimit)
	setDefault(&v.FrameRate, DefaultFrameRate)
	setDefault(&v.RestartLimit, DefaultRestartLimit)
	setDefault(&v.Bars, DefaultBars)
	setDefault(&v.SampleRate, DefaultSampleRate)
	setDefault(&v.Style, "neutral")

	setDefault(&cfg.Coach.MaxHistory, DefaultMaxHistory)
}

func setDefault[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}
