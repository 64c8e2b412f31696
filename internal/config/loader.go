package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":         {"deepgram", "openai", "whisper"},
	"tts":         {"elevenlabs", "openai"},
	"transcriber": {"openai", "whisper"},
	"audio":       {"portaudio"},
}

// Styles and genders accepted by the voice section.
var (
	validStyles  = []string{"neutral", "motivational", "professional", "supportive"}
	validGenders = []string{"", "female", "male"}
)

// envRef matches ${NAME} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored. With no arguments ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${ENV} references, decodes YAML from r, applies
// defaults and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = ExpandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${NAME} references with the value of the environment
// variable NAME. Unset variables expand to the empty string. A bare $ is left
// untouched so secrets containing dollar signs survive.
func ExpandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	p := cfg.Providers
	if p.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if p.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if p.STT.Name == "" {
		if p.Transcriber.Name == "" {
			errs = append(errs, errors.New("one of providers.stt or providers.transcriber must be configured"))
		} else {
			slog.Warn("providers.stt is not configured; voice mode is unavailable and only dictation works")
		}
	}
	for kind, entry := range map[string]ProviderEntry{
		"llm":         p.LLM,
		"stt":         p.STT,
		"tts":         p.TTS,
		"transcriber": p.Transcriber,
		"audio":       p.Audio,
	} {
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
	}

	// Voice
	v := cfg.Voice
	if v.QuietPeriod < 0 {
		errs = append(errs, fmt.Errorf("voice.quiet_period %s must not be negative", v.QuietPeriod))
	}
	if v.ProcessingTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.processing_timeout %s must not be negative", v.ProcessingTimeout))
	}
	if v.RecordingLimit != 0 && (v.RecordingLimit < 30*time.Second || v.RecordingLimit > 60*time.Second) {
		errs = append(errs, fmt.Errorf("voice.recording_limit %s is out of range [30s, 60s]", v.RecordingLimit))
	}
	if v.FrameRate < 0 || v.FrameRate > 120 {
		errs = append(errs, fmt.Errorf("voice.frame_rate %d is out of range [1, 120]", v.FrameRate))
	}
	if v.RestartLimit < 0 {
		errs = append(errs, fmt.Errorf("voice.restart_limit %d must not be negative", v.RestartLimit))
	}
	if v.Bars < 0 || v.Bars > 256 {
		errs = append(errs, fmt.Errorf("voice.bars %d is out of range [1, 256]", v.Bars))
	}
	if v.Style != "" && !slices.Contains(validStyles, v.Style) {
		errs = append(errs, fmt.Errorf("voice.style %q is invalid; valid values: neutral, motivational, professional, supportive", v.Style))
	}
	if !slices.Contains(validGenders, v.Gender) {
		errs = append(errs, fmt.Errorf("voice.gender %q is invalid; valid values: female, male", v.Gender))
	}
	switch v.SampleRate {
	case 0, 8000, 16000, 24000, 44100, 48000:
	default:
		errs = append(errs, fmt.Errorf("voice.sample_rate %d is not supported", v.SampleRate))
	}

	// Coach
	if c := cfg.Coach; c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("coach.temperature %.2f is out of range [0, 2]", c.Temperature))
	}
	if cfg.Coach.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("coach.max_tokens %d must not be negative", cfg.Coach.MaxTokens))
	}
	if cfg.Coach.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("coach.max_history %d must not be negative", cfg.Coach.MaxHistory))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; conversations are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
