package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/cadence/internal/app"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/health"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/resilience"
	"github.com/MrWong99/cadence/pkg/provider/llm"
	"github.com/MrWong99/cadence/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/cadence/pkg/provider/llm/openai"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	"github.com/MrWong99/cadence/pkg/provider/stt/batch"
	"github.com/MrWong99/cadence/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/cadence/pkg/provider/stt/openai"
	"github.com/MrWong99/cadence/pkg/provider/stt/whisper"
	"github.com/MrWong99/cadence/pkg/provider/tts"
	"github.com/MrWong99/cadence/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/cadence/pkg/provider/tts/openai"
)

const (
	// transcribeHTTPTimeout bounds a single clip upload to a whisper.cpp server.
	transcribeHTTPTimeout = 2 * time.Minute

	// llmHTTPTimeout bounds one chat completion request.
	llmHTTPTimeout = time.Minute
)

// ── Registration ──────────────────────────────────────────────────────────────

// registerBuiltinProviders wires every provider that ships with cadence into
// reg. Local audio backends are registered separately because they depend on
// build tags.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		timeout := optDuration(entry.Options, "timeout")
		if timeout <= 0 {
			timeout = llmHTTPTimeout
		}
		opts = append(opts, oallm.WithHTTPClient(observe.HTTPClient(timeout)))
		if _, ok := entry.Options["max_retries"]; ok {
			opts = append(opts, oallm.WithMaxRetries(optInt(entry.Options, "max_retries")))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted vendors share one shape: optional key and base URL.
	for _, name := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── Transcriber ───────────────────────────────────────────────────────────
	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return newOpenAITranscriber(entry)
	})
	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return newWhisperTranscriber(entry)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if ms := optInt(entry.Options, "endpointing_ms"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// Clip transcribers double as streaming recognisers by cutting the audio
	// at pauses.
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		tr, err := newOpenAITranscriber(entry)
		if err != nil {
			return nil, err
		}
		return batch.New(tr, batchOptions(entry)...)
	})
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		tr, err := newWhisperTranscriber(entry)
		if err != nil {
			return nil, err
		}
		return batch.New(tr, batchOptions(entry)...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := optString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if s := optString(entry.Options, "instructions"); s != "" {
			opts = append(opts, oatts.WithInstructions(s))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts", "transcriber"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func newOpenAITranscriber(entry config.ProviderEntry) (*oastt.Transcriber, error) {
	var opts []oastt.Option
	if entry.Model != "" {
		opts = append(opts, oastt.WithModel(entry.Model))
	}
	if entry.BaseURL != "" {
		opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
	}
	if p := optString(entry.Options, "prompt"); p != "" {
		opts = append(opts, oastt.WithPrompt(p))
	}
	return oastt.New(entry.APIKey, opts...)
}

func newWhisperTranscriber(entry config.ProviderEntry) (*whisper.Transcriber, error) {
	opts := []whisper.Option{whisper.WithHTTPClient(observe.HTTPClient(transcribeHTTPTimeout))}
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	return whisper.New(entry.BaseURL, opts...)
}

func batchOptions(entry config.ProviderEntry) []batch.Option {
	var opts []batch.Option
	if d := optDuration(entry.Options, "silence"); d > 0 {
		opts = append(opts, batch.WithSilence(d))
	}
	if d := optDuration(entry.Options, "max_buffer"); d > 0 {
		opts = append(opts, batch.WithMaxBuffer(d))
	}
	if v := optFloat(entry.Options, "rms_threshold"); v > 0 {
		opts = append(opts, batch.WithRMSThreshold(v))
	}
	return opts
}

// ── Construction ──────────────────────────────────────────────────────────────

// fallbackGroup is implemented by the resilience wrappers.
type fallbackGroup[T any] interface {
	AddFallback(name string, p T)
	health.StatusReporter
}

// withFallbacks creates the provider named by entry plus each of its
// fallbacks and chains them behind a circuit breaker per backend.
func withFallbacks[T any, G fallbackGroup[T]](
	kind string,
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (T, error),
	wrap func(T, string, resilience.FallbackConfig) G,
) (G, error) {
	var zero G
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	g := wrap(primary, entry.Name, breakerConfig(kind))
	for i, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return zero, fmt.Errorf("create %s fallback %d %q: %w", kind, i, fb.Name, err)
		}
		g.AddFallback(fb.Name, p)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model, "fallbacks", len(entry.Fallbacks))
	return g, nil
}

func breakerConfig(kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				level := slog.LevelInfo
				if to == resilience.StateOpen {
					level = slog.LevelWarn
				}
				slog.Log(context.Background(), level, "provider circuit changed", "kind", kind, "provider", name, "from", from, "to", to)
			},
		},
	}
}

// buildProviders instantiates every configured provider and returns them
// together with one readiness check per provider kind. Unconfigured optional
// kinds stay nil.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []health.Checker, error) {
	var (
		ps     = &app.Providers{}
		checks []health.Checker
		errs   []error
	)
	pc := cfg.Providers

	if pc.LLM.Name != "" {
		g, err := withFallbacks("llm", pc.LLM, reg.CreateLLM, resilience.NewLLMFallback)
		if err != nil {
			errs = append(errs, err)
		} else {
			ps.LLM = g
			checks = append(checks, health.ProviderCheck("llm", g))
		}
	}
	if pc.STT.Name != "" {
		g, err := withFallbacks("stt", pc.STT, reg.CreateSTT, resilience.NewSTTFallback)
		if err != nil {
			errs = append(errs, err)
		} else {
			ps.STT = g
			checks = append(checks, health.ProviderCheck("stt", g))
		}
	}
	if pc.TTS.Name != "" {
		g, err := withFallbacks("tts", pc.TTS, reg.CreateTTS, resilience.NewTTSFallback)
		if err != nil {
			errs = append(errs, err)
		} else {
			ps.TTS = g
			checks = append(checks, health.ProviderCheck("tts", g))
		}
	}
	if pc.Transcriber.Name != "" {
		g, err := withFallbacks("transcriber", pc.Transcriber, reg.CreateTranscriber, resilience.NewTranscriberFallback)
		if err != nil {
			errs = append(errs, err)
		} else {
			ps.Transcriber = g
			checks = append(checks, health.ProviderCheck("transcriber", g))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, nil, err
	}
	return ps, checks, nil
}

// ── Options helpers ───────────────────────────────────────────────────────────

// optString extracts a string from a provider Options map. Missing keys and
// values of another type yield "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt accepts YAML integers and whole floats.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

// optDuration accepts Go duration strings ("500ms") and bare seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid duration option", "key", key, "value", v)
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return 0
}
