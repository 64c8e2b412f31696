package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/cadence/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := load(t, yaml)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a, b := mustLoad(t, sampleYAML), mustLoad(t, sampleYAML)
	if d := config.Diff(a, b); !d.Empty() {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantVoice   bool
		wantCoach   bool
		wantRestart []string
	}{
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogWarn }, true, false, false, nil},
		{"style", func(c *config.Config) { c.Voice.Style = "motivational" }, false, true, false, nil},
		{"quiet period", func(c *config.Config) { c.Voice.QuietPeriod = time.Second }, false, true, false, nil},
		{"persona", func(c *config.Config) { c.Coach.Persona.Instructions = "Be brief." }, false, false, true, nil},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, false, false, false, []string{"server"}},
		{"llm model", func(c *config.Config) { c.Providers.LLM.Model = "gpt-4.1" }, false, false, false, []string{"providers"}},
		{"fallback", func(c *config.Config) { c.Providers.LLM.Fallbacks[0].Model = "x" }, false, false, false, []string{"providers"}},
		{"options", func(c *config.Config) {
			c.Providers.TTS.Options = map[string]any{"stability": 0.4}
		}, false, false, false, []string{"providers"}},
		{"store", func(c *config.Config) { c.Store.PostgresDSN = "" }, false, false, false, []string{"store"}},
		{"sample rate", func(c *config.Config) { c.Voice.SampleRate = 48000 }, false, false, false, []string{"voice.sample_rate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, next := mustLoad(t, sampleYAML), mustLoad(t, sampleYAML)
			tt.mutate(next)
			d := config.Diff(old, next)
			if d.LogLevelChanged != tt.wantLog || d.VoiceChanged != tt.wantVoice || d.CoachChanged != tt.wantCoach {
				t.Errorf("Diff = %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			if tt.wantLog && d.NewLogLevel != next.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
		})
	}
}
