package llm

import (
	"testing"

	"github.com/MrWong99/cadence/pkg/types"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []types.Message
		want int
	}{
		{name: "empty", want: 0},
		{name: "one short", msgs: []types.Message{{Content: "hi"}}, want: 1 + 4},
		{name: "rounds up", msgs: []types.Message{{Content: "hello"}}, want: 2 + 4},
		{name: "two", msgs: []types.Message{{Content: "abcd"}, {Content: "abcdefgh"}}, want: 1 + 4 + 2 + 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EstimateTokens(tt.msgs); got != tt.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCapabilitiesFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		ctxWindow int
		maxOutput int
	}{
		{model: "gpt-4o-mini", ctxWindow: 128_000, maxOutput: 16_384},
		{model: "gpt-4", ctxWindow: 8_192, maxOutput: 4_096},
		{model: "claude-sonnet-4-5", ctxWindow: 200_000, maxOutput: 8_192},
		{model: "gemini-1.5-pro-latest", ctxWindow: 2_097_152, maxOutput: 8_192},
		{model: "llama3.2", ctxWindow: 128_000, maxOutput: 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			got := CapabilitiesFor(tt.model)
			if got.ContextWindow != tt.ctxWindow || got.MaxOutputTokens != tt.maxOutput {
				t.Errorf("CapabilitiesFor(%q) = %+v", tt.model, got)
			}
		})
	}
}
