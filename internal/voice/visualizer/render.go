// Package visualizer maps amplitude and turn phase to bar heights for the
// voice UI. Rendering is a pure function of its inputs.
package visualizer

import (
	"math"
	"time"
)

// Phase selects the animation style.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseListening Phase = "listening"
	PhaseSpeaking  Phase = "speaking"
)

// Defaults used for zero-valued [Renderer] fields.
const (
	DefaultBars   = 24
	DefaultMin    = 4.0
	DefaultMax    = 48.0
	DefaultPeriod = 1200 * time.Millisecond
)

// indexOffset is the phase shift between neighbouring bars, in radians.
const indexOffset = 0.5

// Renderer produces bar heights. The zero value renders [DefaultBars] bars
// between [DefaultMin] and [DefaultMax].
type Renderer struct {
	// Bars is the number of bars.
	Bars int

	// Min and Max bound every bar height.
	Min, Max float64

	// Period is the length of one breathing cycle while speaking.
	Period time.Duration
}

// Render returns Bars heights for the given amplitude (0..255) and phase.
// elapsed drives the speaking animation and is ignored otherwise.
func (r Renderer) Render(amplitude float64, phase Phase, elapsed time.Duration) []float64 {
	r = r.withDefaults()
	out := make([]float64, r.Bars)
	span := r.Max - r.Min

	switch phase {
	case PhaseListening:
		norm := clamp(amplitude/255, 0, 1)
		for i := range out {
			shape := 0.5 + 0.5*math.Sin(float64(i)*indexOffset)
			out[i] = clamp(r.Min+norm*span*shape, r.Min, r.Max)
		}
	case PhaseSpeaking:
		t := 2 * math.Pi * float64(elapsed) / float64(r.Period)
		for i := range out {
			wave := 0.5 + 0.5*math.Sin(t+float64(i)*indexOffset)
			out[i] = clamp(r.Min+span*wave, r.Min, r.Max)
		}
	default:
		for i := range out {
			out[i] = r.Min
		}
	}
	return out
}

func (r Renderer) withDefaults() Renderer {
	if r.Bars <= 0 {
		r.Bars = DefaultBars
	}
	if r.Min == 0 && r.Max == 0 {
		r.Min, r.Max = DefaultMin, DefaultMax
	}
	if r.Max < r.Min {
		r.Min, r.Max = r.Max, r.Min
	}
	if r.Period <= 0 {
		r.Period = DefaultPeriod
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
