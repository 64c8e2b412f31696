package amplitude

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// WindowSize is the number of samples analysed per frame.
	WindowSize = 256

	// Decibel range mapped onto the 0..255 byte scale.
	minDecibels = -100.0
	maxDecibels = -30.0
)

// analyzer turns the latest WindowSize samples into a loudness value. It is
// not safe for concurrent use.
type analyzer struct {
	fft    *fourier.FFT
	buf    []float64
	coeffs []complex128
}

func newAnalyzer() *analyzer {
	return &analyzer{
		fft: fourier.NewFFT(WindowSize),
		buf: make([]float64, WindowSize),
	}
}

// level returns the arithmetic mean of the byte-scaled magnitudes of the
// WindowSize/2 frequency bins of samples, in [0, 255]. samples must hold
// WindowSize values in [-1, 1].
func (a *analyzer) level(samples []float64) float64 {
	copy(a.buf, samples)
	window.Blackman(a.buf)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.buf)

	bins := WindowSize / 2
	var sum float64
	for k := range bins {
		mag := cmplxAbs(a.coeffs[k]) / WindowSize
		sum += byteScale(mag)
	}
	return sum / float64(bins)
}

// byteScale maps a linear magnitude onto 0..255 over the decibel range.
func byteScale(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Floor(math.Max(0, math.Min(255, v)))
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
