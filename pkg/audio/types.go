package audio

import (
	"fmt"
	"time"
)

// bytesPerSample is fixed: every stream in Cadence carries 16-bit signed
// little-endian PCM.
const bytesPerSample = 2

// AudioFrame is a single chunk of PCM audio flowing from a microphone to its
// consumers (amplitude sampler, speech capture, raw recorder) or from a
// synthesizer to a speaker.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for browser capture, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// BytesPerSecond returns the PCM byte rate for f. Zero for invalid formats.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * bytesPerSample
}

// Duration returns how long n bytes of PCM in format f last.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Format returns the frame's format.
func (fr AudioFrame) Format() Format {
	return Format{SampleRate: fr.SampleRate, Channels: fr.Channels}
}
