package stt

import (
	"context"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
)

// Clip is a finished recording.
type Clip struct {
	// PCM is 16-bit little-endian audio in Format.
	PCM []byte

	Format audio.Format
}

// Duration returns the playing time of the clip.
func (c Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// WAV returns the clip wrapped in a RIFF/WAVE container.
func (c Clip) WAV() []byte {
	return audio.EncodeWAV(c.PCM, c.Format)
}

// Transcriber converts a complete recording to text in a single request.
type Transcriber interface {
	// Transcribe returns the recognized text, which may be empty when the clip
	// contains no speech.
	Transcribe(ctx context.Context, clip Clip, language string) (string, error)
}
