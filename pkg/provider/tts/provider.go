// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider wraps a synthesis service (ElevenLabs, OpenAI speech, ...) behind
// a uniform streaming interface: SynthesizeStream accepts text fragments on a
// channel and returns raw PCM as it becomes available, so playback can start
// before the whole reply has been synthesized.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/cadence/pkg/audio"
)

// ErrVoiceRequired is returned by SynthesizeStream when voice.ID is empty.
var ErrVoiceRequired = errors.New("tts: voice ID must not be empty")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and emits
	// PCM chunks in the provider's Format. The returned channel is closed when
	// all text has been synthesized, when ctx is cancelled, or when synthesis
	// fails midway. Callers must drain it.
	//
	// A non-nil error is returned only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the provider's voice catalogue in a stable order.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format reports the PCM format of synthesized audio.
	Format() audio.Format
}
