package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

const defaultVoiceTTL = 10 * time.Minute

// TTSSynthesizer speaks utterances with a [tts.Provider] and plays the audio
// on an [audio.Sink]. The voice catalogue is cached and concurrent lookups
// share one request.
type TTSSynthesizer struct {
	provider tts.Provider
	sink     audio.Sink
	ttl      time.Duration

	group    singleflight.Group
	mu       sync.Mutex
	voices   []tts.VoiceProfile
	loadedAt time.Time
}

var _ Synthesizer = (*TTSSynthesizer)(nil)

// NewTTSSynthesizer returns a Synthesizer over p and sink.
func NewTTSSynthesizer(p tts.Provider, sink audio.Sink) *TTSSynthesizer {
	return &TTSSynthesizer{provider: p, sink: sink, ttl: defaultVoiceTTL}
}

// Voices implements [Synthesizer].
func (s *TTSSynthesizer) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	s.mu.Lock()
	if s.voices != nil && time.Since(s.loadedAt) < s.ttl {
		v := s.voices
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("voices", func() (any, error) {
		voices, err := s.provider.ListVoices(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.voices, s.loadedAt = voices, time.Now()
		s.mu.Unlock()
		return voices, nil
	})
	if err != nil {
		return nil, fmt.Errorf("playback: list voices: %w", err)
	}
	return v.([]tts.VoiceProfile), nil
}

// Speak implements [Synthesizer].
func (s *TTSSynthesizer) Speak(ctx context.Context, u Utterance) error {
	text := make(chan string, 1)
	text <- u.Text
	close(text)

	pcm, err := s.provider.SynthesizeStream(ctx, text, u.Voice)
	if err != nil {
		return fmt.Errorf("playback: synthesize: %w", err)
	}
	defer func() { go audio.Drain(pcm) }()
	return s.sink.Play(ctx, pcm, s.provider.Format())
}
