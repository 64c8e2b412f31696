// Package mock provides a test double for playback.Synthesizer.
//
// With Block set, every Speak call waits until Release is called or its
// context ends, which lets tests hold an utterance "on air".
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadence/internal/voice/playback"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

// DefaultVoices is returned by Voices when VoicesResult is nil.
var DefaultVoices = []tts.VoiceProfile{
	{ID: "alloy", Name: "alloy", Provider: "mock", Locale: "en"},
}

// Synthesizer is a mock implementation of playback.Synthesizer.
type Synthesizer struct {
	mu      sync.Mutex
	release chan struct{}

	// VoicesResult is returned by Voices. Nil means DefaultVoices.
	VoicesResult []tts.VoiceProfile

	// VoicesErr, if non-nil, is returned by Voices.
	VoicesErr error

	// SpeakErr is returned by Speak once it finishes.
	SpeakErr error

	// Block makes Speak wait for Release or context cancellation.
	Block bool

	// IgnoreCancel makes a blocked Speak wait for Release even after its
	// context ended, like a sink that drains already queued audio.
	IgnoreCancel bool

	// Calls records every utterance passed to Speak.
	Calls []playback.Utterance

	// VoicesCallCount counts Voices calls.
	VoicesCallCount int
}

var _ playback.Synthesizer = (*Synthesizer)(nil)

// Voices implements playback.Synthesizer.
func (s *Synthesizer) Voices(_ context.Context) ([]tts.VoiceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VoicesCallCount++
	if s.VoicesErr != nil {
		return nil, s.VoicesErr
	}
	if s.VoicesResult == nil {
		return DefaultVoices, nil
	}
	return s.VoicesResult, nil
}

// Speak implements playback.Synthesizer.
func (s *Synthesizer) Speak(ctx context.Context, u playback.Utterance) error {
	s.mu.Lock()
	s.Calls = append(s.Calls, u)
	block, err, stubborn := s.Block, s.SpeakErr, s.IgnoreCancel
	rel := s.releaseLocked()
	s.mu.Unlock()

	switch {
	case block && stubborn:
		<-rel
		if ctx.Err() != nil {
			return ctx.Err()
		}
	case block:
		select {
		case <-rel:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Synthesizer) releaseLocked() chan struct{} {
	if s.release == nil {
		s.release = make(chan struct{}, 16)
	}
	return s.release
}

// Release lets one blocked Speak call finish.
func (s *Synthesizer) Release() {
	s.mu.Lock()
	rel := s.releaseLocked()
	s.mu.Unlock()
	rel <- struct{}{}
}

// SpeakCount returns the number of Speak calls.
func (s *Synthesizer) SpeakCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Texts returns the text of every Speak call in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, u := range s.Calls {
		out[i] = u.Text
	}
	return out
}
