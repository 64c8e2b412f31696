// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify the
// voice and text fragments passed to the backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice", Locale: "en-US"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile

	// Text holds every fragment read from the text channel. It is complete
	// once the returned audio channel has been closed.
	Text []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on the channel returned by SynthesizeStream
	// after the text channel has been closed.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// Hold, when non-nil, delays emission until it is closed or ctx ends.
	Hold chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// OutputFormat is returned by Format. Defaults to 24 kHz mono.
	OutputFormat audio.Format

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []*SynthesizeStreamCall

	// ListVoicesCallCount counts ListVoices calls.
	ListVoicesCallCount int
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	call := &SynthesizeStreamCall{Voice: voice}
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, call)
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	hold := p.Hold
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for t := range text {
			p.mu.Lock()
			call.Text = append(call.Text, t)
			p.mu.Unlock()
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return append([]tts.VoiceProfile(nil), p.ListVoicesResult...), nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OutputFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 24000, Channels: 1}
	}
	return p.OutputFormat
}

// Calls returns a snapshot of the recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.SynthesizeStreamCalls))
	for i, c := range p.SynthesizeStreamCalls {
		out[i] = SynthesizeStreamCall{Voice: c.Voice, Text: append([]string(nil), c.Text...)}
	}
	return out
}

// ListVoicesCalls returns how many times ListVoices was called.
func (p *Provider) ListVoicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesCallCount
}
