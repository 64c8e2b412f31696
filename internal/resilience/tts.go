package resilience

import (
	"context"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] on top of a [FallbackGroup].
//
// Audio is always delivered in the primary's [tts.Provider.Format]. When a
// fallback with a different output format serves a stream, its PCM is
// converted on the fly so the sink never sees a format change.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.AddFallback(name, p) }

// Statuses reports the breaker state of each backend.
func (f *TTSFallback) Statuses() []Status { return f.group.Statuses() }

// SynthesizeStream starts synthesis on the first healthy backend. Backends
// only read from text after a successful start, so a failed attempt leaves
// the fragments for the next one.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	want := f.Format()
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		pcm, err := p.SynthesizeStream(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		if got := p.Format(); got != want {
			return convertChunks(pcm, got, want), nil
		}
		return pcm, nil
	})
}

// ListVoices returns the catalogue of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Format returns the primary's output format.
func (f *TTSFallback) Format() audio.Format { return f.group.Primary().Format() }

// convertChunks re-encodes PCM chunks from one format to another. Chunks are
// realigned to whole interleaved samples first because streaming backends
// split their output at arbitrary byte offsets.
func convertChunks(in <-chan []byte, from, to audio.Format) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		conv := audio.FormatConverter{Target: to}
		align := 2 * max(from.Channels, 1)
		var carry []byte
		for chunk := range in {
			carry = append(carry, chunk...)
			n := len(carry) - len(carry)%align
			if n == 0 {
				continue
			}
			frame := conv.Convert(audio.AudioFrame{
				Data:       carry[:n],
				SampleRate: from.SampleRate,
				Channels:   from.Channels,
			})
			carry = append([]byte(nil), carry[n:]...)
			if len(frame.Data) > 0 {
				out <- frame.Data
			}
		}
	}()
	return out
}
