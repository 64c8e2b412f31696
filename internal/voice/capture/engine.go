package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/cadence/internal/voice"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// Result is one recognition result. Interim results may be revised by later
// ones; a final result is never revised.
type Result struct {
	Text    string
	IsFinal bool
}

// Recognition is one running recognition session.
type Recognition interface {
	// Results yields results in engine order and is closed when the session
	// ends for any reason.
	Results() <-chan Result

	// Err reports why the session ended once Results is closed. Nil means a
	// natural end, such as the engine's own silence timeout.
	Err() error

	// Stop ends the session. Safe to call more than once.
	Stop()
}

// Engine starts continuous recognition over a stream of microphone frames.
type Engine interface {
	Start(ctx context.Context, frames <-chan audio.AudioFrame) (Recognition, error)
}

// STTEngine adapts a streaming [stt.Provider] to [Engine]. Frames are
// converted to the provider's configured format before they are sent.
type STTEngine struct {
	provider stt.Provider
	cfg      stt.StreamConfig
}

var _ Engine = (*STTEngine)(nil)

// NewSTTEngine returns an Engine backed by p. Zero sample rate or channel
// count in cfg default to 16 kHz mono.
func NewSTTEngine(p stt.Provider, cfg stt.StreamConfig) *STTEngine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &STTEngine{provider: p, cfg: cfg}
}

// Start implements [Engine].
func (e *STTEngine) Start(ctx context.Context, frames <-chan audio.AudioFrame) (Recognition, error) {
	sess, err := e.provider.StartStream(ctx, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("capture: start stt stream: %w", err)
	}
	r := &sttRecognition{
		sess:    sess,
		results: make(chan Result, 16),
		stop:    make(chan struct{}),
		conv:    audio.FormatConverter{Target: audio.Format{SampleRate: e.cfg.SampleRate, Channels: e.cfg.Channels}},
	}
	go r.pump(frames)
	go r.forward()
	return r, nil
}

type sttRecognition struct {
	sess    stt.SessionHandle
	results chan Result
	stop    chan struct{}
	conv    audio.FormatConverter

	mu      sync.Mutex
	srcLost bool
	once    sync.Once
}

// pump feeds microphone audio to the session until stopped or the source
// ends.
func (r *sttRecognition) pump(frames <-chan audio.AudioFrame) {
	for {
		select {
		case <-r.stop:
			return
		case frame, ok := <-frames:
			if !ok {
				r.mu.Lock()
				r.srcLost = true
				r.mu.Unlock()
				_ = r.sess.Close()
				return
			}
			out := r.conv.Convert(frame)
			if len(out.Data) == 0 {
				continue
			}
			if err := r.sess.SendAudio(out.Data); err != nil {
				if !errors.Is(err, stt.ErrSessionClosed) {
					slog.Warn("capture: send audio", "err", err)
				}
				return
			}
		}
	}
}

func (r *sttRecognition) forward() {
	defer close(r.results)
	for t := range r.sess.Transcripts() {
		r.results <- Result{Text: t.Text, IsFinal: t.IsFinal}
	}
}

func (r *sttRecognition) Results() <-chan Result { return r.results }

func (r *sttRecognition) Err() error {
	r.mu.Lock()
	lost := r.srcLost
	r.mu.Unlock()
	if lost {
		return voice.ErrDeviceUnavailable
	}
	return r.sess.Err()
}

func (r *sttRecognition) Stop() {
	r.once.Do(func() {
		close(r.stop)
		_ = r.sess.Close()
	})
}
