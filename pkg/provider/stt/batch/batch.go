// Package batch turns any stt.Transcriber into a streaming stt.Provider.
//
// A session buffers incoming PCM and uses an energy-based silence detector to
// cut it into utterances. Each finished utterance is sent to the Transcriber
// and the result is emitted as a single final Transcript. There are no
// interim results.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the level, in 16-bit sample units, below which a
	// chunk counts as silence. 300 is near-silence on a typical microphone.
	defaultRMSThreshold = 300.0

	defaultSilence   = 500 * time.Millisecond
	defaultMaxBuffer = 10 * time.Second
	flushTimeout     = 30 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSilence sets how much trailing silence ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxBuffer sets how much speech may accumulate before a flush is forced.
func WithMaxBuffer(d time.Duration) Option {
	return func(p *Provider) { p.maxBuffer = d }
}

// WithRMSThreshold sets the silence level.
func WithRMSThreshold(v float64) Option {
	return func(p *Provider) { p.threshold = v }
}

// Provider implements stt.Provider on top of a Transcriber.
type Provider struct {
	tr        stt.Transcriber
	silence   time.Duration
	maxBuffer time.Duration
	threshold float64
}

var _ stt.Provider = (*Provider)(nil)

// New wraps tr.
func New(tr stt.Transcriber, opts ...Option) (*Provider, error) {
	if tr == nil {
		return nil, errors.New("batch: transcriber must not be nil")
	}
	p := &Provider{
		tr:        tr,
		silence:   defaultSilence,
		maxBuffer: defaultMaxBuffer,
		threshold: defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		p:        p,
		format:   f,
		language: cfg.Language,
		audioCh:  make(chan []byte, 256),
		out:      make(chan stt.Transcript, 16),
		done:     make(chan struct{}),
		ended:    make(chan struct{}),
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.processLoop(sctx)
	return s, nil
}

type session struct {
	p        *Provider
	format   audio.Format
	language string

	audioCh chan []byte
	out     chan stt.Transcript
	done    chan struct{}
	ended   chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
	wg      sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	case <-s.ended:
		return stt.ErrSessionClosed
	}
}

func (s *session) Transcripts() <-chan stt.Transcript { return s.out }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes any buffered speech, waits for the last transcription and
// ends the session.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.cancel()
	})
	return nil
}

// processLoop owns all buffer state.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.ended)
	defer close(s.out)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
		offset    time.Duration // stream position of buffer[0]
		position  time.Duration
	)
	maxBytes := int(s.p.maxBuffer.Seconds() * float64(s.format.BytesPerSecond()))

	flush := func(fctx context.Context) bool {
		pcm, start, speech := buffer, offset, hadSpeech
		buffer, hadSpeech, silence = nil, false, 0
		offset = position
		if len(pcm) == 0 || !speech {
			return true
		}
		clip := stt.Clip{PCM: pcm, Format: s.format}
		text, err := s.p.tr.Transcribe(fctx, clip, s.language)
		if err != nil {
			if errors.Is(err, stt.ErrUnauthorized) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				return false
			}
			return true
		}
		if text == "" {
			return true
		}
		select {
		case s.out <- stt.Transcript{Text: text, IsFinal: true, Timestamp: start, Duration: clip.Duration()}:
		case <-fctx.Done():
		}
		return true
	}

	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
		flush(fc)
	}

	// consume adds one chunk to the buffer and flushes on trailing silence or
	// a full buffer. It reports false once the session must end.
	consume := func(chunk []byte) bool {
		d := s.format.Duration(len(chunk))
		position += d
		if audio.RMS(chunk) < s.p.threshold {
			if !hadSpeech {
				// Leading silence is discarded.
				offset = position
				return true
			}
			silence += d
			buffer = append(buffer, chunk...)
			if silence >= s.p.silence {
				return flush(ctx)
			}
			return true
		}
		hadSpeech = true
		silence = 0
		buffer = append(buffer, chunk...)
		if maxBytes > 0 && len(buffer) >= maxBytes {
			return flush(ctx)
		}
		return true
	}

	for {
		select {
		case <-s.done:
			// Audio accepted by SendAudio before Close is still transcribed.
		drain:
			for {
				select {
				case chunk := <-s.audioCh:
					if !consume(chunk) {
						return
					}
				default:
					break drain
				}
			}
			finalFlush()
			return
		case <-ctx.Done():
			finalFlush()
			return
		case chunk := <-s.audioCh:
			if !consume(chunk) {
				return
			}
		}
	}
}
