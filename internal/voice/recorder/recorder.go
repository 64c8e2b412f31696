// Package recorder captures raw microphone PCM for hosts without streaming
// recognition. A finished recording is transcribed in one request by an
// [stt.Transcriber], typically the fallback transcription service.
//
// Recordings are bounded: if the caller never stops one, a safety timer ends
// it after the configured limit and hands the clip to the auto-stop callback.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/voice"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// Recording limits.
const (
	DefaultLimit = 45 * time.Second
	MinLimit     = 30 * time.Second
	MaxLimit     = 60 * time.Second
)

var (
	// ErrRecording is returned by Start while a recording is in progress.
	ErrRecording = errors.New("recorder: already recording")

	// ErrInvalidLimit is returned by New for a limit outside [MinLimit, MaxLimit].
	ErrInvalidLimit = errors.New("recorder: limit out of range")
)

// Option configures a [Recorder].
type Option func(*Recorder)

// WithLimit sets the safety auto-stop duration.
func WithLimit(d time.Duration) Option {
	return func(r *Recorder) { r.limit = d }
}

// WithFormat sets the format clips are recorded in. Defaults to 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(r *Recorder) { r.format = f }
}

// WithLanguage sets the BCP-47 language passed to the transcriber.
func WithLanguage(lang string) Option {
	return func(r *Recorder) { r.language = lang }
}

// WithOnAutoStop registers fn to receive the clip of a recording ended by the
// safety timer.
func WithOnAutoStop(fn func(stt.Clip)) Option {
	return func(r *Recorder) { r.onAutoStop = fn }
}

// WithMetrics records transcription latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder records PCM from a shared [audio.Source].
type Recorder struct {
	src         audio.Source
	transcriber stt.Transcriber
	format      audio.Format
	limit       time.Duration
	language    string
	onAutoStop  func(stt.Clip)
	metrics     *observe.Metrics

	mu  sync.Mutex
	cur *take
}

// take is one recording.
type take struct {
	unsubscribe func()
	timer       *time.Timer
	done        chan struct{}
	buf         bytes.Buffer
	started     time.Time
}

// New returns a Recorder reading from src. transcriber may be nil, in which
// case [Recorder.Transcribe] fails with [voice.ErrRecognitionUnavailable].
func New(src audio.Source, transcriber stt.Transcriber, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		src:         src,
		transcriber: transcriber,
		format:      audio.Format{SampleRate: 16000, Channels: 1},
		limit:       DefaultLimit,
	}
	for _, o := range opts {
		o(r)
	}
	if r.limit < MinLimit || r.limit > MaxLimit {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLimit, r.limit)
	}
	return r, nil
}

// Start begins a recording.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return ErrRecording
	}
	frames, unsubscribe := r.src.Subscribe(64)
	t := &take{unsubscribe: unsubscribe, done: make(chan struct{}), started: time.Now()}
	r.cur = t

	go r.collect(t, frames)
	t.timer = time.AfterFunc(r.limit, func() { r.autoStop(t) })
	return nil
}

func (r *Recorder) collect(t *take, frames <-chan audio.AudioFrame) {
	defer close(t.done)
	conv := audio.FormatConverter{Target: r.format}
	for f := range frames {
		c := conv.Convert(f)
		if len(c.Data) == 0 {
			continue
		}
		r.mu.Lock()
		t.buf.Write(c.Data)
		r.mu.Unlock()
	}
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Stop ends the recording and returns its clip. ok is false when nothing was
// recording; calling Stop twice is safe.
func (r *Recorder) Stop() (clip stt.Clip, ok bool) {
	r.mu.Lock()
	t := r.cur
	r.cur = nil
	r.mu.Unlock()
	if t == nil {
		return stt.Clip{}, false
	}
	return r.finish(t), true
}

func (r *Recorder) finish(t *take) stt.Clip {
	t.timer.Stop()
	t.unsubscribe()
	<-t.done

	r.mu.Lock()
	pcm := bytes.Clone(t.buf.Bytes())
	r.mu.Unlock()
	return stt.Clip{PCM: pcm, Format: r.format}
}

func (r *Recorder) autoStop(t *take) {
	r.mu.Lock()
	if r.cur != t {
		r.mu.Unlock()
		return
	}
	r.cur = nil
	r.mu.Unlock()

	clip := r.finish(t)
	observe.Logger(context.Background()).Info("recorder: safety limit reached",
		"limit", r.limit,
		"duration", clip.Duration(),
	)
	if r.onAutoStop != nil {
		r.onAutoStop(clip)
	}
}

// Transcribe converts clip to text. An empty clip or an empty transcription
// yields [voice.ErrNoSpeechDetected].
func (r *Recorder) Transcribe(ctx context.Context, clip stt.Clip) (string, error) {
	if r.transcriber == nil {
		return "", voice.ErrRecognitionUnavailable
	}
	if len(clip.PCM) == 0 {
		return "", voice.ErrNoSpeechDetected
	}

	ctx, span := observe.StartSpan(ctx, "recorder.transcribe")
	defer span.End()

	start := time.Now()
	text, err := r.transcriber.Transcribe(ctx, clip, r.language)
	if r.metrics != nil {
		r.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("recorder: transcribe: %w", voice.FromRecognition(err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", voice.ErrNoSpeechDetected
	}
	return text, nil
}
