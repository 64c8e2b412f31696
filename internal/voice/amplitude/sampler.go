// Package amplitude samples microphone loudness for the visualizer.
//
// A [Sampler] owns the microphone for a voice session: it opens the device
// once and fans the captured frames out, so speech capture and the dictation
// recorder subscribe to it instead of opening the device again.
package amplitude

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/cadence/internal/voice"
	"github.com/MrWong99/cadence/pkg/audio"
)

// DefaultFrameRate is the number of analysis frames per second.
const DefaultFrameRate = 60

// Option configures a [Sampler].
type Option func(*Sampler)

// WithFrameRate sets the analysis frame rate. Non-positive values are ignored.
func WithFrameRate(fps int) Option {
	return func(s *Sampler) {
		if fps > 0 {
			s.frameRate = fps
		}
	}
}

// WithFormat sets the capture format requested from the device.
func WithFormat(f audio.Format) Option {
	return func(s *Sampler) { s.format = f }
}

// Sampler computes a loudness value in [0, 255] once per animation frame.
// All methods are safe for concurrent use.
type Sampler struct {
	device    audio.Device
	format    audio.Format
	frameRate int

	mu      sync.Mutex
	run     *run
	active  bool
	samples []float64 // ring of the latest WindowSize samples
	pos     int
	value   float64
	onFrame []func(float64)
}

// run is one acquisition of the microphone, from Start to Stop.
type run struct {
	stream audio.Stream
	fanout *audio.Fanout
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ audio.Source = (*Sampler)(nil)

// New returns an inactive sampler for device.
func New(device audio.Device, opts ...Option) *Sampler {
	s := &Sampler{
		device:    device,
		format:    audio.Format{SampleRate: 16000, Channels: 1},
		frameRate: DefaultFrameRate,
		samples:   make([]float64, WindowSize),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start acquires the microphone and begins sampling. Calling Start while the
// microphone is held is a no-op. On failure the sampler stays inactive and
// the error is [voice.ErrPermissionDenied] or [voice.ErrDeviceUnavailable].
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return nil
	}

	stream, err := s.device.Open(ctx, s.format)
	if err != nil {
		return voice.FromDevice(err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{stream: stream, fanout: audio.NewFanout(stream.Frames()), cancel: cancel}
	s.run = r
	s.active = true
	clear(s.samples)
	s.pos, s.value = 0, 0

	frames, unsubscribe := r.fanout.Subscribe(64)
	r.wg.Add(2)
	go s.collect(r, frames, unsubscribe)
	go s.tick(runCtx, r)

	slog.Debug("amplitude: microphone acquired", "format", stream.Format().String(), "fps", s.frameRate)
	return nil
}

// collect keeps the analysis window filled with the latest mono samples.
func (s *Sampler) collect(r *run, frames <-chan audio.AudioFrame, unsubscribe func()) {
	defer r.wg.Done()
	defer unsubscribe()
	for frame := range frames {
		pcm := audio.DecodePCM(frame.Data)
		ch := max(frame.Channels, 1)
		s.mu.Lock()
		for i := 0; i+ch <= len(pcm); i += ch {
			var sum float64
			for c := range ch {
				sum += audio.Float(pcm[i+c])
			}
			s.samples[s.pos] = sum / float64(ch)
			s.pos = (s.pos + 1) % WindowSize
		}
		s.mu.Unlock()
	}
	// The device went away: no more fresh data.
	s.mu.Lock()
	if s.run == r {
		s.active = false
	}
	s.mu.Unlock()
}

func (s *Sampler) tick(ctx context.Context, r *run) {
	defer r.wg.Done()
	an := newAnalyzer()
	window := make([]float64, WindowSize)
	t := time.NewTicker(time.Second / time.Duration(s.frameRate))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		s.mu.Lock()
		if s.run != r || !s.active {
			s.mu.Unlock()
			return
		}
		// Oldest sample first.
		n := copy(window, s.samples[s.pos:])
		copy(window[n:], s.samples[:s.pos])
		s.mu.Unlock()

		v := an.level(window)

		s.mu.Lock()
		s.value = v
		consumers := slices.Clone(s.onFrame)
		s.mu.Unlock()
		for _, fn := range consumers {
			fn(v)
		}
	}
}

// Sample returns the loudness of the latest animation frame. ok is false
// while the sampler is inactive.
func (s *Sampler) Sample() (value float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0, false
	}
	return s.value, true
}

// Active reports whether the microphone is held.
func (s *Sampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// OnFrame registers fn to receive every computed value. fn runs on the
// sampling goroutine and must not block.
func (s *Sampler) OnFrame(fn func(float64)) {
	s.mu.Lock()
	s.onFrame = append(s.onFrame, fn)
	s.mu.Unlock()
}

// Subscribe implements [audio.Source] over the acquired microphone. Before
// Start or after Stop the returned channel is already closed.
func (s *Sampler) Subscribe(buffer int) (<-chan audio.AudioFrame, func()) {
	s.mu.Lock()
	var f *audio.Fanout
	if s.run != nil {
		f = s.run.fanout
	}
	s.mu.Unlock()
	if f == nil {
		ch := make(chan audio.AudioFrame)
		close(ch)
		return ch, func() {}
	}
	return f.Subscribe(buffer)
}

// Stop releases the microphone immediately. It is idempotent and safe on a
// sampler that was never started or failed to start. A stopped sampler may be
// started again.
func (s *Sampler) Stop() {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.active = false
	s.mu.Unlock()
	if r == nil {
		return
	}

	r.cancel()
	if err := r.stream.Close(); err != nil {
		slog.Warn("amplitude: close microphone", "err", err)
	}
	r.fanout.Close()
	r.wg.Wait()
}
