// Package mock provides in-memory implementations of [audio.Device],
// [audio.Stream] and [audio.Sink] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1}, 8)
//	dev := &mock.Device{OpenResult: stream}
//	stream.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadence/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is returned by Open when OpenErr is nil. When nil, Open
	// creates a fresh Stream in the requested format.
	OpenResult *Stream

	// OpenErr is returned by Open.
	OpenErr error

	// OpenCalls records the requested formats.
	OpenCalls []audio.Format

	// LastStream is the stream handed out by the most recent successful Open.
	LastStream *Stream
}

var _ audio.Device = (*Device)(nil)

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, want audio.Format) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, want)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := d.OpenResult
	if s == nil {
		s = NewStream(want, 64)
	}
	d.LastStream = s
	return s, nil
}

// OpenCount returns how many times Open was called.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by [Stream.Push].
type Stream struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.AudioFrame
	closed bool

	// CloseCount records how many times Close was called.
	CloseCount int
}

var _ audio.Stream = (*Stream)(nil)

// NewStream returns an open stream with the given channel buffer.
func NewStream(f audio.Format, buffer int) *Stream {
	return &Stream{format: f, frames: make(chan audio.AudioFrame, buffer)}
}

// Push delivers a frame to the consumer. Returns false once the stream is
// closed or the buffer is full.
func (s *Stream) Push(frame audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// End closes the frame channel as if the device went away.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.mu.Unlock()
	s.End()
	return nil
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that collects played PCM.
type Sink struct {
	mu sync.Mutex

	// PlayErr is returned by Play after the input has been drained.
	PlayErr error

	// Block makes Play wait for ctx cancellation after draining the input,
	// simulating a speaker that never reports completion.
	Block bool

	// Played holds every chunk received, in order.
	Played [][]byte

	// Formats records the format passed to each Play call.
	Formats []audio.Format
}

var _ audio.Sink = (*Sink)(nil)

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm <-chan []byte, f audio.Format) error {
	s.mu.Lock()
	s.Formats = append(s.Formats, f)
	block, err := s.Block, s.PlayErr
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				if block {
					<-ctx.Done()
					return ctx.Err()
				}
				return err
			}
			s.mu.Lock()
			s.Played = append(s.Played, chunk)
			s.mu.Unlock()
		}
	}
}

// PlayCount returns how many times Play was called.
func (s *Sink) PlayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Formats)
}

// Bytes returns the total number of PCM bytes played.
func (s *Sink) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Played {
		n += len(c)
	}
	return n
}
