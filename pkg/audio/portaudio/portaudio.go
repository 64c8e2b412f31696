//go:build portaudio

// Package portaudio drives the local sound card through PortAudio. It backs
// the "cadence talk" command.
//
// Call [Initialize] before opening devices and [Terminate] when done.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/cadence/pkg/audio"
)

// frameDuration is the capture buffer length.
const frameDuration = 20 * time.Millisecond

// Initialize prepares the PortAudio library.
func Initialize() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	return pa.Terminate()
}

// Device is the default input device.
type Device struct{}

var _ audio.Device = Device{}

// Open implements [audio.Device].
func (Device) Open(_ context.Context, want audio.Format) (audio.Stream, error) {
	if _, err := pa.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	f := want
	if f.Channels <= 0 {
		f.Channels = 1
	}
	buf := make([]int16, f.SampleRate*f.Channels*int(frameDuration/time.Millisecond)/1000)
	st, err := pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), len(buf)/f.Channels, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}

	s := &stream{st: st, buf: buf, format: f, frames: make(chan audio.AudioFrame, 32), done: make(chan struct{})}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

type stream struct {
	st     *pa.Stream
	buf    []int16
	format audio.Format
	frames chan audio.AudioFrame
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	var elapsed time.Duration
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.st.Read(); err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("portaudio: read failed, ending capture", "err", err)
			}
			return
		}
		data := audio.EncodePCM(s.buf)
		frame := audio.AudioFrame{Data: data, SampleRate: s.format.SampleRate, Channels: s.format.Channels, Timestamp: elapsed}
		elapsed += s.format.Duration(len(data))
		select {
		case s.frames <- frame:
		default:
		}
	}
}

func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }
func (s *stream) Format() audio.Format            { return s.format }

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if e := s.st.Stop(); e != nil {
			err = fmt.Errorf("portaudio: stop: %w", e)
		}
		s.wg.Wait()
		if e := s.st.Close(); e != nil && err == nil {
			err = fmt.Errorf("portaudio: close: %w", e)
		}
	})
	return err
}

// Speaker plays PCM on the default output device.
type Speaker struct{}

var _ audio.Sink = Speaker{}

// Play implements [audio.Sink].
func (Speaker) Play(ctx context.Context, pcm <-chan []byte, f audio.Format) error {
	out := make([]int16, f.SampleRate*f.Channels*80/1000)
	st, err := pa.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), len(out)/f.Channels, out)
	if err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("portaudio: open output: %w", err)
	}
	defer st.Close()
	if err := st.Start(); err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("portaudio: start output: %w", err)
	}
	defer st.Stop()

	var pending []byte
	flush := func(final bool) error {
		for len(pending) >= len(out)*2 || (final && len(pending) > 0) {
			n := min(len(pending)/2, len(out))
			copy(out, audio.DecodePCM(pending[:n*2]))
			clear(out[n:])
			if err := st.Write(); err != nil {
				return fmt.Errorf("portaudio: write: %w", err)
			}
			pending = pending[n*2:]
			if n*2 == 0 {
				pending = nil
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				return flush(true)
			}
			pending = append(pending, chunk...)
			if err := flush(false); err != nil {
				go audio.Drain(pcm)
				return err
			}
		}
	}
}
