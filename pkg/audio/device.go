// Package audio defines the audio plumbing shared by the voice core and its
// hosts: PCM frames and formats, microphone devices, speaker sinks, and the
// fan-out that lets several consumers share one acquired microphone.
//
// Concrete devices live in sub-packages: wsaudio carries a browser microphone
// and speaker over a websocket, portaudio drives the local sound card.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned by [Device.Open] when the user or the
	// operating system refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned by [Device.Open] when no input device
	// exists or it cannot be opened.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrClosed is returned by operations on a closed stream or sink.
	ErrClosed = errors.New("audio: closed")
)

// Device is a microphone that can be opened once per voice session.
type Device interface {
	// Open acquires the microphone and starts capturing in a format as close to
	// want as the device allows. Implementations should report refusals with
	// [ErrPermissionDenied] and missing hardware with [ErrDeviceUnavailable].
	Open(ctx context.Context, want Format) (Stream, error)
}

// Stream is an acquired microphone.
type Stream interface {
	// Frames yields captured PCM. The channel is closed when the stream ends,
	// either through Close or because the device went away.
	Frames() <-chan AudioFrame

	// Format reports the actual capture format.
	Format() Format

	// Close releases the microphone. Safe to call more than once.
	Close() error
}

// Source hands out independent subscriptions to one captured stream.
type Source interface {
	// Subscribe returns a channel carrying every frame captured from now on
	// and a function that ends the subscription. The channel is closed when
	// the subscription ends or the underlying stream stops.
	Subscribe(buffer int) (<-chan AudioFrame, func())
}

// Sink plays PCM to a speaker.
type Sink interface {
	// Play writes every chunk received from pcm to the speaker and returns
	// once pcm is closed and playback has finished, or ctx is cancelled.
	// Chunks are 16-bit little-endian PCM in format f.
	Play(ctx context.Context, pcm <-chan []byte, f Format) error
}
