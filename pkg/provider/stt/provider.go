// Package stt defines the speech-to-text abstractions used by the voice core.
//
// Two shapes are supported:
//
//   - [Provider] opens a streaming session that accepts PCM while the user
//     speaks and emits interim and final [Transcript] values in order. Speech
//     capture is built on it.
//   - [Transcriber] turns a finished recording into text in one request. The
//     dictation recorder uses it, and package batch adapts any Transcriber
//     into a streaming Provider.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized reports that the service rejected the credentials or the
	// caller is not allowed to use recognition.
	ErrUnauthorized = errors.New("stt: not authorized")

	// ErrNetwork reports a transport failure talking to the service.
	ErrNetwork = errors.New("stt: network error")

	// ErrSessionClosed is returned by SendAudio after Close.
	ErrSessionClosed = errors.New("stt: session closed")
)

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is what most services
	// are tuned for.
	SampleRate int

	// Channels is the number of interleaved channels, normally 1.
	Channels int

	// Language is the BCP-47 tag for recognition (e.g. "en-US"). Empty lets the
	// provider auto-detect where supported.
	Language string

	// Keywords are vocabulary hints such as the user's goal names.
	Keywords []string
}

// SessionHandle is an open streaming recognition session.
//
// Callers must call Close when done. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers raw PCM matching the session's StreamConfig.
	// Returns [ErrSessionClosed] after Close.
	SendAudio(chunk []byte) error

	// Transcripts yields interim and final results in the order the service
	// produced them. The channel is closed when the session ends, whether
	// through Close or because the service ended it.
	Transcripts() <-chan Transcript

	// Err reports why the session ended. It is only meaningful once
	// Transcripts has been closed and is nil for a clean end.
	Err() error

	// Close ends the session and releases its resources. Safe to call more
	// than once.
	Close() error
}

// Provider is a streaming speech-to-text backend.
type Provider interface {
	// StartStream opens a new session ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
