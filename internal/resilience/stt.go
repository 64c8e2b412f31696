package resilience

import (
	"context"

	"github.com/MrWong99/cadence/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] on top of a [FallbackGroup]. Only
// session start-up fails over; a session that dies midway ends the current
// listening turn and the next StartStream picks a backend again.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Statuses reports the breaker state of each backend.
func (f *STTFallback) Statuses() []Status { return f.group.Statuses() }

// StartStream opens a session against the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// TranscriberFallback implements [stt.Transcriber] on top of a
// [FallbackGroup]. A clip is retried in full against each backend.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback].
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Statuses reports the breaker state of each backend.
func (f *TranscriberFallback) Statuses() []Status { return f.group.Statuses() }

// Transcribe returns the text of the first backend that succeeds.
func (f *TranscriberFallback) Transcribe(ctx context.Context, clip stt.Clip, language string) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, clip, language)
	})
}
