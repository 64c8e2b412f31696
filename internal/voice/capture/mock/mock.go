// Package mock provides test doubles for capture.Engine and
// capture.Recognition.
//
// Engine hands out a fresh Recognition per Start call; tests drive each one
// with Emit and End:
//
//	eng := &mock.Engine{}
//	ctrl := capture.New(eng, src)
//	_ = ctrl.StartListening(ctx)
//	eng.Last().Emit("hello", true)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/cadence/internal/voice/capture"
	"github.com/MrWong99/cadence/pkg/audio"
)

// Engine is a mock implementation of capture.Engine.
type Engine struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by every Start call.
	StartErr error

	// FailAfter, when positive, makes every Start call after the first
	// FailAfter calls return StartErr. Zero applies StartErr to all calls.
	FailAfter int

	// StopDelay makes Stop on every recognition block this long, like an
	// engine that flushes buffered speech before it ends.
	StopDelay time.Duration

	// Recognitions lists every recognition handed out, in order.
	Recognitions []*Recognition

	calls int
}

var _ capture.Engine = (*Engine)(nil)

// Start implements capture.Engine.
func (e *Engine) Start(_ context.Context, frames <-chan audio.AudioFrame) (capture.Recognition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.StartErr != nil && (e.FailAfter == 0 || e.calls > e.FailAfter) {
		return nil, e.StartErr
	}
	r := &Recognition{results: make(chan capture.Result, 32), Frames: frames, stopDelay: e.StopDelay}
	e.Recognitions = append(e.Recognitions, r)
	return r, nil
}

// StartCount returns the number of Start calls, failed ones included.
func (e *Engine) StartCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Last returns the most recent recognition or nil.
func (e *Engine) Last() *Recognition {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Recognitions) == 0 {
		return nil
	}
	return e.Recognitions[len(e.Recognitions)-1]
}

// Recognition is a mock capture.Recognition.
type Recognition struct {
	mu      sync.Mutex
	results chan capture.Result
	err     error
	ended   bool
	stopped bool

	stopDelay time.Duration

	// Frames is the audio subscription the engine was started with.
	Frames <-chan audio.AudioFrame
}

// Emit delivers a result. No-op after the recognition ended.
func (r *Recognition) Emit(text string, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.results <- capture.Result{Text: text, IsFinal: final}
}

// End ends the recognition as the engine would, with err as the reason.
func (r *Recognition) End(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.ended = true
	r.err = err
	close(r.results)
}

// Results implements capture.Recognition.
func (r *Recognition) Results() <-chan capture.Result { return r.results }

// Err implements capture.Recognition.
func (r *Recognition) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop implements capture.Recognition.
func (r *Recognition) Stop() {
	time.Sleep(r.stopDelay)
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.End(nil)
}

// Stopped reports whether Stop was called.
func (r *Recognition) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Ended reports whether the recognition has ended for any reason.
func (r *Recognition) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}
