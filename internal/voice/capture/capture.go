// Package capture wraps continuous speech recognition for a voice session.
//
// A [Controller] starts and stops recognition over a shared microphone
// source, accumulates interim and final results into the full utterance
// text, and signals when the user has stopped talking for a quiet period.
// When the engine ends on its own the controller restarts it, but only while
// listening is still wanted, playback is not suppressing the microphone, and
// the restart guard allows it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/voice"
	"github.com/MrWong99/cadence/pkg/audio"
)

const (
	// DefaultQuietPeriod is how long the transcript must stay unchanged
	// before the utterance counts as settled.
	DefaultQuietPeriod = 1500 * time.Millisecond

	// DefaultRestartLimit bounds consecutive failed automatic restarts.
	DefaultRestartLimit = 5

	defaultRestartDelay = 250 * time.Millisecond
	frameBuffer         = 64
)

// ErrSuppressed is returned by StartListening while playback holds the
// floor.
var ErrSuppressed = errors.New("capture: suppressed during playback")

// Option configures a [Controller].
type Option func(*Controller)

// WithQuietPeriod sets the debounce quiet period.
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.quiet = d
		}
	}
}

// WithRestartLimit sets how many consecutive failed restarts are tolerated
// before listening is abandoned.
func WithRestartLimit(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.restartLimit = n
		}
	}
}

// WithRestartDelay sets the pause before an automatic restart.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.restartDelay = d
		}
	}
}

// WithMetrics records restarts and session durations.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the speech capture controller. All methods are safe for
// concurrent use; callbacks are invoked without internal locks held, in the
// order the engine produced the results.
type Controller struct {
	engine       Engine
	src          audio.Source
	quiet        time.Duration
	restartLimit int
	restartDelay time.Duration
	metrics      *observe.Metrics
	debounced    func(func())

	mu         sync.Mutex
	wanted     bool
	suppressed bool
	run        *run
	finals     []string
	interim    string
	lastResult time.Time
	gen        uint64 // bumped on every transcript change, reset and stop
	settledGen uint64
	failures   int
	guard      func() bool
	onText     func(string)
	onSettled  func(string)
	onError    func(error)
}

// run is one recognition session together with its audio subscription.
type run struct {
	rec         Recognition
	unsubscribe func()
	started     time.Time
	gotResult   bool
}

// New returns a controller that recognises speech from src with engine. A
// nil engine means no recognition is available: [Controller.Available]
// reports false and StartListening fails with
// [voice.ErrRecognitionUnavailable].
func New(engine Engine, src audio.Source, opts ...Option) *Controller {
	c := &Controller{
		engine:       engine,
		src:          src,
		quiet:        DefaultQuietPeriod,
		restartLimit: DefaultRestartLimit,
		restartDelay: defaultRestartDelay,
	}
	for _, o := range opts {
		o(c)
	}
	c.debounced = debounce.New(c.quiet)
	return c
}

// Available reports whether a recognition engine is configured.
func (c *Controller) Available() bool { return c.engine != nil }

// OnTranscript registers the callback receiving the full accumulated text on
// every result.
func (c *Controller) OnTranscript(fn func(text string)) {
	c.mu.Lock()
	c.onText = fn
	c.mu.Unlock()
}

// OnUtteranceSettled registers the callback fired once per utterance after
// the quiet period.
func (c *Controller) OnUtteranceSettled(fn func(text string)) {
	c.mu.Lock()
	c.onSettled = fn
	c.mu.Unlock()
}

// OnError registers the callback receiving recognition errors.
func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// SetRestartGuard installs the predicate consulted before every automatic
// restart.
func (c *Controller) SetRestartGuard(fn func() bool) {
	c.mu.Lock()
	c.guard = fn
	c.mu.Unlock()
}

// StartListening starts continuous recognition. It is a no-op when already
// listening.
func (c *Controller) StartListening(ctx context.Context) error {
	if c.engine == nil {
		return voice.ErrRecognitionUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suppressed {
		return ErrSuppressed
	}
	if c.run != nil {
		c.wanted = true
		return nil
	}
	if err := c.startLocked(ctx); err != nil {
		return err
	}
	c.wanted = true
	c.failures = 0
	return nil
}

func (c *Controller) startLocked(ctx context.Context) error {
	frames, unsubscribe := c.src.Subscribe(frameBuffer)
	rec, err := c.engine.Start(context.WithoutCancel(ctx), frames)
	if err != nil {
		unsubscribe()
		return voice.FromRecognition(err)
	}
	r := &run{rec: rec, unsubscribe: unsubscribe, started: time.Now()}
	c.run = r
	go c.watch(r)
	return nil
}

// StopListening stops recognition deliberately; the engine is not
// restarted. Idempotent.
func (c *Controller) StopListening() {
	c.mu.Lock()
	c.wanted = false
	c.gen++
	r := c.detachLocked()
	c.mu.Unlock()
	stopRun(r)
}

// detachLocked makes the current run stale so its end is not treated as
// unexpected.
func (c *Controller) detachLocked() *run {
	r := c.run
	c.run = nil
	return r
}

// stopRun detaches r from the microphone at once and stops the recognition
// in the background. Engines may flush buffered speech on Stop; the run is
// already stale, so nothing it still produces is used and the caller does
// not wait for it.
func stopRun(r *run) {
	if r == nil {
		return
	}
	r.unsubscribe()
	go r.rec.Stop()
}

// Listening reports whether a recognition session is running.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Suppress blocks (true) or re-allows (false) the microphone for playback.
// Suppressing stops any running recognition and any pending settle signal.
// Lifting the suppression does not restart recognition by itself.
func (c *Controller) Suppress(on bool) {
	c.mu.Lock()
	c.suppressed = on
	var r *run
	if on {
		c.gen++
		r = c.detachLocked()
	}
	c.mu.Unlock()
	stopRun(r)
}

// Transcript returns the accumulated text without trimming.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textLocked()
}

// LastResultAt returns when the latest result arrived.
func (c *Controller) LastResultAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

func (c *Controller) textLocked() string {
	parts := c.finals
	if c.interim != "" {
		parts = append(parts[:len(parts):len(parts)], c.interim)
	}
	return strings.Join(parts, " ")
}

// Submit returns the trimmed transcript and cancels any pending settle
// signal. An empty or whitespace-only transcript yields
// [voice.ErrNoSpeechDetected].
func (c *Controller) Submit() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	text := strings.TrimSpace(c.textLocked())
	if text == "" {
		return "", voice.ErrNoSpeechDetected
	}
	return text, nil
}

// Reset clears the transcript so residual audio is not mistaken for new
// input.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.finals = nil
	c.interim = ""
	c.gen++
	c.mu.Unlock()
}

// watch consumes one recognition session and decides what happens when it
// ends.
func (c *Controller) watch(r *run) {
	for res := range r.rec.Results() {
		c.handleResult(r, res)
	}
	err := r.rec.Err()
	r.unsubscribe()

	if c.metrics != nil {
		c.metrics.STTDuration.Record(context.Background(), time.Since(r.started).Seconds())
	}

	c.mu.Lock()
	if c.run != r {
		// Deliberately stopped or superseded.
		c.mu.Unlock()
		return
	}
	c.run = nil
	onError := c.onError

	var mapped error
	if err != nil {
		mapped = voice.FromRecognition(err)
		if !r.gotResult {
			c.failures++
		}
	}
	if voice.Terminal(mapped) {
		c.wanted = false
		c.mu.Unlock()
		slog.Warn("capture: recognition ended", "err", mapped)
		if onError != nil {
			onError(mapped)
		}
		return
	}
	if c.failures > c.restartLimit {
		c.wanted = false
		c.mu.Unlock()
		giveUp := fmt.Errorf("capture: giving up after %d failed restarts: %w", c.restartLimit, mapped)
		slog.Warn("capture: restart limit reached", "err", giveUp)
		if onError != nil {
			onError(giveUp)
		}
		return
	}
	c.mu.Unlock()

	if mapped != nil && onError != nil {
		onError(mapped)
	}
	c.restart()
}

// restart starts a new session after the restart delay if listening is still
// wanted, not suppressed and the guard allows it.
func (c *Controller) restart() {
	if c.restartDelay > 0 {
		time.Sleep(c.restartDelay)
	}

	c.mu.Lock()
	if !c.wanted || c.suppressed || c.run != nil || (c.guard != nil && !c.guard()) {
		c.mu.Unlock()
		return
	}
	err := c.startLocked(context.Background())
	var onError func(error)
	if err != nil {
		c.failures++
		if voice.Terminal(err) || c.failures > c.restartLimit {
			c.wanted = false
		}
		onError = c.onError
	}
	wanted := c.wanted
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecognitionRestarts.Add(context.Background(), 1)
	}
	if err == nil {
		slog.Debug("capture: recognition restarted")
		return
	}
	slog.Warn("capture: restart failed", "err", err)
	if onError != nil {
		onError(err)
	}
	if wanted {
		go c.restart()
	}
}

func (c *Controller) handleResult(r *run, res Result) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	r.gotResult = true
	c.failures = 0
	c.lastResult = time.Now()
	if res.IsFinal {
		if t := strings.TrimSpace(res.Text); t != "" {
			c.finals = append(c.finals, t)
		}
		c.interim = ""
	} else {
		c.interim = strings.TrimSpace(res.Text)
	}
	c.gen++
	gen := c.gen
	text := c.textLocked()
	onText := c.onText
	c.mu.Unlock()

	if onText != nil {
		onText(text)
	}
	if strings.TrimSpace(text) != "" {
		c.debounced(func() { c.settle(gen) })
	}
}

// settle fires the settled callback if nothing changed since gen.
func (c *Controller) settle(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.settledGen == gen || !c.wanted || c.suppressed {
		c.mu.Unlock()
		return
	}
	text := strings.TrimSpace(c.textLocked())
	if text == "" {
		c.mu.Unlock()
		return
	}
	c.settledGen = gen
	fn := c.onSettled
	c.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}
