// Package turn implements the turn-taking state machine of a voice session.
//
// The [Coordinator] binds speech capture and playback together so that the
// microphone and the speaker are never active at the same time:
//
//	Idle ──Start──▶ Listening ──settled/Submit──▶ Processing ──reply──▶ Speaking
//	                    ▲                              │                   │
//	                    └──────── failure/timeout ─────┘                   │
//	                    └──────────────── playback finished ───────────────┘
//
// Every input (caller requests, capture callbacks, generator results, timers
// and playback completion) is queued onto a single event-loop goroutine, so
// transitions never interleave.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/voice"
	"github.com/MrWong99/cadence/pkg/types"
)

const (
	// DefaultProcessingTimeout bounds how long Processing waits for the
	// generator.
	DefaultProcessingTimeout = 15 * time.Second

	// DefaultMaxHistory is the number of messages kept in memory.
	DefaultMaxHistory = 40
)

// ErrClosed is returned by calls on a closed coordinator.
var ErrClosed = errors.New("turn: coordinator closed")

// Generator produces the coach's reply to an utterance.
type Generator interface {
	Generate(ctx context.Context, utterance string, history []types.Message) (string, error)
}

// GeneratorFunc adapts a function to [Generator].
type GeneratorFunc func(ctx context.Context, utterance string, history []types.Message) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, utterance string, history []types.Message) (string, error) {
	return f(ctx, utterance, history)
}

// Microphone is the shared microphone handle, implemented by
// *amplitude.Sampler.
type Microphone interface {
	Start(ctx context.Context) error
	Stop()
}

// Listener is speech capture, implemented by *capture.Controller.
type Listener interface {
	Available() bool
	StartListening(ctx context.Context) error
	StopListening()
	Suppress(on bool)
	Reset()
	Submit() (string, error)
	OnTranscript(fn func(text string))
	OnUtteranceSettled(fn func(text string))
	OnError(fn func(error))
	SetRestartGuard(fn func() bool)
}

// Speaker is speech playback, implemented by *playback.Controller.
type Speaker interface {
	Speak(text string, onComplete func(error))
	Cancel()
}

// Hooks receive session events. They run on the event loop and must not
// call blocking Coordinator methods.
type Hooks struct {
	OnState      func(from, to State)
	OnTranscript func(text string)
	OnUtterance  func(text string)
	OnReply      func(text string)
	OnError      func(err error)
	// OnExchange runs after a reply was generated, with the user and
	// assistant messages that were appended to the history.
	OnExchange func(user, assistant types.Message)
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithProcessingTimeout sets the Processing timeout.
func WithProcessingTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHistory seeds the conversation history, oldest first.
func WithHistory(h []types.Message) Option {
	return func(c *Coordinator) { c.history = append([]types.Message(nil), h...) }
}

// WithMaxHistory bounds the in-memory history.
func WithMaxHistory(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithHooks installs event hooks.
func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// WithMetrics records transitions, errors and turn latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator is the turn-taking state machine. Create it with [New] and
// release it with [Coordinator.Close].
type Coordinator struct {
	mic        Microphone
	listener   Listener
	speaker    Speaker
	gen        Generator
	timeout    time.Duration
	maxHistory int
	hooks      Hooks
	metrics    *observe.Metrics

	state  atomic.Int32
	events chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// Owned by the event loop.
	wanted      bool
	baseCtx     context.Context
	seq         uint64 // identifies the current turn; bumped to discard late results
	timer       *time.Timer
	submittedAt time.Time
	history     []types.Message
	// playing is closed once the current utterance's playback has fully
	// ended, including after a cancellation. Nil when nothing was spoken.
	playing chan struct{}
}

// New wires a coordinator and starts its event loop in Idle.
func New(mic Microphone, listener Listener, speaker Speaker, gen Generator, opts ...Option) *Coordinator {
	c := &Coordinator{
		mic:        mic,
		listener:   listener,
		speaker:    speaker,
		gen:        gen,
		timeout:    DefaultProcessingTimeout,
		maxHistory: DefaultMaxHistory,
		events:     make(chan func(), 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		baseCtx:    context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	c.trimHistory()

	listener.SetRestartGuard(func() bool { return c.State() == Listening })
	listener.OnTranscript(func(text string) { c.enqueue(func() { c.handleTranscript(text) }) })
	listener.OnUtteranceSettled(func(text string) { c.enqueue(func() { c.handleSettled(text) }) })
	listener.OnError(func(err error) { c.enqueue(func() { c.handleCaptureError(err) }) })

	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.quit:
			c.stop()
			close(c.done)
			return
		}
	}
}

func (c *Coordinator) enqueue(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the event loop and waits for its result.
func (c *Coordinator) do(fn func() error) error {
	res := make(chan error, 1)
	if !c.enqueue(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-c.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// State returns the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// History returns a copy of the conversation history.
func (c *Coordinator) History() []types.Message {
	var h []types.Message
	_ = c.do(func() error {
		h = append([]types.Message(nil), c.history...)
		return nil
	})
	return h
}

// ─── Caller requests ────────────────────────────────────────────────────────

// Start enters voice mode: it acquires the microphone and starts capture.
// Terminal failures are reported through OnError and returned; the
// coordinator then stays Idle. Calling Start outside Idle is a no-op. If a
// cancelled reply is still winding down, Start waits for the speaker to go
// quiet before it opens the microphone.
func (c *Coordinator) Start(ctx context.Context) error {
	for {
		var speaking <-chan struct{}
		err := c.do(func() error {
			if c.State() != Idle {
				return nil
			}
			if c.playing != nil {
				select {
				case <-c.playing:
					c.playing = nil
				default:
					speaking = c.playing
					return nil
				}
			}
			return c.start(ctx)
		})
		if speaking == nil {
			return err
		}
		select {
		case <-speaking:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}
}

func (c *Coordinator) start(ctx context.Context) error {
	if !c.listener.Available() {
		c.report(voice.ErrRecognitionUnavailable)
		return voice.ErrRecognitionUnavailable
	}
	if err := c.mic.Start(ctx); err != nil {
		c.report(err)
		return err
	}
	c.baseCtx = context.WithoutCancel(ctx)
	c.listener.Suppress(false)
	c.listener.Reset()
	if err := c.listener.StartListening(ctx); err != nil {
		c.mic.Stop()
		c.report(err)
		return err
	}
	c.wanted = true
	c.transition(Listening)
	return nil
}

// Submit submits the current transcript without waiting for the quiet
// period. Outside Listening it does nothing.
func (c *Coordinator) Submit() error {
	return c.do(func() error {
		if c.State() != Listening {
			return nil
		}
		text, err := c.listener.Submit()
		if err != nil {
			c.report(err)
			return err
		}
		c.process(text)
		return nil
	})
}

// Finish lets the current reply play out and then returns to Idle instead
// of listening again. In Listening or Idle it is equivalent to Stop.
func (c *Coordinator) Finish() error {
	return c.do(func() error {
		switch c.State() {
		case Processing, Speaking:
			c.wanted = false
		default:
			c.stop()
		}
		return nil
	})
}

// Stop leaves voice mode from any state. The coordinator can be started
// again.
func (c *Coordinator) Stop() error {
	return c.do(func() error {
		c.stop()
		return nil
	})
}

// Close stops voice mode and ends the event loop. It is idempotent.
func (c *Coordinator) Close() error {
	c.once.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

// ─── Event handlers (event loop only) ───────────────────────────────────────

func (c *Coordinator) handleTranscript(text string) {
	if c.State() != Listening {
		return
	}
	if c.hooks.OnTranscript != nil {
		c.hooks.OnTranscript(text)
	}
}

func (c *Coordinator) handleSettled(text string) {
	if c.State() != Listening {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.report(voice.ErrNoSpeechDetected)
		return
	}
	c.process(text)
}

func (c *Coordinator) handleCaptureError(err error) {
	if c.State() == Idle {
		return
	}
	c.report(err)
	if voice.Terminal(err) {
		c.stop()
	}
}

// process moves Listening → Processing and asks the generator for a reply.
func (c *Coordinator) process(text string) {
	c.listener.StopListening()
	c.seq++
	seq := c.seq
	c.submittedAt = time.Now()
	c.transition(Processing)
	if c.hooks.OnUtterance != nil {
		c.hooks.OnUtterance(text)
	}

	c.timer = time.AfterFunc(c.timeout, func() {
		c.enqueue(func() { c.handleTimeout(seq) })
	})

	history := append([]types.Message(nil), c.history...)
	ctx := c.baseCtx
	go func() {
		reply, err := c.gen.Generate(ctx, text, history)
		c.enqueue(func() { c.handleReply(seq, text, reply, err) })
	}()
}

func (c *Coordinator) handleTimeout(seq uint64) {
	if c.State() != Processing || c.seq != seq {
		return
	}
	c.seq++
	c.timer = nil
	c.report(voice.ErrResponseTimeout)
	c.resume()
}

func (c *Coordinator) handleReply(seq uint64, utterance, reply string, err error) {
	if c.State() != Processing || c.seq != seq {
		slog.Debug("turn: discarding late reply", "seq", seq, "err", err)
		return
	}
	c.clearTimer()

	reply = strings.TrimSpace(reply)
	if err == nil && reply == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		c.report(fmt.Errorf("%w: %w", voice.ErrResponseGenerator, err))
		c.resume()
		return
	}

	user, assistant := types.UserMessage(utterance), types.AssistantMessage(reply)
	c.history = append(c.history, user, assistant)
	c.trimHistory()
	if c.hooks.OnExchange != nil {
		c.hooks.OnExchange(user, assistant)
	}
	if c.hooks.OnReply != nil {
		c.hooks.OnReply(reply)
	}

	c.listener.Suppress(true)
	c.transition(Speaking)
	if c.metrics != nil {
		c.metrics.TurnLatency.Record(c.baseCtx, time.Since(c.submittedAt).Seconds())
	}
	played := make(chan struct{})
	c.playing = played
	c.speaker.Speak(reply, func(err error) {
		close(played)
		c.enqueue(func() { c.handleSpoken(seq, err) })
	})
}

func (c *Coordinator) handleSpoken(seq uint64, err error) {
	if c.State() != Speaking || c.seq != seq {
		return
	}
	if err != nil {
		c.report(err)
	}
	if !c.wanted {
		c.stop()
		return
	}
	c.resume()
}

// resume returns to Listening with a fresh transcript.
func (c *Coordinator) resume() {
	c.listener.Suppress(false)
	c.listener.Reset()
	c.transition(Listening)
	if err := c.listener.StartListening(c.baseCtx); err != nil {
		c.report(err)
		if voice.Terminal(err) {
			c.stop()
		}
	}
}

// stop stops capture, cancels playback, clears the timer and releases the
// microphone, in that order.
func (c *Coordinator) stop() {
	c.wanted = false
	c.seq++
	c.listener.StopListening()
	c.speaker.Cancel()
	c.clearTimer()
	c.mic.Stop()
	c.listener.Suppress(false)
	c.transition(Idle)
}

func (c *Coordinator) clearTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) transition(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	slog.Debug("turn: transition", "from", from, "to", to)
	if c.metrics != nil {
		c.metrics.RecordTransition(c.baseCtx, from.String(), to.String())
	}
	if c.hooks.OnState != nil {
		c.hooks.OnState(from, to)
	}
}

func (c *Coordinator) report(err error) {
	terminal := voice.Terminal(err)
	observe.Logger(c.baseCtx).Info("turn: error", "kind", voice.Kind(err), "terminal", terminal, "err", err)
	if c.metrics != nil {
		c.metrics.RecordVoiceError(c.baseCtx, voice.Kind(err), terminal)
	}
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}

func (c *Coordinator) trimHistory() {
	if over := len(c.history) - c.maxHistory; over > 0 {
		c.history = append([]types.Message(nil), c.history[over:]...)
	}
}
