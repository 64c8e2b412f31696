// Package playback speaks coach replies.
//
// A [Controller] plays at most one utterance at a time. A Speak call that
// arrives while another utterance is playing is dropped, not queued: the
// first utterance wins and the caller is told with [ErrBusy]. Subscribers
// are notified synchronously before and after each utterance.
package playback

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

var (
	// ErrBusy is passed to onComplete when Speak is called while another
	// utterance is playing. The new text is not spoken.
	ErrBusy = errors.New("playback: already speaking")

	// ErrNoVoice is passed to onComplete when no voice matches the selection
	// policy. Nothing is spoken and no notifications fire.
	ErrNoVoice = errors.New("playback: no matching voice")
)

// Utterance is one piece of text with the voice and prosody to speak it in.
// Voice.SpeedFactor and Voice.Pitch carry the prosody.
type Utterance struct {
	Text  string
	Voice tts.VoiceProfile
}

// Synthesizer turns utterances into sound.
type Synthesizer interface {
	// Voices lists the available voices in enumeration order.
	Voices(ctx context.Context) ([]tts.VoiceProfile, error)

	// Speak plays u and returns when playback has finished or ctx is
	// cancelled.
	Speak(ctx context.Context, u Utterance) error
}

// Subscription identifies a registered start or end callback.
type Subscription uint64

// Option configures a [Controller].
type Option func(*Controller)

// WithLocale sets the target locale for the final voice fallback.
func WithLocale(locale string) Option {
	return func(c *Controller) { c.locale = locale }
}

// WithPreference sets the initial voice preference.
func WithPreference(p Preference) Option {
	return func(c *Controller) { c.pref = p }
}

// WithCandidates replaces [DefaultCandidates].
func WithCandidates(m map[CandidateKey][]string) Option {
	return func(c *Controller) { c.candidates = m }
}

// WithMetrics records utterance durations and dropped requests.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the speech playback controller. It is safe for concurrent
// use.
type Controller struct {
	synth      Synthesizer
	locale     string
	candidates map[CandidateKey][]string
	metrics    *observe.Metrics

	mu        sync.Mutex
	pref      Preference
	enabled   bool
	speaking  bool
	text      string
	voiceID   string
	cancel    context.CancelFunc
	nextSub   Subscription
	startSubs map[Subscription]func()
	endSubs   map[Subscription]func()
}

// New returns an enabled controller speaking through synth.
func New(synth Synthesizer, opts ...Option) *Controller {
	c := &Controller{
		synth:      synth,
		locale:     "en-US",
		candidates: DefaultCandidates,
		enabled:    true,
		startSubs:  make(map[Subscription]func()),
		endSubs:    make(map[Subscription]func()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Speak plays text unless another utterance is in progress. It returns
// immediately; onComplete, when non-nil, is called exactly once:
//
//   - with nil after the utterance finished or was cancelled, or right away
//     when the controller is muted;
//   - with [ErrBusy] right away when another utterance is playing;
//   - with [ErrNoVoice] or a synthesis error otherwise.
func (c *Controller) Speak(text string, onComplete func(error)) {
	done := func(err error) {
		if onComplete != nil {
			onComplete(err)
		}
	}

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		done(nil)
		return
	}
	if c.speaking {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.DroppedUtterances.Add(context.Background(), 1)
		}
		slog.Debug("playback: dropped utterance while busy", "text_len", len(text))
		done(ErrBusy)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.speaking = true
	c.text = text
	c.cancel = cancel
	pref := c.pref
	c.mu.Unlock()

	go c.play(ctx, text, pref, done)
}

func (c *Controller) play(ctx context.Context, text string, pref Preference, done func(error)) {
	voices, err := c.synth.Voices(ctx)
	if err != nil {
		c.finish(false)
		done(fmt.Errorf("playback: list voices: %w", err))
		return
	}
	voice, ok := SelectVoice(voices, pref, c.locale, c.candidates)
	if !ok {
		c.finish(false)
		slog.Warn("playback: no voice for locale", "locale", c.locale, "voices", len(voices))
		done(ErrNoVoice)
		return
	}
	p := ProsodyFor(pref.Style)
	voice.SpeedFactor = p.Rate
	voice.Pitch = p.Pitch

	c.mu.Lock()
	c.voiceID = voice.ID
	starts := ordered(c.startSubs)
	c.mu.Unlock()

	for _, fn := range starts {
		fn()
	}

	start := time.Now()
	err = c.synth.Speak(ctx, Utterance{Text: text, Voice: voice})
	if c.metrics != nil {
		c.metrics.TTSDuration.Record(context.Background(), time.Since(start).Seconds())
	}
	if ctx.Err() != nil {
		// Cancelled deliberately.
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("playback: speak: %w", err)
	}

	ends := c.finish(true)
	for _, fn := range ends {
		fn()
	}
	done(err)
}

// finish clears the speaking state and returns the end subscribers when
// notify is set.
func (c *Controller) finish(notify bool) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.speaking = false
	c.text = ""
	if !notify {
		return nil
	}
	return ordered(c.endSubs)
}

func ordered(subs map[Subscription]func()) []func() {
	ids := make([]Subscription, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b Subscription) int { return cmp.Compare(a, b) })
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = subs[id]
	}
	return fns
}

// Cancel stops the utterance in progress. Safe to call when idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsSpeaking reports whether an utterance is in progress.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// CurrentText returns the text being spoken, or "" when idle.
func (c *Controller) CurrentText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// SelectedVoice returns the ID of the voice chosen for the latest utterance.
func (c *Controller) SelectedVoice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceID
}

// SetVoicePreference sets the explicit voice name or ID. Empty clears it.
func (c *Controller) SetVoicePreference(nameOrID string) {
	c.mu.Lock()
	c.pref.VoiceName = nameOrID
	c.mu.Unlock()
}

// SetCharacteristics sets the gender and style used by the candidate lists
// and the prosody policy.
func (c *Controller) SetCharacteristics(gender, style string) {
	c.mu.Lock()
	c.pref.Gender = gender
	c.pref.Style = style
	c.mu.Unlock()
}

// SetPreference replaces the whole preference.
func (c *Controller) SetPreference(p Preference) {
	c.mu.Lock()
	c.pref = p
	c.mu.Unlock()
}

// Preference returns the current preference.
func (c *Controller) Preference() Preference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pref
}

// OnSpeakStart registers fn to run before each utterance.
func (c *Controller) OnSpeakStart(fn func()) Subscription {
	return c.subscribe(c.startSubs, fn)
}

// OnSpeakEnd registers fn to run after each utterance.
func (c *Controller) OnSpeakEnd(fn func()) Subscription {
	return c.subscribe(c.endSubs, fn)
}

func (c *Controller) subscribe(subs map[Subscription]func(), fn func()) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	subs[c.nextSub] = fn
	return c.nextSub
}

// Unsubscribe removes a start or end callback. Unknown handles are ignored.
func (c *Controller) Unsubscribe(s Subscription) {
	c.mu.Lock()
	delete(c.startSubs, s)
	delete(c.endSubs, s)
	c.mu.Unlock()
}

// ToggleEnabled flips the mute switch and returns the new state. Muting
// stops the utterance in progress.
func (c *Controller) ToggleEnabled() bool {
	c.mu.Lock()
	c.enabled = !c.enabled
	enabled, cancel := c.enabled, c.cancel
	c.mu.Unlock()
	if !enabled && cancel != nil {
		cancel()
	}
	return enabled
}

// Enabled reports whether speech output is on.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
