package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/cadence/internal/coach"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/internal/voice/amplitude"
	"github.com/MrWong99/cadence/internal/voice/capture"
	"github.com/MrWong99/cadence/internal/voice/playback"
	"github.com/MrWong99/cadence/internal/voice/recorder"
	"github.com/MrWong99/cadence/internal/voice/turn"
	"github.com/MrWong99/cadence/internal/voice/visualizer"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/wsaudio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	"github.com/MrWong99/cadence/pkg/types"
)

const (
	outboundBuffer    = 256
	sendTimeout       = 5 * time.Second
	persistTimeout    = 5 * time.Second
	transcribeTimeout = 2 * time.Minute
)

// Transport is the client end of a voice session: a microphone, a speaker
// and a JSON control channel. *wsaudio.Conn implements it.
type Transport interface {
	audio.Device
	audio.Sink
	Send(ctx context.Context, typ string, data any) error
	Control() <-chan wsaudio.Message
	Done() <-chan struct{}
}

var _ Transport = (*wsaudio.Conn)(nil)

type outbound struct {
	typ  string
	data any
}

// Session is one connected client. It owns the voice pipeline for that
// client: microphone sampler, capture, playback, the turn coordinator and
// the dictation recorder.
type Session struct {
	id        string
	userID    string
	tr        Transport
	store     store.Store
	metrics   *observe.Metrics
	frameRate int
	renderer  visualizer.Renderer

	mic      *amplitude.Sampler
	listener *capture.Controller
	speaker  *playback.Controller
	coach    *coach.Generator
	turn     *turn.Coordinator
	rec      *recorder.Recorder

	dictation bool

	out    chan outbound
	quit   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// speakingSince is the unix-nano start of the current utterance.
	speakingSince atomic.Int64
	// idleSent suppresses repeated idle bar frames.
	idleSent atomic.Bool
}

// sessionDeps are the shared dependencies every session is built from.
type sessionDeps struct {
	cfg        *config.Config
	providers  *Providers
	store      store.Store
	metrics    *observe.Metrics
	history    []types.Message
	preference playback.Preference
}

func newSession(id, userID string, tr Transport, d sessionDeps) (*Session, error) {
	v := d.cfg.Voice
	s := &Session{
		id:        id,
		userID:    userID,
		tr:        tr,
		store:     d.store,
		metrics:   d.metrics,
		frameRate: v.FrameRate,
		renderer:  visualizer.Renderer{Bars: v.Bars},
		dictation: d.providers.Transcriber != nil,
		out:       make(chan outbound, outboundBuffer),
		quit:      make(chan struct{}),
	}

	format := audio.Format{SampleRate: v.SampleRate, Channels: 1}
	s.mic = amplitude.New(tr, amplitude.WithFrameRate(v.FrameRate), amplitude.WithFormat(format))

	// A nil Engine marks recognition as unavailable.
	var engine capture.Engine
	if d.providers.STT != nil {
		engine = capture.NewSTTEngine(d.providers.STT, stt.StreamConfig{
			SampleRate: v.SampleRate,
			Channels:   1,
			Language:   v.Locale,
		})
	}
	s.listener = capture.New(engine, s.mic,
		capture.WithQuietPeriod(v.QuietPeriod),
		capture.WithRestartLimit(v.RestartLimit),
		capture.WithMetrics(d.metrics),
	)

	s.speaker = playback.New(playback.NewTTSSynthesizer(d.providers.TTS, tr),
		playback.WithLocale(v.Locale),
		playback.WithPreference(d.preference),
		playback.WithMetrics(d.metrics),
	)

	persona := coach.DefaultPersona
	if p := d.cfg.Coach.Persona; p.Instructions != "" {
		persona = coach.Persona{Name: p.Name, Instructions: p.Instructions}
	}
	s.coach = coach.New(d.providers.LLM,
		coach.WithPersona(persona),
		coach.WithStyle(d.preference.Style),
		coach.WithTemperature(d.cfg.Coach.Temperature),
		coach.WithMaxTokens(d.cfg.Coach.MaxTokens),
		coach.WithHistoryBudget(d.cfg.Coach.HistoryTokenBudget),
		coach.WithProviderName(d.cfg.Providers.LLM.Name),
		coach.WithMetrics(d.metrics),
	)

	s.turn = turn.New(s.mic, s.listener, s.speaker, s.coach,
		turn.WithProcessingTimeout(v.ProcessingTimeout),
		turn.WithHistory(d.history),
		turn.WithMaxHistory(d.cfg.Coach.MaxHistory),
		turn.WithMetrics(d.metrics),
		turn.WithHooks(turn.Hooks{
			OnState:      s.onState,
			OnTranscript: func(text string) { s.emit(TypeTranscript, textEvent{Text: text}) },
			OnUtterance:  func(text string) { s.emit(TypeUtterance, textEvent{Text: text}) },
			OnReply:      func(text string) { s.emit(TypeReply, textEvent{Text: text}) },
			OnError:      func(err error) { s.emit(TypeError, errEvent(err)) },
			OnExchange:   s.persistExchange,
		}),
	)

	rec, err := recorder.New(s.mic, d.providers.Transcriber,
		recorder.WithLimit(v.RecordingLimit),
		recorder.WithFormat(format),
		recorder.WithLanguage(v.Locale),
		recorder.WithOnAutoStop(s.finishRecording),
		recorder.WithMetrics(d.metrics),
	)
	if err != nil {
		_ = s.turn.Close()
		return nil, err
	}
	s.rec = rec
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the user the session belongs to.
func (s *Session) UserID() string { return s.userID }

// State returns the turn state.
func (s *Session) State() turn.State { return s.turn.State() }

// run serves control messages and animation frames until the transport
// goes away or ctx is cancelled.
func (s *Session) run(ctx context.Context) {
	s.spawn(s.writeLoop)

	s.emit(TypeSession, sessionEvent{
		ID:                   s.id,
		UserID:               s.userID,
		RecognitionAvailable: s.listener.Available(),
		DictationAvailable:   s.dictation,
	})

	ticker := time.NewTicker(time.Second / time.Duration(max(s.frameRate, 1)))
	defer ticker.Stop()
	control := s.tr.Control()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.tr.Done():
			return
		case <-s.quit:
			return
		case msg, ok := <-control:
			if !ok {
				return
			}
			s.handle(ctx, msg)
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) handle(ctx context.Context, msg wsaudio.Message) {
	log := observe.Logger(ctx).With("session", s.id)
	var err error
	switch msg.Type {
	case TypeStart:
		if s.rec.Recording() {
			s.emit(TypeError, errEvent(ErrBusy))
			return
		}
		// Failures reach the client through the OnError hook.
		if err := s.turn.Start(ctx); err != nil {
			log.Debug("voice mode not started", "err", err)
		}
		return
	case TypeSubmit:
		err = s.turn.Submit()
	case TypeFinish:
		err = s.turn.Finish()
	case TypeStop:
		err = s.turn.Stop()
	case TypeToggleSpeech:
		s.emit(TypeSpeechEnabled, flagEvent{Enabled: s.speaker.ToggleEnabled()})
		return
	case TypeSetPreference:
		var p PreferencePayload
		if err := msg.Decode(&p); err != nil {
			s.emit(TypeError, errEvent(errors.Join(ErrInvalidPreference, err)))
			return
		}
		s.setPreference(ctx, p)
		return
	case TypeRecordStart:
		s.startRecording(ctx)
		return
	case TypeRecordStop:
		if clip, ok := s.rec.Stop(); ok {
			s.finishRecording(clip)
		}
		return
	default:
		log.Debug("ignoring unknown control message", "type", msg.Type)
		return
	}
	if err != nil && !errors.Is(err, turn.ErrClosed) {
		log.Debug("control request failed", "type", msg.Type, "err", err)
	}
}

// ─── Voice preference ───────────────────────────────────────────────────────

func (s *Session) setPreference(ctx context.Context, p PreferencePayload) {
	if err := p.Validate(); err != nil {
		s.emit(TypeError, errEvent(err))
		return
	}
	s.speaker.SetPreference(p.playback())
	s.coach.SetStyle(p.Style)
	s.emit(TypeVoicePref, p)

	if s.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.SaveVoicePreference(sctx, s.userID, p.stored()); err != nil {
		observe.Logger(ctx).Warn("app: save voice preference", "user", s.userID, "err", err)
	}
}

// ─── Dictation ──────────────────────────────────────────────────────────────

func (s *Session) startRecording(ctx context.Context) {
	if s.turn.State() != turn.Idle {
		s.emit(TypeError, errEvent(ErrBusy))
		return
	}
	if err := s.mic.Start(ctx); err != nil {
		s.emit(TypeError, errEvent(err))
		return
	}
	if err := s.rec.Start(); err != nil {
		s.emit(TypeError, errEvent(errors.Join(ErrBusy, err)))
		return
	}
	s.emit(TypeRecording, recordingEvent{Active: true})
}

// finishRecording releases the microphone and transcribes clip in the
// background. It runs on the control loop or on the auto-stop timer.
func (s *Session) finishRecording(clip stt.Clip) {
	if s.turn.State() == turn.Idle {
		s.mic.Stop()
	}
	s.emit(TypeRecording, recordingEvent{Active: false})

	s.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
		defer cancel()
		go func() {
			select {
			case <-s.quit:
				cancel()
			case <-ctx.Done():
			}
		}()
		text, err := s.rec.Transcribe(ctx, clip)
		if err != nil {
			s.emit(TypeError, errEvent(err))
			return
		}
		s.emit(TypeDictation, textEvent{Text: text})
	})
}

// ─── Hooks ──────────────────────────────────────────────────────────────────

func (s *Session) onState(from, to turn.State) {
	if to == turn.Speaking {
		s.speakingSince.Store(time.Now().UnixNano())
	}
	if to != turn.Idle {
		s.idleSent.Store(false)
	}
	s.emit(TypeState, stateEvent{State: to.String(), Previous: from.String()})
}

// persistExchange stores both sides of an exchange off the event loop.
func (s *Session) persistExchange(user, assistant types.Message) {
	if s.store == nil {
		return
	}
	s.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		for _, m := range []types.Message{user, assistant} {
			if _, err := s.store.AppendMessage(ctx, s.userID, m); err != nil {
				slog.Warn("app: persist message", "session", s.id, "role", m.Role, "err", err)
				return
			}
		}
	})
}

// spawn runs fn on a tracked goroutine unless the session is closing.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// ─── Output ─────────────────────────────────────────────────────────────────

func (s *Session) tick() {
	var (
		phase   visualizer.Phase
		level   float64
		elapsed time.Duration
	)
	switch s.turn.State() {
	case turn.Listening:
		phase = visualizer.PhaseListening
		level, _ = s.mic.Sample()
	case turn.Speaking:
		phase = visualizer.PhaseSpeaking
		elapsed = time.Since(time.Unix(0, s.speakingSince.Load()))
	default:
		if s.idleSent.Swap(true) {
			return
		}
		phase = visualizer.PhaseIdle
	}
	s.emitDroppable(TypeBars, barsEvent{Phase: string(phase), Heights: s.renderer.Render(level, phase, elapsed)})
}

// emit queues an event for the client. Events are dropped with a warning if
// the client cannot keep up.
func (s *Session) emit(typ string, data any) {
	select {
	case s.out <- outbound{typ: typ, data: data}:
	default:
		slog.Warn("app: client too slow, dropping event", "session", s.id, "type", typ)
	}
}

// emitDroppable is emit for high-rate events that may be skipped silently.
func (s *Session) emitDroppable(typ string, data any) {
	if len(s.out) > cap(s.out)/2 {
		return
	}
	select {
	case s.out <- outbound{typ: typ, data: data}:
	default:
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.tr.Done():
			return
		case m := <-s.out:
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := s.tr.Send(ctx, m.typ, m.data)
			cancel()
			if err != nil {
				slog.Debug("app: send event", "session", s.id, "type", m.typ, "err", err)
			}
		}
	}
}

// close tears the pipeline down. It is idempotent.
func (s *Session) close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.rec.Stop()
		_ = s.turn.Close()
		s.speaker.Cancel()
		s.mic.Stop()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.quit)
		s.wg.Wait()
	})
}
