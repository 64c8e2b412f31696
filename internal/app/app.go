// Package app wires the cadence subsystems into a running voice server.
//
// [New] builds the HTTP surface (voice websocket, voice catalogue, voice
// preferences, health and metrics) on top of the configured providers and
// store. [App.Run] serves until its context is cancelled and then shuts
// down in order: listener first, then live sessions, then the closers that
// were handed in.
package app

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/health"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/internal/voice/playback"
	"github.com/MrWong99/cadence/pkg/audio/wsaudio"
	"github.com/MrWong99/cadence/pkg/provider/llm"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

// Providers holds one value per provider slot. STT and Transcriber may be
// nil; recognition or dictation is then reported as unavailable.
type Providers struct {
	LLM         llm.Provider
	STT         stt.Provider
	TTS         tts.Provider
	Transcriber stt.Transcriber
}

// App owns the HTTP server and the session manager.
type App struct {
	cfg       *config.Config
	providers *Providers
	store     store.Store
	metrics   *observe.Metrics
	checkers  []health.Checker
	closers   []func() error

	sessions *SessionManager
	catalog  *playback.TTSSynthesizer
	handler  http.Handler

	mu       sync.Mutex
	voiceCfg config.VoiceConfig

	stopOnce sync.Once
}

// Option configures an [App].
type Option func(*App)

// WithStore persists conversations and voice preferences in st.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHealthCheckers adds readiness checks on top of the store ping.
func WithHealthCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// WithCloser registers fn to run during [App.Shutdown], after all sessions
// have ended. Closers run in registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds an App. LLM and TTS providers are required.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: llm and tts providers are required")
	}
	a := &App{cfg: cfg, providers: providers, voiceCfg: cfg.Voice}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.store != nil {
		a.checkers = append([]health.Checker{health.PingCheck("store", a.store)}, a.checkers...)
		a.closers = append(a.closers, a.store.Close)
	}

	a.sessions = NewSessionManager(cfg, providers, a.store, a.metrics)
	a.catalog = playback.NewTTSSynthesizer(providers.TTS, nil)

	mux := http.NewServeMux()
	health.New(a.checkers).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/voice", a.handleVoice)
	mux.HandleFunc("GET /v1/voices", a.handleVoices)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("GET /v1/users/{userID}/voice-preference", a.handleGetPreference)
	mux.HandleFunc("PUT /v1/users/{userID}/voice-preference", a.handlePutPreference)
	a.handler = observe.Middleware(a.metrics)(mux)
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		// Hijacked websockets are not tracked by the server; sessions are
		// closed separately.
		srvErr := srv.Shutdown(sctx)
		return errors.Join(srvErr, a.Shutdown(sctx))
	})
	return g.Wait()
}

// Shutdown ends every session and runs the registered closers. It is
// idempotent; later calls return nil.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if serr := a.sessions.Shutdown(ctx); serr != nil {
			err = serr
			slog.Warn("sessions did not close in time", "err", serr)
		}
		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				err = errors.Join(err, ctx.Err())
				return
			}
			if cerr := closer(); cerr != nil {
				slog.Warn("closer error", "index", i, "err", cerr)
			}
		}
		slog.Info("shutdown complete")
	})
	return err
}

// ApplyConfig takes over the hot-reloadable parts of a new configuration:
// voice defaults and the coach persona apply to sessions started afterwards.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.voiceCfg = cfg.Voice
	a.mu.Unlock()
	a.sessions.SetConfig(cfg)
}

func (a *App) voiceDefaults() config.VoiceConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.voiceCfg
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (a *App) handleVoice(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user query parameter")
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.cfg.Server.AllowedOrigins})
	if err != nil {
		// Accept already wrote the response.
		observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
		return
	}
	ws.SetReadLimit(1 << 20)
	conn := wsaudio.New(ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		if err := conn.Run(ctx); err != nil {
			observe.Logger(ctx).Debug("voice connection ended", "err", err)
		}
		cancel()
	}()

	if err := a.sessions.Serve(ctx, userID, conn); err != nil {
		observe.Logger(ctx).Warn("voice session refused", "user", userID, "err", err)
	}
	_ = conn.Close()
}

type voiceView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

type voicesResponse struct {
	Voices   []voiceView `json:"voices"`
	Selected *voiceView  `json:"selected,omitempty"`
}

// handleVoices lists the TTS catalogue together with the voice the selection
// policy would pick for the given (or configured) preference.
func (a *App) handleVoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	def := a.voiceDefaults()
	p := PreferencePayload{
		VoiceName: cmp.Or(q.Get("voice"), def.PreferredVoice),
		Gender:    cmp.Or(q.Get("gender"), def.Gender),
		Style:     cmp.Or(q.Get("style"), def.Style),
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	locale := cmp.Or(q.Get("locale"), def.Locale)

	voices, err := a.catalog.Voices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("list voices", "err", err)
		writeError(w, http.StatusBadGateway, "voice catalogue unavailable")
		return
	}
	resp := voicesResponse{Voices: make([]voiceView, 0, len(voices))}
	for _, v := range voices {
		resp.Voices = append(resp.Voices, toView(v))
	}
	if sel, ok := playback.SelectVoice(voices, p.playback(), locale, playback.DefaultCandidates); ok {
		view := toView(sel)
		resp.Selected = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Sessions())
}

func (a *App) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotImplemented, "no store configured")
		return
	}
	p, err := a.store.VoicePreference(r.Context(), r.PathValue("userID"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no voice preference saved")
		return
	case err != nil:
		observe.Logger(r.Context()).Error("load voice preference", "err", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) handlePutPreference(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotImplemented, "no store configured")
		return
	}
	var p PreferencePayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := r.PathValue("userID")
	if err := a.store.SaveVoicePreference(r.Context(), userID, p.stored()); err != nil {
		observe.Logger(r.Context()).Error("save voice preference", "err", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	saved, err := a.store.VoicePreference(r.Context(), userID)
	if err != nil {
		saved = p.stored()
	}
	writeJSON(w, http.StatusOK, saved)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func toView(v tts.VoiceProfile) voiceView {
	return voiceView{ID: v.ID, Name: v.Name, Provider: v.Provider, Locale: v.Locale, Gender: v.Gender}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
