package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/internal/voice/playback"
	"github.com/MrWong99/cadence/pkg/types"
)

// ErrShuttingDown is returned by [SessionManager.Serve] once shutdown began.
var ErrShuttingDown = errors.New("app: shutting down")

// loadTimeout bounds the store reads made while a session starts.
const loadTimeout = 5 * time.Second

// SessionInfo describes a live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

type entry struct {
	session   *Session
	startedAt time.Time
}

// SessionManager owns every live voice session, keyed by a random UUID.
// All methods are safe for concurrent use.
type SessionManager struct {
	providers *Providers
	store     store.Store
	metrics   *observe.Metrics
	cfg       atomic.Pointer[config.Config]

	mu       sync.Mutex
	sessions map[string]entry
	closing  bool
	wg       sync.WaitGroup
}

// NewSessionManager returns a manager that builds sessions from cfg.
// st may be nil, in which case nothing is persisted.
func NewSessionManager(cfg *config.Config, providers *Providers, st store.Store, metrics *observe.Metrics) *SessionManager {
	m := &SessionManager{
		providers: providers,
		store:     st,
		metrics:   metrics,
		sessions:  make(map[string]entry),
	}
	m.cfg.Store(cfg)
	return m
}

// SetConfig replaces the configuration used for sessions started from now
// on. Running sessions keep theirs.
func (m *SessionManager) SetConfig(cfg *config.Config) { m.cfg.Store(cfg) }

// Serve runs a session for userID over tr and blocks until the client goes
// away, ctx is cancelled or [SessionManager.Shutdown] is called.
func (m *SessionManager) Serve(ctx context.Context, userID string, tr Transport) error {
	cfg := m.cfg.Load()
	deps := sessionDeps{
		cfg:        cfg,
		providers:  m.providers,
		store:      m.store,
		metrics:    m.metrics,
		preference: m.preference(ctx, cfg, userID),
		history:    m.history(ctx, cfg, userID),
	}

	id := uuid.NewString()
	s, err := newSession(id, userID, tr, deps)
	if err != nil {
		return fmt.Errorf("app: new session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		s.close()
		return ErrShuttingDown
	}
	m.sessions[id] = entry{session: s, startedAt: time.Now().UTC()}
	m.wg.Add(1)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}

	log := observe.Logger(ctx).With("session", id, "user", userID)
	log.Info("voice session started")
	defer func() {
		s.close()
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		}
		m.wg.Done()
		log.Info("voice session ended")
	}()

	stop := context.AfterFunc(ctx, s.close)
	defer stop()
	s.run(ctx)
	return nil
}

func (m *SessionManager) preference(ctx context.Context, cfg *config.Config, userID string) playback.Preference {
	def := playback.Preference{
		VoiceName: cfg.Voice.PreferredVoice,
		Gender:    cfg.Voice.Gender,
		Style:     cfg.Voice.Style,
	}
	if m.store == nil {
		return def
	}
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	p, err := m.store.VoicePreference(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return def
	case err != nil:
		slog.Warn("app: load voice preference", "user", userID, "err", err)
		return def
	}
	return playback.Preference{VoiceName: p.VoiceName, Gender: p.Gender, Style: p.Style}
}

func (m *SessionManager) history(ctx context.Context, cfg *config.Config, userID string) []types.Message {
	if m.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	h, err := m.store.RecentMessages(ctx, userID, cfg.Coach.MaxHistory)
	if err != nil {
		slog.Warn("app: load history", "user", userID, "err", err)
		return nil
	}
	return h
}

// Sessions lists the live sessions, oldest first.
func (m *SessionManager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for id, e := range m.sessions {
		out = append(out, SessionInfo{
			ID:        id,
			UserID:    e.session.UserID(),
			State:     e.session.State().String(),
			StartedAt: e.startedAt,
		})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session and waits for them to finish or for ctx to
// expire. New sessions are refused afterwards.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	live := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		live = append(live, e.session)
	}
	m.mu.Unlock()

	slog.Info("closing voice sessions", "count", len(live))
	for _, s := range live {
		go s.close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: shutdown sessions: %w", ctx.Err())
	}
}
