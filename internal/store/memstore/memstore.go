// Package memstore is an in-memory [store.Store].
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps messages and preferences in maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	messages map[string][]types.Message
	prefs    map[string]store.VoicePreference
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		messages: make(map[string][]types.Message),
		prefs:    make(map[string]store.VoicePreference),
	}
}

// AppendMessage implements [store.Store].
func (s *Store) AppendMessage(_ context.Context, userID string, msg types.Message) (types.Message, error) {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.messages[userID] = append(s.messages[userID], msg)
	s.mu.Unlock()
	return msg, nil
}

// RecentMessages implements [store.Store].
func (s *Store) RecentMessages(_ context.Context, userID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return []types.Message{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[userID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]types.Message{}, all...), nil
}

// VoicePreference implements [store.Store].
func (s *Store) VoicePreference(_ context.Context, userID string) (store.VoicePreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return store.VoicePreference{}, store.ErrNotFound
	}
	return p, nil
}

// SaveVoicePreference implements [store.Store].
func (s *Store) SaveVoicePreference(_ context.Context, userID string, pref store.VoicePreference) error {
	pref.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.prefs[userID] = pref
	s.mu.Unlock()
	return nil
}

// Ping implements [store.Store]; it always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store].
func (s *Store) Close() error { return nil }
