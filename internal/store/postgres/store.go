// Package postgres is a PostgreSQL-backed [store.Store] built on a
// [pgxpool.Pool].
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store implements [store.Store] on PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// AppendMessage implements [store.Store].
func (s *Store) AppendMessage(ctx context.Context, userID string, msg types.Message) (types.Message, error) {
	const q = `
		INSERT INTO coach_messages (id, user_id, role, content, name, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6)`

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, q, msg.ID, userID, msg.Role, msg.Content, msg.Name, msg.CreatedAt); err != nil {
		return types.Message{}, fmt.Errorf("postgres store: append message: %w", err)
	}
	return msg, nil
}

// RecentMessages implements [store.Store].
func (s *Store) RecentMessages(ctx context.Context, userID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return []types.Message{}, nil
	}
	const q = `
		SELECT id::text, role, content, name, created_at
		FROM (
		    SELECT seq, id, role, content, name, created_at
		    FROM   coach_messages
		    WHERE  user_id = $1
		    ORDER  BY seq DESC
		    LIMIT  $2
		) recent
		ORDER BY seq`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var m types.Message
		err := row.Scan(&m.ID, &m.Role, &m.Content, &m.Name, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

// VoicePreference implements [store.Store].
func (s *Store) VoicePreference(ctx context.Context, userID string) (store.VoicePreference, error) {
	const q = `
		SELECT voice_name, gender, style, updated_at
		FROM   voice_preferences
		WHERE  user_id = $1`

	var p store.VoicePreference
	err := s.pool.QueryRow(ctx, q, userID).Scan(&p.VoiceName, &p.Gender, &p.Style, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.VoicePreference{}, store.ErrNotFound
	}
	if err != nil {
		return store.VoicePreference{}, fmt.Errorf("postgres store: voice preference: %w", err)
	}
	return p, nil
}

// SaveVoicePreference implements [store.Store].
func (s *Store) SaveVoicePreference(ctx context.Context, userID string, pref store.VoicePreference) error {
	const q = `
		INSERT INTO voice_preferences (user_id, voice_name, gender, style, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE
		SET voice_name = EXCLUDED.voice_name,
		    gender     = EXCLUDED.gender,
		    style      = EXCLUDED.style,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, userID, pref.VoiceName, pref.Gender, pref.Style); err != nil {
		return fmt.Errorf("postgres store: save voice preference: %w", err)
	}
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
