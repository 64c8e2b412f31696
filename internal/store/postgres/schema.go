package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS coach_messages (
    seq         BIGSERIAL    PRIMARY KEY,
    id          UUID         NOT NULL UNIQUE,
    user_id     TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    name        TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_coach_messages_user_seq
    ON coach_messages (user_id, seq DESC);
`

const ddlVoicePreferences = `
CREATE TABLE IF NOT EXISTS voice_preferences (
    user_id     TEXT         PRIMARY KEY,
    voice_name  TEXT         NOT NULL DEFAULT '',
    gender      TEXT         NOT NULL DEFAULT '',
    style       TEXT         NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the tables Cadence needs. It is idempotent and safe to run
// on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlMessages, ddlVoicePreferences} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
