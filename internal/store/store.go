// Package store defines the persistence boundary of Cadence: the coaching
// conversation log and each user's voice preference.
//
// Two implementations exist: [memstore] keeps everything in process memory
// and suits tests and single-user local runs, [postgres] persists to
// PostgreSQL via pgx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/cadence/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// VoicePreference is the persisted form of a user's voice settings.
type VoicePreference struct {
	// VoiceName is a name or ID fragment matched against available voices.
	VoiceName string `json:"voice_name"`
	Gender    string `json:"gender"`
	Style     string `json:"style"`

	// UpdatedAt is set by the store on save.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists coaching conversations and voice preferences. All methods
// are safe for concurrent use.
type Store interface {
	// AppendMessage stores msg for userID and returns it with ID and
	// CreatedAt filled in.
	AppendMessage(ctx context.Context, userID string, msg types.Message) (types.Message, error)

	// RecentMessages returns at most limit of the user's latest messages,
	// oldest first. A non-positive limit returns nothing.
	RecentMessages(ctx context.Context, userID string, limit int) ([]types.Message, error)

	// VoicePreference returns the user's saved preference or [ErrNotFound].
	VoicePreference(ctx context.Context, userID string) (VoicePreference, error)

	// SaveVoicePreference creates or replaces the user's preference.
	SaveVoicePreference(ctx context.Context, userID string, pref VoicePreference) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. The store must not be used afterwards.
	Close() error
}
