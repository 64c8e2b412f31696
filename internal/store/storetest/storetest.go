// Package storetest holds behaviour tests shared by every [store.Store]
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/pkg/types"
)

// Run exercises the Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("AppendAndRecent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := range 5 {
			msg := types.UserMessage(fmt.Sprintf("msg %d", i))
			if i%2 == 1 {
				msg = types.AssistantMessage(fmt.Sprintf("msg %d", i))
			}
			got, err := s.AppendMessage(ctx, "u1", msg)
			if err != nil {
				t.Fatalf("AppendMessage: %v", err)
			}
			if got.ID == "" || got.CreatedAt.IsZero() {
				t.Errorf("AppendMessage() = %+v, want ID and CreatedAt", got)
			}
		}
		if _, err := s.AppendMessage(ctx, "u2", types.UserMessage("other user")); err != nil {
			t.Fatal(err)
		}

		recent, err := s.RecentMessages(ctx, "u1", 3)
		if err != nil {
			t.Fatalf("RecentMessages: %v", err)
		}
		if len(recent) != 3 {
			t.Fatalf("len = %d, want 3", len(recent))
		}
		for i, want := range []string{"msg 2", "msg 3", "msg 4"} {
			if recent[i].Content != want {
				t.Errorf("recent[%d] = %q, want %q", i, recent[i].Content, want)
			}
		}
		if recent[1].Role != types.RoleAssistant {
			t.Errorf("role = %q, want assistant", recent[1].Role)
		}

		none, err := s.RecentMessages(ctx, "u1", 0)
		if err != nil || len(none) != 0 {
			t.Errorf("RecentMessages(limit 0) = %v, %v", none, err)
		}
		unknown, err := s.RecentMessages(ctx, "nobody", 10)
		if err != nil || len(unknown) != 0 {
			t.Errorf("RecentMessages(unknown) = %v, %v", unknown, err)
		}
	})

	t.Run("VoicePreference", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.VoicePreference(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("VoicePreference() err = %v, want ErrNotFound", err)
		}

		want := store.VoicePreference{VoiceName: "Samantha", Gender: "female", Style: "supportive"}
		if err := s.SaveVoicePreference(ctx, "u1", want); err != nil {
			t.Fatalf("SaveVoicePreference: %v", err)
		}
		got, err := s.VoicePreference(ctx, "u1")
		if err != nil {
			t.Fatalf("VoicePreference: %v", err)
		}
		if got.VoiceName != want.VoiceName || got.Gender != want.Gender || got.Style != want.Style {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}

		want.Style = "motivational"
		if err := s.SaveVoicePreference(ctx, "u1", want); err != nil {
			t.Fatal(err)
		}
		if got, _ := s.VoicePreference(ctx, "u1"); got.Style != "motivational" {
			t.Errorf("style after update = %q", got.Style)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
