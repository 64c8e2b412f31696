package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		want     string
		wantErr  error
		anyError bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"text":" Hello coach. "}`, want: "Hello coach."},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, wantErr: stt.ErrUnauthorized},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"message":"bad audio"}}`, anyError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var gotLang string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/audio/transcriptions" {
					http.NotFound(w, r)
					return
				}
				_ = r.ParseMultipartForm(1 << 20)
				gotLang = r.FormValue("language")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr, err := New("sk-test", WithBaseURL(srv.URL), WithModel("whisper-1"))
			if err != nil {
				t.Fatal(err)
			}
			clip := stt.Clip{PCM: make([]byte, 64), Format: audio.Format{SampleRate: 16000, Channels: 1}}
			text, err := tr.Transcribe(context.Background(), clip, "en-GB")

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.anyError:
				if err == nil {
					t.Fatal("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("Transcribe: %v", err)
				}
				if text != tt.want {
					t.Errorf("text = %q, want %q", text, tt.want)
				}
				if gotLang != "en" {
					t.Errorf("language = %q, want en", gotLang)
				}
			}
		})
	}
}
