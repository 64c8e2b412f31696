package whisper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	type seen struct {
		language string
		model    string
		wavMagic string
	}
	got := make(chan seen, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		head := make([]byte, 4)
		_, _ = io.ReadFull(f, head)
		got <- seen{language: r.FormValue("language"), model: r.FormValue("model"), wavMagic: string(head)}
		_, _ = w.Write([]byte(`{"text":"  I want to run a marathon \n"}`))
	}))
	defer srv.Close()

	tr, err := New(srv.URL+"/", WithModel("base.en"))
	if err != nil {
		t.Fatal(err)
	}
	clip := stt.Clip{PCM: make([]byte, 320), Format: audio.Format{SampleRate: 16000, Channels: 1}}
	text, err := tr.Transcribe(context.Background(), clip, "de-DE")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "I want to run a marathon" {
		t.Errorf("text = %q", text)
	}
	s := <-got
	if s.language != "de" || s.model != "base.en" || s.wavMagic != "RIFF" {
		t.Errorf("request = %+v", s)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	clip := stt.Clip{PCM: []byte{0, 0}, Format: audio.Format{SampleRate: 16000, Channels: 1}}
	if _, err := tr.Transcribe(context.Background(), clip, ""); err == nil {
		t.Fatal("expected error for HTTP 500")
	}

	srv.Close()
	_, err := tr.Transcribe(context.Background(), clip, "")
	if !errors.Is(err, stt.ErrNetwork) {
		t.Fatalf("closed server: err = %v, want ErrNetwork", err)
	}
}
