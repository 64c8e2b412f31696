package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/cadence/pkg/provider/tts"
)

func TestListVoices(t *testing.T) {
	t.Parallel()
	p, err := New("sk")
	if err != nil {
		t.Fatal(err)
	}
	voices, _ := p.ListVoices(context.Background())
	if len(voices) != len(catalogue) {
		t.Fatalf("got %d voices", len(voices))
	}
	for _, v := range voices {
		if v.Provider != "openai" || v.Locale != "en" {
			t.Errorf("voice %+v missing provider or locale", v)
		}
	}
	if p.Format().SampleRate != 24000 {
		t.Errorf("format = %v", p.Format())
	}
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	type request struct {
		Input          string  `json:"input"`
		Voice          string  `json:"voice"`
		ResponseFormat string  `json:"response_format"`
		Speed          float64 `json:"speed"`
	}
	reqs := make(chan request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)
		reqs <- req
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write([]byte{1, 0, 2, 0, 3})
	}))
	defer srv.Close()

	p, _ := New("sk", WithBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	text := make(chan string, 1)
	text <- "Keep going."
	close(text)

	out, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "nova", SpeedFactor: 1.1})
	if err != nil {
		t.Fatal(err)
	}
	var pcm []byte
	for c := range out {
		if len(c)%2 != 0 {
			t.Errorf("chunk of odd length %d", len(c))
		}
		pcm = append(pcm, c...)
	}
	if len(pcm) != 4 {
		t.Errorf("pcm = %v, want 4 aligned bytes", pcm)
	}
	req := <-reqs
	if req.Input != "Keep going." || req.Voice != "nova" || req.ResponseFormat != "pcm" || req.Speed != 1.1 {
		t.Errorf("request = %+v", req)
	}
}

func TestSynthesizeStream_RequiresVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("sk")
	if _, err := p.SynthesizeStream(context.Background(), nil, tts.VoiceProfile{}); err != tts.ErrVoiceRequired {
		t.Fatalf("err = %v", err)
	}
}
