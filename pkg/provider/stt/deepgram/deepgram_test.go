package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/cadence/pkg/provider/stt"
)

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opts  []Option
		cfg   stt.StreamConfig
		check func(t *testing.T, q url.Values)
	}{
		{
			name: "defaults",
			cfg:  stt.StreamConfig{SampleRate: 16000, Channels: 1},
			check: func(t *testing.T, q url.Values) {
				assertEqual(t, "model", "nova-3", q.Get("model"))
				assertEqual(t, "language", "en", q.Get("language"))
				assertEqual(t, "interim_results", "true", q.Get("interim_results"))
				assertEqual(t, "encoding", "linear16", q.Get("encoding"))
				assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
				assertEqual(t, "channels", "1", q.Get("channels"))
				assertEqual(t, "endpointing", "", q.Get("endpointing"))
			},
		},
		{
			name: "provider defaults fill empty config",
			opts: []Option{WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000), WithEndpointing(300)},
			check: func(t *testing.T, q url.Values) {
				assertEqual(t, "model", "base", q.Get("model"))
				assertEqual(t, "language", "de-DE", q.Get("language"))
				assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
				assertEqual(t, "endpointing", "300", q.Get("endpointing"))
			},
		},
		{
			name: "config language wins",
			opts: []Option{WithLanguage("en")},
			cfg:  stt.StreamConfig{Language: "fr-FR"},
			check: func(t *testing.T, q url.Values) {
				assertEqual(t, "language", "fr-FR", q.Get("language"))
			},
		},
		{
			name: "keywords",
			cfg:  stt.StreamConfig{Keywords: []string{"marathon", "meditation"}},
			check: func(t *testing.T, q url.Values) {
				got := q["keyterm"]
				if len(got) != 2 || got[0] != "marathon" || got[1] != "meditation" {
					t.Errorf("keyterm = %v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New("key", tt.opts...)
			if err != nil {
				t.Fatal(err)
			}
			raw, err := p.buildURL(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			u, err := url.Parse(raw)
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, u.Query())
		})
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		ok      bool
		text    string
		isFinal bool
	}{
		{
			name:    "final",
			raw:     `{"type":"Results","is_final":true,"start":1.5,"duration":0.5,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.9}]}}`,
			ok:      true,
			text:    "hello there",
			isFinal: true,
		},
		{
			name: "interim",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
			ok:   true,
			text: "hel",
		},
		{name: "empty transcript", raw: `{"type":"Results","channel":{"alternatives":[{"transcript":""}]}}`},
		{name: "metadata", raw: `{"type":"Metadata"}`},
		{name: "no alternatives", raw: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "garbage", raw: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseDeepgramResponse([]byte(tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Text != tt.text || got.IsFinal != tt.isFinal {
				t.Errorf("got %+v", got)
			}
		})
	}
}

// fakeDeepgram replies to every received audio chunk with the scripted
// messages and records the Authorization header.
func fakeDeepgram(t *testing.T, status int, script []string) (*httptest.Server, chan string) {
	t.Helper()
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		typ, _, err := c.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		for _, m := range script {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		_ = c.Close(websocket.StatusInternalError, "boom")
	}))
	t.Cleanup(srv.Close)
	return srv, auth
}

func TestStartStream_DeliversInOrderThenReportsError(t *testing.T) {
	t.Parallel()
	srv, auth := fakeDeepgram(t, 0, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"how"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"how are you"}]}}`,
	})

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()
	assertEqual(t, "authorization", "Token secret", <-auth)

	if err := sess.SendAudio([]byte{0, 0}); err != nil {
		t.Fatal(err)
	}

	var got []stt.Transcript
	for tr := range sess.Transcripts() {
		got = append(got, tr)
	}
	if len(got) != 2 || got[0].IsFinal || !got[1].IsFinal || got[1].Text != "how are you" {
		t.Fatalf("transcripts = %+v", got)
	}
	if err := sess.Err(); !errors.Is(err, stt.ErrNetwork) {
		t.Errorf("Err = %v, want ErrNetwork", err)
	}
}

func TestStartStream_Unauthorized(t *testing.T) {
	t.Parallel()
	srv, _ := fakeDeepgram(t, http.StatusUnauthorized, nil)
	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	_, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, stt.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSession_CloseIsClean(t *testing.T) {
	t.Parallel()
	srv, _ := fakeDeepgram(t, 0, nil)
	p, _ := New("k", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))

	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	for range sess.Transcripts() {
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}
	if err := sess.SendAudio([]byte{1, 2}); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v", err)
	}
}
