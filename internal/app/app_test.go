package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cadence/internal/app"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/internal/store/memstore"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/wsaudio"
	"github.com/MrWong99/cadence/pkg/provider/llm"
	llmmock "github.com/MrWong99/cadence/pkg/provider/llm/mock"
	"github.com/MrWong99/cadence/pkg/provider/stt"
	sttmock "github.com/MrWong99/cadence/pkg/provider/stt/mock"
	"github.com/MrWong99/cadence/pkg/provider/tts"
	ttsmock "github.com/MrWong99/cadence/pkg/provider/tts/mock"
	"github.com/MrWong99/cadence/pkg/types"
)

// ─── Fixtures ───────────────────────────────────────────────────────────────

type fixture struct {
	app   *app.App
	srv   *httptest.Server
	store *memstore.Store
	llm   *llmmock.Provider
	stt   *sttmock.Provider
	tts   *ttsmock.Provider
	trans *sttmock.Transcriber
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.LLM.Name = "openai"
	cfg.Voice.QuietPeriod = 40 * time.Millisecond
	cfg.Voice.FrameRate = 20
	cfg.Voice.ProcessingTimeout = 2 * time.Second
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		llm:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hi there! What is your goal today?"}},
		stt:   &sttmock.Provider{},
		tts: &ttsmock.Provider{
			SynthesizeChunks: [][]byte{make([]byte, 320)},
			ListVoicesResult: []tts.VoiceProfile{
				{ID: "v1", Name: "Ava", Locale: "en-US", Gender: "female"},
				{ID: "v2", Name: "Bob", Locale: "en-US", Gender: "male"},
			},
		},
		trans: &sttmock.Transcriber{Text: "five kilometres today"},
	}
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := app.New(testConfig(), &app.Providers{
		LLM:         f.llm,
		STT:         f.stt,
		TTS:         f.tts,
		Transcriber: f.trans,
	}, app.WithStore(f.store), app.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.app = a
	f.srv = httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
		f.srv.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

// client plays the browser side of the voice websocket: it grants the
// microphone and acknowledges every played reply.
type client struct {
	t      *testing.T
	ws     *websocket.Conn
	events chan wsaudio.Message

	mu    sync.Mutex
	audio int
}

func (f *fixture) dial(t *testing.T, user string) *client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/voice?user=" + user
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.CloseNow() })
	c := &client{t: t, ws: ws, events: make(chan wsaudio.Message, 512)}
	go c.read(ctx)
	return c
}

func (c *client) read(ctx context.Context) {
	defer close(c.events)
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			c.mu.Lock()
			c.audio += len(data)
			c.mu.Unlock()
			continue
		}
		var msg wsaudio.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case wsaudio.TypeMicRequest:
			_ = c.send(ctx, wsaudio.TypeMicStatus, wsaudio.MicStatus{Granted: true, SampleRate: 16000, Channels: 1})
		case wsaudio.TypeAudioEnd:
			var ref struct {
				ID string `json:"id"`
			}
			_ = msg.Decode(&ref)
			_ = c.send(ctx, wsaudio.TypePlaybackDone, ref)
		case app.TypeBars:
			continue
		}
		select {
		case c.events <- msg:
		default:
		}
	}
}

func (c *client) send(ctx context.Context, typ string, data any) error {
	msg := map[string]any{"type": typ}
	if data != nil {
		msg["data"] = data
	}
	b, _ := json.Marshal(msg)
	return c.ws.Write(ctx, websocket.MessageText, b)
}

func (c *client) control(typ string, data any) {
	c.t.Helper()
	if err := c.send(context.Background(), typ, data); err != nil {
		c.t.Fatalf("send %s: %v", typ, err)
	}
}

// waitFor returns the first event of type typ for which match is true.
func (c *client) waitFor(typ string, match func(wsaudio.Message) bool) wsaudio.Message {
	c.t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-c.events:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %q", typ)
			}
			if msg.Type == typ && (match == nil || match(msg)) {
				return msg
			}
		case <-timeout:
			c.t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

func (c *client) waitState(state string) {
	c.t.Helper()
	c.waitFor(app.TypeState, func(m wsaudio.Message) bool {
		var ev struct {
			State string `json:"state"`
		}
		_ = m.Decode(&ev)
		return ev.State == state
	})
}

func textOf(m wsaudio.Message) string {
	var ev struct {
		Text string `json:"text"`
	}
	_ = m.Decode(&ev)
	return ev.Text
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Voice sessions ─────────────────────────────────────────────────────────

func TestVoiceSession_FullTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "u1")

	hello := c.waitFor(app.TypeSession, nil)
	var info struct {
		ID                   string `json:"id"`
		RecognitionAvailable bool   `json:"recognition_available"`
	}
	_ = hello.Decode(&info)
	if info.ID == "" || !info.RecognitionAvailable {
		t.Fatalf("session event = %s", hello.Data)
	}

	c.control(app.TypeStart, nil)
	c.waitState("listening")
	eventually(t, "stt stream", func() bool { return f.stt.CallCount() == 1 })

	f.stt.LastSession().Emit(stt.Transcript{Text: "Hello", IsFinal: true})
	if got := textOf(c.waitFor(app.TypeUtterance, nil)); got != "Hello" {
		t.Errorf("utterance = %q, want Hello", got)
	}
	c.waitState("processing")
	if got := textOf(c.waitFor(app.TypeReply, nil)); got != "Hi there! What is your goal today?" {
		t.Errorf("reply = %q", got)
	}
	c.waitState("speaking")
	c.waitState("listening")

	c.mu.Lock()
	played := c.audio
	c.mu.Unlock()
	if played != 320 {
		t.Errorf("client received %d audio bytes, want 320", played)
	}

	eventually(t, "persisted exchange", func() bool {
		msgs, _ := f.store.RecentMessages(context.Background(), "u1", 10)
		return len(msgs) == 2
	})
	msgs, _ := f.store.RecentMessages(context.Background(), "u1", 10)
	if msgs[0].Content != "Hello" || msgs[1].Content != "Hi there! What is your goal today?" {
		t.Errorf("stored %+v", msgs)
	}

	c.control(app.TypeStop, nil)
	c.waitState("idle")
}

func TestVoiceSession_HistorySeededFromStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for _, m := range []types.Message{types.UserMessage("I want to run 10k"), types.AssistantMessage("Great goal!")} {
		if _, err := f.store.AppendMessage(ctx, "u2", m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	c := f.dial(t, "u2")
	c.waitFor(app.TypeSession, nil)
	c.control(app.TypeStart, nil)
	c.waitState("listening")
	eventually(t, "stt stream", func() bool { return f.stt.CallCount() == 1 })
	f.stt.LastSession().Emit(stt.Transcript{Text: "How far today?", IsFinal: true})
	c.waitFor(app.TypeReply, nil)

	req, ok := f.llm.LastCompleteRequest()
	if !ok {
		t.Fatal("generator not called")
	}
	if n := len(req.Messages); n != 3 || req.Messages[0].Content != "I want to run 10k" {
		t.Errorf("request messages = %+v, want stored history plus the utterance", req.Messages)
	}
}

func TestVoiceSession_GeneratorError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.CompleteErr = errors.New("rate limited")
	f.llm.CompleteResponse = nil

	c := f.dial(t, "u3")
	c.waitFor(app.TypeSession, nil)
	c.control(app.TypeStart, nil)
	c.waitState("listening")
	eventually(t, "stt stream", func() bool { return f.stt.CallCount() == 1 })
	f.stt.LastSession().Emit(stt.Transcript{Text: "Hello", IsFinal: true})

	ev := c.waitFor(app.TypeError, nil)
	var body struct {
		Kind     string `json:"kind"`
		Terminal bool   `json:"terminal"`
	}
	_ = ev.Decode(&body)
	if body.Kind != "response_generator" || body.Terminal {
		t.Errorf("error event = %s", ev.Data)
	}
	c.waitState("listening")
}

func TestVoiceSession_PreferenceAndSpeechToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "u4")
	c.waitFor(app.TypeSession, nil)

	c.control(app.TypeSetPreference, app.PreferencePayload{VoiceName: "Bob", Style: "supportive"})
	c.waitFor(app.TypeVoicePref, nil)
	eventually(t, "saved preference", func() bool {
		p, err := f.store.VoicePreference(context.Background(), "u4")
		return err == nil && p.VoiceName == "Bob" && p.Style == "supportive"
	})

	c.control(app.TypeSetPreference, app.PreferencePayload{Style: "sarcastic"})
	ev := c.waitFor(app.TypeError, nil)
	if !strings.Contains(string(ev.Data), "invalid_request") {
		t.Errorf("error event = %s", ev.Data)
	}

	c.control(app.TypeToggleSpeech, nil)
	ev = c.waitFor(app.TypeSpeechEnabled, nil)
	if !strings.Contains(string(ev.Data), `"enabled":false`) {
		t.Errorf("speech_enabled = %s, want false after first toggle", ev.Data)
	}
}

func TestVoiceSession_Dictation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "u5")
	c.waitFor(app.TypeSession, nil)

	c.control(app.TypeRecordStart, nil)
	c.waitFor(app.TypeRecording, func(m wsaudio.Message) bool { return strings.Contains(string(m.Data), "true") })

	// Voice mode is refused while recording.
	c.control(app.TypeStart, nil)
	busy := c.waitFor(app.TypeError, nil)
	if !strings.Contains(string(busy.Data), `"kind":"busy"`) {
		t.Errorf("error event = %s, want busy", busy.Data)
	}

	pcm := audio.EncodePCM(make([]int16, 1600))
	for range 3 {
		if err := c.ws.Write(context.Background(), websocket.MessageBinary, pcm); err != nil {
			t.Fatalf("write pcm: %v", err)
		}
	}
	time.Sleep(100 * time.Millisecond)

	c.control(app.TypeRecordStop, nil)
	c.waitFor(app.TypeRecording, func(m wsaudio.Message) bool { return strings.Contains(string(m.Data), "false") })
	if got := textOf(c.waitFor(app.TypeDictation, nil)); got != "five kilometres today" {
		t.Errorf("dictation = %q", got)
	}
	if f.trans.CallCount() != 1 {
		t.Errorf("transcriber calls = %d, want 1", f.trans.CallCount())
	}
}

func TestVoiceSession_RequiresUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/v1/voice", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestShutdown_ClosesSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "u6")
	c.waitFor(app.TypeSession, nil)
	eventually(t, "registered session", func() bool { return f.app.Sessions().Len() == 1 })

	resp, body := f.do(t, http.MethodGet, "/v1/sessions", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"user_id":"u6"`) {
		t.Errorf("GET /v1/sessions = %d %s", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := f.app.Sessions().Len(); n != 0 {
		t.Errorf("sessions after shutdown = %d", n)
	}
	eventually(t, "client disconnect", func() bool {
		select {
		case _, ok := <-c.events:
			return !ok
		default:
			return false
		}
	})
}

// ─── HTTP API ───────────────────────────────────────────────────────────────

func TestVoices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		query        string
		wantStatus   int
		wantSelected string
	}{
		{name: "by name", query: "?voice=Bob", wantStatus: http.StatusOK, wantSelected: "v2"},
		{name: "invalid gender", query: "?gender=robot", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			resp, body := f.do(t, http.MethodGet, "/v1/voices"+tt.query, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantSelected == "" {
				return
			}
			var got struct {
				Voices   []struct{ ID string } `json:"voices"`
				Selected *struct{ ID string }  `json:"selected"`
			}
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got.Voices) != 2 || got.Selected == nil || got.Selected.ID != tt.wantSelected {
				t.Errorf("body = %s", body)
			}
		})
	}
}

func TestVoices_CatalogueError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.tts.ListVoicesErr = errors.New("upstream down")
	resp, _ := f.do(t, http.MethodGet, "/v1/voices", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestVoicePreferenceAPI(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	const path = "/v1/users/u7/voice-preference"

	if resp, _ := f.do(t, http.MethodGet, path, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET before PUT = %d, want 404", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPut, path, app.PreferencePayload{VoiceName: "Ava", Gender: "female", Style: "motivational"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT = %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, path, nil)
	var got store.VoicePreference
	if err := json.Unmarshal(body, &got); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("GET = %d %s", resp.StatusCode, body)
	}
	if got.VoiceName != "Ava" || got.Style != "motivational" || got.UpdatedAt.IsZero() {
		t.Errorf("preference = %+v", got)
	}

	for _, bad := range []any{
		app.PreferencePayload{Style: "sarcastic"},
		map[string]string{"colour": "blue"},
	} {
		if resp, _ := f.do(t, http.MethodPut, path, bad); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("PUT %v = %d, want 400", bad, resp.StatusCode)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, body := f.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d %s", path, resp.StatusCode, body)
		}
	}
	_, body := f.do(t, http.MethodGet, "/readyz", nil)
	if !strings.Contains(string(body), `"store":"ok"`) {
		t.Errorf("readyz = %s", body)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	if _, err := app.New(testConfig(), &app.Providers{LLM: &llmmock.Provider{}}); err == nil {
		t.Error("New without TTS succeeded")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()
	closed := make(chan struct{})
	a, err := app.New(testConfig(), &app.Providers{LLM: &llmmock.Provider{}, TTS: &ttsmock.Provider{}},
		app.WithCloser(func() error { close(closed); return nil }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	eventually(t, "server up", func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	select {
	case <-closed:
	default:
		t.Error("closer not run")
	}
}
