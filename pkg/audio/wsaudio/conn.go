// Package wsaudio carries a browser's microphone and speaker over a single
// websocket connection.
//
// Binary messages from the client are microphone PCM (16-bit little-endian,
// in the format the client reported when the microphone was granted). Binary
// messages to the client are synthesized PCM framed by "audio_start" and
// "audio_end" control messages. All other traffic is JSON [Message] values;
// messages the connection does not handle itself are delivered on
// [Conn.Control].
package wsaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/cadence/pkg/audio"
)

// Message types handled by the connection itself.
const (
	TypeMicRequest   = "mic_request"
	TypeMicStatus    = "mic_status"
	TypeMicRelease   = "mic_release"
	TypeAudioStart   = "audio_start"
	TypeAudioEnd     = "audio_end"
	TypeAudioCancel  = "audio_cancel"
	TypePlaybackDone = "playback_done"
)

const (
	controlBuffer  = 32
	micBuffer      = 64
	releaseTimeout = 2 * time.Second

	// writeTimeout bounds a single websocket write. An expired write closes
	// the connection, so writes never inherit a caller's cancellation.
	writeTimeout = 10 * time.Second

	// DefaultMicTimeout is how long Open waits for the client to answer a
	// microphone request. It includes the user reacting to the browser's
	// permission prompt.
	DefaultMicTimeout = 30 * time.Second
)

// Message is the JSON envelope of every text frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// MicStatus is the client's answer to a microphone request.
type MicStatus struct {
	Granted    bool   `json:"granted"`
	Error      string `json:"error,omitempty"` // "permission_denied" or "unavailable"
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type micRequest struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

type audioStart struct {
	ID         string `json:"id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type audioRef struct {
	ID string `json:"id"`
}

// Option configures a [Conn].
type Option func(*Conn)

// WithMicTimeout bounds how long Open waits for "mic_status".
func WithMicTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.micTimeout = d
		}
	}
}

// Conn is a websocket-backed [audio.Device] and [audio.Sink].
//
// Create it with [New] and drive it with [Conn.Run]. Conn is safe for
// concurrent use.
type Conn struct {
	ws         *websocket.Conn
	micTimeout time.Duration

	control chan Message
	done    chan struct{}
	closed  atomic.Bool

	mu        sync.Mutex
	micWait   chan MicStatus
	mic       *micStream
	playbacks map[string]chan struct{}
}

var (
	_ audio.Device = (*Conn)(nil)
	_ audio.Sink   = (*Conn)(nil)
)

// New wraps an accepted websocket connection.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:         ws,
		micTimeout: DefaultMicTimeout,
		control:    make(chan Message, controlBuffer),
		done:       make(chan struct{}),
		playbacks:  make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Control returns inbound messages not handled by the connection. The channel
// is closed when [Conn.Run] returns.
func (c *Conn) Control() <-chan Message { return c.control }

// Done is closed when the read loop has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Run reads from the websocket until ctx is cancelled or the peer goes away.
// It returns nil for a normal closure.
func (c *Conn) Run(ctx context.Context) error {
	defer c.shutdown()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wsaudio: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			c.deliverPCM(data)
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("wsaudio: ignoring malformed control message", "err", err)
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Conn) dispatch(ctx context.Context, msg Message) {
	switch msg.Type {
	case TypeMicStatus:
		var st MicStatus
		if err := msg.Decode(&st); err != nil {
			st = MicStatus{Error: "unavailable"}
		}
		c.mu.Lock()
		wait := c.micWait
		c.micWait = nil
		c.mu.Unlock()
		if wait != nil {
			wait <- st
		}
	case TypePlaybackDone:
		var ref audioRef
		_ = msg.Decode(&ref)
		c.mu.Lock()
		if ch, ok := c.playbacks[ref.ID]; ok {
			delete(c.playbacks, ref.ID)
			close(ch)
		}
		c.mu.Unlock()
	default:
		select {
		case c.control <- msg:
		case <-ctx.Done():
		}
	}
}

func (c *Conn) deliverPCM(data []byte) {
	c.mu.Lock()
	mic := c.mic
	c.mu.Unlock()
	if mic == nil {
		return
	}
	mic.push(data)
}

func (c *Conn) shutdown() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	mic := c.mic
	c.mic = nil
	if c.micWait != nil {
		c.micWait <- MicStatus{Error: "unavailable"}
		c.micWait = nil
	}
	for id, ch := range c.playbacks {
		delete(c.playbacks, id)
		close(ch)
	}
	c.mu.Unlock()
	if mic != nil {
		mic.end()
	}
	close(c.control)
	close(c.done)
}

// Send writes a JSON control message. data may be nil.
func (c *Conn) Send(ctx context.Context, typ string, data any) error {
	msg := Message{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("wsaudio: encode %s: %w", typ, err)
		}
		msg.Data = raw
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wsaudio: encode %s: %w", typ, err)
	}
	if err := c.write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("wsaudio: write %s: %w", typ, err)
	}
	return nil
}

// write sends one message detached from ctx's cancellation: cancelling the
// context of an in-flight write makes the websocket library close the whole
// connection.
func (c *Conn) write(ctx context.Context, typ websocket.MessageType, b []byte) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, typ, b)
}

// Open implements [audio.Device]. It asks the client for its microphone and
// waits for the answer, at most the configured mic timeout. Only one
// microphone stream may be open at a time.
func (c *Conn) Open(ctx context.Context, want audio.Format) (audio.Stream, error) {
	if c.closed.Load() {
		return nil, audio.ErrDeviceUnavailable
	}
	wait := make(chan MicStatus, 1)
	c.mu.Lock()
	if c.mic != nil || c.micWait != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("wsaudio: microphone already open: %w", audio.ErrDeviceUnavailable)
	}
	c.micWait = wait
	c.mu.Unlock()

	dropWait := func() {
		c.mu.Lock()
		if c.micWait == wait {
			c.micWait = nil
		}
		c.mu.Unlock()
	}

	if err := c.Send(ctx, TypeMicRequest, micRequest{SampleRate: want.SampleRate, Channels: want.Channels}); err != nil {
		dropWait()
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}

	timer := time.NewTimer(c.micTimeout)
	defer timer.Stop()

	var st MicStatus
	select {
	case st = <-wait:
	case <-timer.C:
		dropWait()
		return nil, fmt.Errorf("wsaudio: no microphone answer within %s: %w", c.micTimeout, audio.ErrDeviceUnavailable)
	case <-c.done:
		dropWait()
		return nil, audio.ErrDeviceUnavailable
	case <-ctx.Done():
		dropWait()
		return nil, ctx.Err()
	}

	if !st.Granted {
		if st.Error == "permission_denied" {
			return nil, audio.ErrPermissionDenied
		}
		return nil, audio.ErrDeviceUnavailable
	}

	f := audio.Format{SampleRate: st.SampleRate, Channels: st.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = want.SampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	m := &micStream{conn: c, format: f, frames: make(chan audio.AudioFrame, micBuffer)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, audio.ErrDeviceUnavailable
	}
	c.mic = m
	return m, nil
}

// Play implements [audio.Sink]. Chunks are sent as binary messages between an
// "audio_start" and an "audio_end" message; Play then waits for the client to
// acknowledge with "playback_done" carrying the same id. Cancelling ctx sends
// "audio_cancel" for that id and keeps the connection open.
func (c *Conn) Play(ctx context.Context, pcm <-chan []byte, f audio.Format) error {
	if c.closed.Load() {
		go audio.Drain(pcm)
		return audio.ErrClosed
	}
	id := uuid.NewString()
	finished := make(chan struct{})
	c.mu.Lock()
	c.playbacks[id] = finished
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.playbacks, id)
		c.mu.Unlock()
	}()

	if err := c.Send(ctx, TypeAudioStart, audioStart{ID: id, SampleRate: f.SampleRate, Channels: f.Channels}); err != nil {
		go audio.Drain(pcm)
		return err
	}

stream:
	for {
		var (
			chunk []byte
			ok    bool
		)
		select {
		case chunk, ok = <-pcm:
		case <-ctx.Done():
			return c.abortPlayback(ctx, id, pcm)
		}
		if !ok {
			break stream
		}
		if ctx.Err() != nil {
			return c.abortPlayback(ctx, id, pcm)
		}
		if err := c.write(ctx, websocket.MessageBinary, chunk); err != nil {
			go audio.Drain(pcm)
			// Best-effort end marker so the client does not wait forever.
			_ = c.Send(ctx, TypeAudioEnd, audioRef{ID: id})
			return fmt.Errorf("wsaudio: write audio: %w", err)
		}
	}

	if err := c.Send(ctx, TypeAudioEnd, audioRef{ID: id}); err != nil {
		return err
	}

	select {
	case <-finished:
		if c.closed.Load() {
			return audio.ErrClosed
		}
		return nil
	case <-ctx.Done():
		_ = c.Send(ctx, TypeAudioCancel, audioRef{ID: id})
		return ctx.Err()
	}
}

// abortPlayback tells the client to drop the audio of playback id and leaves
// the connection open for the rest of the session.
func (c *Conn) abortPlayback(ctx context.Context, id string, pcm <-chan []byte) error {
	go audio.Drain(pcm)
	_ = c.Send(ctx, TypeAudioCancel, audioRef{ID: id})
	return ctx.Err()
}

// Close closes the websocket with a normal closure status.
func (c *Conn) Close() error {
	if err := c.ws.Close(websocket.StatusNormalClosure, ""); err != nil {
		return fmt.Errorf("wsaudio: close: %w", err)
	}
	return nil
}

// ─── microphone stream ────────────────────────────────────────────────────────

type micStream struct {
	conn   *Conn
	format audio.Format

	mu     sync.Mutex
	frames chan audio.AudioFrame
	bytes  int
	ended  bool
}

func (m *micStream) Frames() <-chan audio.AudioFrame { return m.frames }
func (m *micStream) Format() audio.Format            { return m.format }

func (m *micStream) push(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: m.format.SampleRate,
		Channels:   m.format.Channels,
		Timestamp:  m.format.Duration(m.bytes),
	}
	m.bytes += len(data)
	select {
	case m.frames <- frame:
	default:
	}
}

func (m *micStream) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ended {
		m.ended = true
		close(m.frames)
	}
}

// Close releases the microphone and tells the client to stop capturing.
func (m *micStream) Close() error {
	m.mu.Lock()
	already := m.ended
	m.mu.Unlock()
	if already {
		return nil
	}
	m.end()

	c := m.conn
	c.mu.Lock()
	if c.mic == m {
		c.mic = nil
	}
	c.mu.Unlock()
	if c.closed.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	return c.Send(ctx, TypeMicRelease, nil)
}
