package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/cadence/internal/app"
	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/audio/wsaudio"
)

const talkHelp = `commands:
  start            enter voice mode
  <enter>          submit what you said so far
  finish           submit and leave voice mode after the reply
  stop             leave voice mode
  mute             toggle spoken replies
  record | done    start and stop dictation
  voice <name>     prefer a voice by name or ID fragment
  gender <g>       prefer female or male voices
  style <s>        neutral, motivational, professional or supportive
  help | quit`

func newTalkCommand(root *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Talk to the coach through the local microphone and speakers",
		Long: "talk runs a single voice session against the local sound card. It needs a binary built " +
			"with -tags portaudio.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTalk(ctx, root, user, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&user, "user", "local", "user ID the conversation is stored under")
	return cmd
}

func runTalk(ctx context.Context, root *rootOptions, user string, in io.Reader, out io.Writer) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	registerAudioBackends(reg)

	entry := cfg.Providers.Audio
	if entry.Name == "" {
		entry.Name = "portaudio"
	}
	backend, err := reg.CreateAudio(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return fmt.Errorf("local audio backend %q is not built in; rebuild with -tags portaudio", entry.Name)
	}
	if err != nil {
		return fmt.Errorf("open local audio: %w", err)
	}
	if backend.Close != nil {
		defer func() {
			if err := backend.Close(); err != nil {
				slog.Warn("close local audio", "err", err)
			}
		}()
	}

	providers, _, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions := app.NewSessionManager(cfg, providers, st, observe.DefaultMetrics())
	tr := newConsoleTransport(backend.Device, backend.Sink, out)
	go tr.readCommands(in)

	fmt.Fprintln(out, talkHelp)
	return sessions.Serve(ctx, user, tr)
}

// ── Console transport ─────────────────────────────────────────────────────────

// consoleTransport adapts the local sound card and a terminal to
// [app.Transport]. Typed commands become control messages and session
// events are printed as text.
type consoleTransport struct {
	audio.Device
	audio.Sink

	out     io.Writer
	control chan wsaudio.Message
	done    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	pref app.PreferencePayload
}

var _ app.Transport = (*consoleTransport)(nil)

func newConsoleTransport(dev audio.Device, sink audio.Sink, out io.Writer) *consoleTransport {
	return &consoleTransport{
		Device:  dev,
		Sink:    sink,
		out:     out,
		control: make(chan wsaudio.Message, 8),
		done:    make(chan struct{}),
	}
}

func (t *consoleTransport) Control() <-chan wsaudio.Message { return t.control }
func (t *consoleTransport) Done() <-chan struct{}           { return t.done }

func (t *consoleTransport) hangUp() { t.once.Do(func() { close(t.done) }) }

// consoleEvent is the union of the payload fields the console prints.
type consoleEvent struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Previous  string `json:"previous"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Terminal  bool   `json:"terminal"`
	Enabled   bool   `json:"enabled"`
	Active    bool   `json:"active"`
	VoiceName string `json:"voice_name"`
	Gender    string `json:"gender"`
	Style     string `json:"style"`

	RecognitionAvailable bool `json:"recognition_available"`
	DictationAvailable   bool `json:"dictation_available"`
}

// Send prints a session event.
func (t *consoleTransport) Send(_ context.Context, typ string, data any) error {
	if typ == app.TypeBars {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var ev consoleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}

	var line string
	switch typ {
	case app.TypeSession:
		line = fmt.Sprintf("session %s ready (recognition: %t, dictation: %t)", ev.ID, ev.RecognitionAvailable, ev.DictationAvailable)
	case app.TypeState:
		line = fmt.Sprintf("[%s]", ev.State)
	case app.TypeTranscript:
		line = "  … " + ev.Text
	case app.TypeUtterance:
		line = "you:   " + ev.Text
	case app.TypeReply:
		line = "coach: " + ev.Text
	case app.TypeDictation:
		line = "dictated: " + ev.Text
	case app.TypeError:
		line = fmt.Sprintf("error (%s): %s", ev.Kind, ev.Message)
	case app.TypeSpeechEnabled:
		line = fmt.Sprintf("spoken replies: %s", onOff(ev.Enabled))
	case app.TypeRecording:
		line = fmt.Sprintf("recording: %s", onOff(ev.Active))
	case app.TypeVoicePref:
		t.mu.Lock()
		t.pref = app.PreferencePayload{VoiceName: ev.VoiceName, Gender: ev.Gender, Style: ev.Style}
		t.mu.Unlock()
		line = fmt.Sprintf("voice preference: name=%q gender=%q style=%q", ev.VoiceName, ev.Gender, ev.Style)
	default:
		return nil
	}
	_, err = fmt.Fprintln(t.out, line)
	return err
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// readCommands turns typed lines into control messages until quit or EOF.
func (t *consoleTransport) readCommands(in io.Reader) {
	defer t.hangUp()
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		msg, err := t.parseCommand(sc.Text())
		switch {
		case errors.Is(err, errQuit):
			return
		case errors.Is(err, errHelp):
			fmt.Fprintln(t.out, talkHelp)
			continue
		case err != nil:
			fmt.Fprintln(t.out, err)
			continue
		}
		select {
		case t.control <- msg:
		case <-t.done:
			return
		}
	}
}

var (
	errQuit = errors.New("quit")
	errHelp = errors.New("help")
)

func (t *consoleTransport) parseCommand(line string) (wsaudio.Message, error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "", "submit":
		return wsaudio.Message{Type: app.TypeSubmit}, nil
	case "start":
		return wsaudio.Message{Type: app.TypeStart}, nil
	case "finish":
		return wsaudio.Message{Type: app.TypeFinish}, nil
	case "stop":
		return wsaudio.Message{Type: app.TypeStop}, nil
	case "mute":
		return wsaudio.Message{Type: app.TypeToggleSpeech}, nil
	case "record":
		return wsaudio.Message{Type: app.TypeRecordStart}, nil
	case "done":
		return wsaudio.Message{Type: app.TypeRecordStop}, nil
	case "voice", "gender", "style":
		t.mu.Lock()
		p := t.pref
		t.mu.Unlock()
		switch strings.ToLower(verb) {
		case "voice":
			p.VoiceName = arg
		case "gender":
			p.Gender = strings.ToLower(arg)
		case "style":
			p.Style = strings.ToLower(arg)
		}
		if err := p.Validate(); err != nil {
			return wsaudio.Message{}, err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return wsaudio.Message{}, err
		}
		return wsaudio.Message{Type: app.TypeSetPreference, Data: data}, nil
	case "help", "?":
		return wsaudio.Message{}, errHelp
	case "quit", "exit", "q":
		return wsaudio.Message{}, errQuit
	}
	return wsaudio.Message{}, fmt.Errorf("unknown command %q; type help", verb)
}
