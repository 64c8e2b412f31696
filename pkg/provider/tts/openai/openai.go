// Package openai provides a tts.Provider backed by the OpenAI speech endpoint.
// Audio is requested as raw PCM (24 kHz, mono, 16-bit little-endian).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	sampleRate   = 24000
	readChunk    = 4800 // 100 ms
)

// catalogue is the fixed set of built-in voices, in the order OpenAI lists
// them. All voices are multilingual; English is their reference locale.
var catalogue = []tts.VoiceProfile{
	{ID: "alloy", Name: "Alloy"},
	{ID: "ash", Name: "Ash", Gender: "male"},
	{ID: "ballad", Name: "Ballad", Gender: "male"},
	{ID: "coral", Name: "Coral", Gender: "female"},
	{ID: "echo", Name: "Echo", Gender: "male"},
	{ID: "fable", Name: "Fable", Gender: "male"},
	{ID: "nova", Name: "Nova", Gender: "female"},
	{ID: "onyx", Name: "Onyx", Gender: "male"},
	{ID: "sage", Name: "Sage", Gender: "female"},
	{ID: "shimmer", Name: "Shimmer", Gender: "female"},
	{ID: "verse", Name: "Verse", Gender: "male"},
}

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	baseURL      string
	model        string
	instructions string
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model ("gpt-4o-mini-tts", "tts-1", "tts-1-hd").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithInstructions sets delivery instructions for models that accept them.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// Provider implements tts.Provider.
type Provider struct {
	client       oai.Client
	model        string
	instructions string
}

var _ tts.Provider = (*Provider)(nil)

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := config{model: defaultModel}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model, instructions: cfg.instructions}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: sampleRate, Channels: 1}
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, len(catalogue))
	for i, v := range catalogue {
		v.Provider = "openai"
		v.Locale = "en"
		out[i] = v
	}
	return out, nil
}

// SynthesizeStream issues one speech request per text fragment, in order, and
// streams each response body as it arrives.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, tts.ErrVoiceRequired
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-text:
				if !ok {
					return
				}
				if strings.TrimSpace(fragment) == "" {
					continue
				}
				if err := p.speak(ctx, fragment, voice, out); err != nil {
					if ctx.Err() == nil {
						slog.Warn("openai tts: synthesis failed", "voice", voice.ID, "err", err)
					}
					go audio.Drain(text)
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, text string, voice tts.VoiceProfile, out chan<- []byte) error {
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		params.Speed = oai.Float(min(max(voice.SpeedFactor, 0.25), 4.0))
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, readChunk)
	var carry []byte
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			// Keep chunks sample-aligned.
			even := len(data) &^ 1
			carry = append([]byte(nil), data[even:]...)
			if even > 0 {
				chunk := append([]byte(nil), data[:even]...)
				select {
				case out <- chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}
