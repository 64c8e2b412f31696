// Package openai provides an stt.Transcriber backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe and compatible models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/cadence/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Option is a functional option for Transcriber.
type Option func(*config)

type config struct {
	baseURL string
	model   string
	prompt  string
}

// WithBaseURL overrides the API base URL, e.g. for a self-hosted compatible
// server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithPrompt sets a vocabulary prompt sent with every request.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// Transcriber implements stt.Transcriber.
type Transcriber struct {
	client oai.Client
	model  string
	prompt string
}

var _ stt.Transcriber = (*Transcriber)(nil)

// New constructs a Transcriber.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := config{model: defaultModel}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Transcriber{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		prompt: cfg.prompt,
	}, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip stt.Clip, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(clip.WAV()), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(t.model),
	}
	if language != "" {
		if i := strings.IndexAny(language, "-_"); i > 0 {
			language = language[:i]
		}
		params.Language = oai.String(language)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", classify(err))
	}
	return strings.TrimSpace(res.Text), nil
}

func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", stt.ErrUnauthorized, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", stt.ErrNetwork, err)
}
