// Package coach turns a user's utterance and the conversation so far into a
// spoken coaching reply using an [llm.Provider].
//
// The system prompt is assembled from a [Persona] and a response style. The
// history sent with each request is trimmed from the oldest message until it
// fits the token budget.
package coach

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/cadence/internal/observe"
	"github.com/MrWong99/cadence/pkg/provider/llm"
	"github.com/MrWong99/cadence/pkg/types"
)

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("coach: empty reply")

// DefaultPersona is used when no persona is configured.
var DefaultPersona = Persona{
	Name: "Cadence",
	Instructions: "You are Cadence, a personal coach helping the user reach their goals. " +
		"Ask one focused question at a time and celebrate progress.",
}

// spokenRules is appended to every system prompt; replies are read aloud.
const spokenRules = "Your reply will be spoken aloud. Answer in two to four short sentences " +
	"of plain prose without markdown, lists, emoji or URLs."

var styleGuidance = map[string]string{
	"motivational": "Be energetic and encouraging. Push the user toward the next concrete step.",
	"professional": "Be concise, structured and matter-of-fact.",
	"supportive":   "Be warm and patient. Acknowledge feelings before giving advice.",
}

// Persona describes who the coach is.
type Persona struct {
	Name         string `yaml:"name" json:"name"`
	Instructions string `yaml:"instructions" json:"instructions"`
}

// Option configures a [Generator].
type Option func(*Generator)

// WithPersona sets the coach persona.
func WithPersona(p Persona) Option {
	return func(g *Generator) { g.persona = p }
}

// WithStyle sets the response style ("motivational", "professional",
// "supportive" or "neutral").
func WithStyle(style string) Option {
	return func(g *Generator) { g.style = style }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithHistoryBudget limits the tokens spent on history plus the new
// utterance. Zero derives the budget from the model's context window.
func WithHistoryBudget(tokens int) Option {
	return func(g *Generator) { g.budget = tokens }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(g *Generator) { g.providerName = name }
}

// WithMetrics records generation latency and provider requests.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// Generator produces coaching replies. It is safe for concurrent use.
type Generator struct {
	llm          llm.Provider
	temperature  float64
	maxTokens    int
	budget       int
	providerName string
	metrics      *observe.Metrics

	mu      sync.RWMutex
	persona Persona
	style   string
}

// New returns a Generator backed by p.
func New(p llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:          p,
		persona:      DefaultPersona,
		providerName: "llm",
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetPersona replaces the persona for subsequent requests.
func (g *Generator) SetPersona(p Persona) {
	g.mu.Lock()
	g.persona = p
	g.mu.Unlock()
}

// SetStyle replaces the response style for subsequent requests.
func (g *Generator) SetStyle(style string) {
	g.mu.Lock()
	g.style = style
	g.mu.Unlock()
}

// SystemPrompt returns the prompt the next request will carry.
func (g *Generator) SystemPrompt() string {
	g.mu.RLock()
	p, style := g.persona, g.style
	g.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(p.Instructions))
	if s, ok := styleGuidance[style]; ok {
		sb.WriteString("\n\n")
		sb.WriteString(s)
	}
	sb.WriteString("\n\n")
	sb.WriteString(spokenRules)
	return strings.TrimSpace(sb.String())
}

// Generate returns the coach's reply to utterance given the prior history.
func (g *Generator) Generate(ctx context.Context, utterance string, history []types.Message) (string, error) {
	ctx, span := observe.StartSpan(ctx, "coach.generate",
		trace.WithAttributes(attribute.Int("history.len", len(history))),
	)
	defer span.End()

	system := g.SystemPrompt()
	msgs := g.fit(system, history, types.UserMessage(utterance))
	span.SetAttributes(attribute.Int("history.sent", len(msgs)-1))

	start := time.Now()
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: system,
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	})
	if g.metrics != nil {
		g.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		g.record(ctx, "error")
		return "", fmt.Errorf("coach: generate: %w", err)
	}
	g.record(ctx, "ok")

	if resp == nil {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	observe.Logger(ctx).Debug("coach: reply generated",
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return reply, nil
}

func (g *Generator) record(ctx context.Context, status string) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", status)
	if status != "ok" {
		g.metrics.RecordProviderError(ctx, g.providerName, "llm")
	}
}

// fit returns history followed by next, dropping the oldest history messages
// until the token count fits the budget. next is always kept.
func (g *Generator) fit(system string, history []types.Message, next types.Message) []types.Message {
	budget := g.budget
	if budget <= 0 {
		caps := g.llm.Capabilities()
		if caps.ContextWindow <= 0 {
			// Providers that cannot report limits get the generic defaults.
			caps = llm.CapabilitiesFor("")
		}
		reserve := g.maxTokens
		if reserve <= 0 {
			reserve = caps.MaxOutputTokens
		}
		budget = caps.ContextWindow - reserve - llm.EstimateTokens([]types.Message{{Content: system}})
		if budget <= 0 {
			// Reply reserve alone exceeds the window; trimming cannot help.
			budget = math.MaxInt
		}
	}

	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, next)
	for len(msgs) > 1 && g.count(msgs) > budget {
		msgs = msgs[1:]
	}
	// A conversation must not open with an orphaned assistant turn.
	for len(msgs) > 1 && msgs[0].Role == types.RoleAssistant {
		msgs = msgs[1:]
	}
	return msgs
}

func (g *Generator) count(msgs []types.Message) int {
	n, err := g.llm.CountTokens(msgs)
	if err != nil {
		return llm.EstimateTokens(msgs)
	}
	return n
}
