// Package advisor asks an LLM for performance advice about redacted
// snapshot summaries. Raw snapshots never reach a provider.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/coral-mesh/vmlens/internal/errors"
	"github.com/coral-mesh/vmlens/internal/privacy"
)

// Kind selects the LLM backend.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindGoogle    Kind = "google"
	KindAnthropic Kind = "anthropic"
)

// Default models and API key variables per backend.
var (
	defaultModels = map[Kind]string{
		KindOpenAI:    "gpt-4o-mini",
		KindGoogle:    "gemini-2.0-flash",
		KindAnthropic: "claude-sonnet-4-5",
	}
	defaultEnvVars = map[Kind]string{
		KindOpenAI:    "OPENAI_API_KEY",
		KindGoogle:    "GOOGLE_API_KEY",
		KindAnthropic: "ANTHROPIC_API_KEY",
	}
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindOpenAI, KindGoogle, KindAnthropic:
		return k, nil
	case "":
		return KindOpenAI, nil
	default:
		return "", perrors.Newf(perrors.KindMalformed, "parse advisor kind", "unsupported provider %q (want openai, google or anthropic)", s)
	}
}

// Config holds advisor settings.
type Config struct {
	Kind    Kind
	Model   string // Default: per backend
	APIKey  string // Literal key, or env://VAR. Default: the backend's env var
	BaseURL string // OpenAI-compatible endpoint override
	// MaxTokens bounds the response length (default: 1024).
	MaxTokens int64
}

// Message is one turn of a conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Entity is a single function or class to explain. Exactly one field is set.
type Entity struct {
	Function *privacy.FunctionEntry `json:"function,omitempty"`
	Class    *privacy.ClassEntry    `json:"class,omitempty"`
}

// Advisor is the capability offered to callers.
type Advisor interface {
	Analyze(ctx context.Context, summary privacy.Summary) (string, error)
	Chat(ctx context.Context, summary privacy.Summary, history []Message, question string) (string, error)
	AnalyzeEntity(ctx context.Context, entity Entity) (string, error)
}

// completer is implemented once per backend.
type completer interface {
	complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Client talks to one backend.
type Client struct {
	kind    Kind
	model   string
	backend completer
	logger  zerolog.Logger
}

var _ Advisor = (*Client)(nil)

// New creates a client for cfg.Kind.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[kind]
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	apiKey, err := resolveAPIKey(cfg.APIKey, kind)
	if err != nil {
		return nil, err
	}

	var backend completer
	switch kind {
	case KindOpenAI:
		backend = newOpenAI(apiKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens)
	case KindGoogle:
		backend, err = newGoogle(ctx, apiKey, cfg.Model, cfg.MaxTokens)
	case KindAnthropic:
		backend = newAnthropic(apiKey, cfg.Model, cfg.MaxTokens)
	}
	if err != nil {
		return nil, err
	}
	return newClient(kind, cfg.Model, backend, logger), nil
}

func newClient(kind Kind, model string, backend completer, logger zerolog.Logger) *Client {
	return &Client{
		kind:    kind,
		model:   model,
		backend: backend,
		logger:  logger.With().Str("component", "advisor").Str("provider", string(kind)).Logger(),
	}
}

// Kind returns the backend in use.
func (c *Client) Kind() Kind { return c.kind }

// Model returns the model in use.
func (c *Client) Model() string { return c.model }

// Close releases backend resources.
func (c *Client) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Analyze asks for the main bottlenecks in summary.
func (c *Client) Analyze(ctx context.Context, summary privacy.Summary) (string, error) {
	payload, err := encode(summary)
	if err != nil {
		return "", err
	}
	return c.ask(ctx, "analyze", []Message{{
		Role:    "user",
		Content: "Here is a performance snapshot summary of a running app:\n\n" + payload + "\n\nIdentify the most important bottlenecks and suggest concrete fixes.",
	}})
}

// Chat continues a conversation about summary.
func (c *Client) Chat(ctx context.Context, summary privacy.Summary, history []Message, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", perrors.Newf(perrors.KindMalformed, "advisor chat", "question is empty")
	}
	payload, err := encode(summary)
	if err != nil {
		return "", err
	}
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "user", Content: "Performance snapshot summary:\n\n" + payload})
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: question})
	return c.ask(ctx, "chat", msgs)
}

// AnalyzeEntity explains one hot function or heavy class.
func (c *Client) AnalyzeEntity(ctx context.Context, entity Entity) (string, error) {
	var prompt string
	switch {
	case entity.Function != nil:
		prompt = "This function is a CPU hotspot. Explain likely causes and fixes:\n\n"
	case entity.Class != nil:
		prompt = "Instances of this class use a lot of memory. Explain why they may be retained and how to fix it:\n\n"
	default:
		return "", perrors.Newf(perrors.KindMalformed, "advisor analyze entity", "entity is empty")
	}
	payload, err := encode(entity)
	if err != nil {
		return "", err
	}
	return c.ask(ctx, "analyze_entity", []Message{{Role: "user", Content: prompt + payload}})
}

func (c *Client) ask(ctx context.Context, op string, msgs []Message) (string, error) {
	c.logger.Debug().Str("op", op).Int("messages", len(msgs)).Msg("Sending advisor request")
	out, err := c.backend.complete(ctx, systemPrompt, msgs)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.kind, err)
	}
	return strings.TrimSpace(out), nil
}

const systemPrompt = `You are a performance engineer for Dart and Flutter applications.
You receive redacted telemetry: CPU hotspots, heap usage by class with
retention paths, and frame timings. Names starting with "id_" are
pseudonyms; refer to them as given. Never guess file paths. Be concise
and give actionable recommendations ordered by impact.`

func encode(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode advisor payload: %w", err)
	}
	return string(b), nil
}

// resolveAPIKey accepts a literal key or an env://VAR reference and falls
// back to the backend's default variable.
func resolveAPIKey(configured string, kind Kind) (string, error) {
	if envVar, ok := strings.CutPrefix(configured, "env://"); ok {
		configured = os.Getenv(envVar)
		if configured == "" {
			return "", perrors.Newf(perrors.KindUnavailable, "resolve api key", "%s API key not configured: environment variable %s is not set", kind, envVar)
		}
	}
	if configured == "" {
		configured = os.Getenv(defaultEnvVars[kind])
	}
	if configured == "" {
		return "", perrors.Newf(perrors.KindUnavailable, "resolve api key", "%s API key not configured (set %s)", kind, defaultEnvVars[kind])
	}
	return configured, nil
}
