// Package llm treats the language model backend as an opaque oracle behind
// two narrow operations, so that no component outside this package ever
// sees a provider-specific response wrapper (OpenAI's tool_calls envelope,
// Anthropic's content blocks, and so on).
package llm

import (
	"context"
	"strings"
)

// Message is one turn of a conversation sent to GenerateStructured.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Provider is the narrow contract every LLM backend implements.
type Provider interface {
	// GenerateSQL sends a freeform prompt and returns the raw completion
	// text plus a short rationale extracted from it, if the provider
	// separates the two (most providers don't; rationale may be empty).
	GenerateSQL(ctx context.Context, prompt string) (sqlText string, rationale string, err error)

	// GenerateStructured sends a message sequence and returns the raw
	// JSON text of the provider's response. Callers are responsible for
	// parsing; this package never unmarshals domain types.
	GenerateStructured(ctx context.Context, messages []Message) (jsonText string, err error)

	// Name identifies the backend for logging and prompt-budget policy.
	Name() string
}

// Config configures any Provider constructed by New.
type Config struct {
	Provider    string // "openai", "anthropic", "mock"
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	TimeoutSec  int
}

// New constructs a Provider for the configured backend. Providers not
// wired here (ollama, azure, google, openrouter, z-ai, local) are
// deliberately omitted: they are HTTP-compatible variants of openai/
// anthropic that add no new SPEC_FULL.md component and no new dependency,
// so the core speaks through only the two backends needed to exercise
// GenerateSQL/GenerateStructured plus a deterministic mock for tests.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAI(cfg), nil
	case "anthropic":
		return newAnthropic(cfg), nil
	case "mock", "":
		return NewMock(nil), nil
	default:
		return nil, ErrUnsupportedProvider(cfg.Provider)
	}
}

// errUnsupportedProvider reports an unrecognized provider name.
type errUnsupportedProvider string

func (e errUnsupportedProvider) Error() string { return "unsupported LLM provider: " + string(e) }

// ErrUnsupportedProvider constructs the error value for an unknown provider name.
func ErrUnsupportedProvider(name string) error { return errUnsupportedProvider(name) }
