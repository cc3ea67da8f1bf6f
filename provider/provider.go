package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"deepresearch/internal/state"
	openai_provider "deepresearch/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Completer is the language-model collaborator every engine step talks
// to. modelHint may be empty, in which case the provider's default
// model is used.
type Completer interface {
	Complete(ctx context.Context, messages []state.Message, modelHint string) (string, error)
}

// NewCompleter creates an LLM client for the given provider.
func NewCompleter(client Client, model string, temperature float32, maxTokens int, timeout time.Duration, recorder openai_provider.UsageRecorder) (Completer, error) {
	switch client {
	case OpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		return openai_provider.NewClient(apiKey, model, temperature, maxTokens, timeout, recorder), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}

// NotJSONError reports a structured completion whose reply could not be
// parsed as JSON for the target type. Raw carries the unparsed reply so
// callers can fall back to free-text handling.
type NotJSONError struct {
	Raw string
	Err error
}

func (e *NotJSONError) Error() string {
	return fmt.Sprintf("structured completion is not valid JSON: %v", e.Err)
}

func (e *NotJSONError) Unwrap() error { return e.Err }

// CompleteStructured asks the completer for JSON and parses it into T.
// A reply that is not valid JSON for T yields a NotJSONError.
func CompleteStructured[T any](ctx context.Context, c Completer, messages []state.Message) (T, error) {
	var out T
	raw, err := c.Complete(ctx, messages, "")
	if err != nil {
		return out, err
	}
	cleaned := StripCodeFence(raw)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return out, &NotJSONError{Raw: raw, Err: err}
	}
	return out, nil
}

// StripCodeFence removes a surrounding markdown code fence, which some
// models wrap around JSON answers.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
