package openai_provider

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"deepresearch/internal/state"
)

// UsageRecorder receives token counts for every completed call.
// Implemented by the telemetry package; may be nil.
type UsageRecorder interface {
	RecordLLMUsage(model string, promptTokens, completionTokens int)
}

// Client implements provider.Completer against the OpenAI API.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	recorder    UsageRecorder
}

// NewClient creates a new OpenAI-backed completer.
func NewClient(apiKey, model string, temperature float32, maxTokens int, timeout time.Duration, recorder UsageRecorder) *Client {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		api:         openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		recorder:    recorder,
	}
}

// Complete sends the conversation and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, messages []state.Message, modelHint string) (string, error) {
	model := c.model
	if modelHint != "" {
		model = modelHint
	}

	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    converted,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	if c.recorder != nil {
		c.recorder.RecordLLMUsage(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return resp.Choices[0].Message.Content, nil
}
