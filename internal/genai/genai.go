// Package genai provides model-backed text generation using the OpenAI API.
//
// The client is constructed explicitly and injected wherever generation is
// needed; there is no package-level instance. Calls fail fast: retry policy
// belongs to the message handler at the pipeline boundary, not here.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration values.
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 30 * time.Second
)

// Error variables for better error handling and testability.
var (
	ErrAPIKeyNotSet      = errors.New("OPENAI_API_KEY not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ClientInterface abstracts the GenAI client for dependency injection and
// testing.
type ClientInterface interface {
	// GenerateWithMessages generates a completion for an arbitrary message sequence.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat    chatService
	model   openai.ChatModel
	timeout time.Duration
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly, overriding the environment.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient initializes a GenAI client. The API key is taken from options
// or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("GenAI client initialized", "model", model, "timeout", timeout)
	return &Client{chat: &cli.Chat.Completions, model: model, timeout: timeout}, nil
}

// GenerateWithMessages generates a completion for the given message
// sequence, bounded by the configured timeout.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chat.New(callCtx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("GenAI GenerateWithMessages failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
