// Package openrouter completes prompts through OpenRouter's OpenAI-compatible
// chat completions API.
package openrouter

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/resilience"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Completer sends a system and user prompt and returns the completion text.
type Completer struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// Option configures the Completer.
type Option func(*settings)

type settings struct {
	baseURL     string
	temperature float64
	maxTokens   int64
	extra       []option.RequestOption
}

// WithBaseURL overrides the OpenRouter endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(s *settings) { s.maxTokens = n }
}

// WithRequestOptions appends raw SDK request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(s *settings) { s.extra = append(s.extra, opts...) }
}

// NewCompleter builds an OpenRouter completer for model. SDK retries are
// disabled; callers wrap requests in a resilience policy.
func NewCompleter(apiKey, model string, opts ...Option) *Completer {
	s := settings{baseURL: defaultBaseURL, temperature: 0.2, maxTokens: 4096}
	for _, o := range opts {
		o(&s)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(s.baseURL),
		option.WithMaxRetries(0),
	}
	reqOpts = append(reqOpts, s.extra...)

	return &Completer{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: s.temperature,
		maxTokens:   s.maxTokens,
	}
}

// Complete runs one chat completion.
func (c *Completer) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", classify(eris.Wrap(err, "openrouter: chat completion"))
	}

	zap.L().Info("llm cost attribution",
		zap.String("provider", "openrouter"),
		zap.String("model", c.model),
		zap.Int64("input_tokens", resp.Usage.PromptTokens),
		zap.Int64("output_tokens", resp.Usage.CompletionTokens),
	)

	if len(resp.Choices) == 0 {
		return "", eris.New("openrouter: no choices in response")
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", eris.Errorf("openrouter: empty completion (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	return text, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}
