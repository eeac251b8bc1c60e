// Package openai implements the completion client on top of the OpenAI chat
// completions API. Any OpenAI compatible endpoint can be used by setting a
// base URL.
package openai

import (
	"context"
	"io"
	"iter"
	"os"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/tabletalk-dev/tabletalk/pkg/llm/base"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4oMini

const providerName = "openai"

// Client is an OpenAI completion client.
type Client struct {
	client   *openai.Client
	settings base.Settings
}

// New creates a client from cfg. The API key falls back to OPENAI_API_KEY.
func New(cfg llmtypes.Config) (*Client, error) {
	var apiKey, baseURL string
	if cfg.OpenAI != nil {
		apiKey = cfg.OpenAI.APIKey
		baseURL = cfg.OpenAI.BaseURL
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai api key is not set (openai.api_key or OPENAI_API_KEY)")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		settings: base.Resolve(cfg, DefaultModel),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

// Model returns the model requests are sent to.
func (c *Client) Model() string { return c.settings.Model }

func (c *Client) request(messages []llmtypes.Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:     c.settings.Model,
		Messages:  msgs,
		MaxTokens: c.settings.MaxTokens,
		Stream:    stream,
	}
}

// Complete returns the whole completion for messages. Transport failures
// are retried according to the configured policy.
func (c *Client) Complete(ctx context.Context, messages []llmtypes.Message) (string, error) {
	req := c.request(messages, false)

	var resp openai.ChatCompletionResponse
	err := base.Do(ctx, providerName, c.settings.Retry, isRetryableError, func() error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", &errdefs.CompletionError{Provider: providerName, Cause: err}
	}
	if len(resp.Choices) == 0 {
		return "", &errdefs.CompletionError{Provider: providerName, Cause: errors.New("response has no choices")}
	}

	logger.G(ctx).WithField("model", resp.Model).
		WithField("prompt_tokens", resp.Usage.PromptTokens).
		WithField("completion_tokens", resp.Usage.CompletionTokens).
		Debug("completion finished")

	return resp.Choices[0].Message.Content, nil
}

// Stream yields the completion as it is produced. Breaking out of the loop
// closes the underlying stream.
func (c *Client) Stream(ctx context.Context, messages []llmtypes.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, true))
		if err != nil {
			yield("", &errdefs.CompletionError{Provider: providerName, Cause: err})
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", &errdefs.CompletionError{Provider: providerName, Cause: err})
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		statusCode := apiErr.HTTPStatusCode
		return statusCode == 429 || statusCode >= 500 && statusCode < 600
	}

	var httpErr *openai.RequestError
	return errors.As(err, &httpErr)
}
