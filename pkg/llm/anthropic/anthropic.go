// Package anthropic implements the completion client on top of the Claude
// messages API.
package anthropic

import (
	"context"
	"iter"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/llm/base"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

const providerName = "anthropic"

// Client is a Claude completion client.
type Client struct {
	client   anthropic.Client
	settings base.Settings
}

// New creates a client from cfg. The API key falls back to ANTHROPIC_API_KEY.
func New(cfg llmtypes.Config) (*Client, error) {
	var apiKey, baseURL string
	if cfg.Anthropic != nil {
		apiKey = cfg.Anthropic.APIKey
		baseURL = cfg.Anthropic.BaseURL
	}
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("anthropic api key is not set (anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	// retries are handled by base.Do
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{
		client:   anthropic.NewClient(opts...),
		settings: base.Resolve(cfg, DefaultModel),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

// Model returns the model requests are sent to.
func (c *Client) Model() string { return c.settings.Model }

func (c *Client) params(messages []llmtypes.Message) anthropic.MessageNewParams {
	system, rest := base.SplitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.settings.Model),
		MaxTokens: int64(c.settings.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(rest)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == llmtypes.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params
}

// Complete returns the whole completion for messages.
func (c *Client) Complete(ctx context.Context, messages []llmtypes.Message) (string, error) {
	params := c.params(messages)

	var resp *anthropic.Message
	err := base.Do(ctx, providerName, c.settings.Retry, isRetryableError, func() error {
		var err error
		resp, err = c.client.Messages.New(ctx, params)
		return err
	})
	if err != nil {
		return "", &errdefs.CompletionError{Provider: providerName, Cause: err}
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}

	logger.G(ctx).WithField("model", string(resp.Model)).
		WithField("input_tokens", resp.Usage.InputTokens).
		WithField("output_tokens", resp.Usage.OutputTokens).
		Debug("completion finished")

	return out.String(), nil
}

// Stream yields text deltas as they arrive.
func (c *Client) Stream(ctx context.Context, messages []llmtypes.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := c.client.Messages.NewStreaming(ctx, c.params(messages))
		defer stream.Close()

		for stream.Next() {
			event, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			if !yield(delta.Text, nil) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			yield("", &errdefs.CompletionError{Provider: providerName, Cause: err})
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

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode == 529 || apiErr.StatusCode >= 500
	}

	// anything that never produced a response is a transport failure
	return true
}
