// Package google implements the completion client on top of the Gemini API,
// either through an API key or through Vertex AI.
package google

import (
	"context"
	"iter"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/tabletalk-dev/tabletalk/pkg/llm/base"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const providerName = "google"

// Client is a Gemini completion client.
type Client struct {
	client   *genai.Client
	settings base.Settings
}

// New creates a client from cfg. For the Gemini API backend the key falls
// back to GEMINI_API_KEY, then GOOGLE_API_KEY.
func New(ctx context.Context, cfg llmtypes.Config) (*Client, error) {
	gcfg := llmtypes.GoogleConfig{}
	if cfg.Google != nil {
		gcfg = *cfg.Google
	}

	clientConfig := &genai.ClientConfig{}
	switch gcfg.Backend {
	case "vertexai":
		clientConfig.Backend = genai.BackendVertexAI
		clientConfig.Project = gcfg.Project
		clientConfig.Location = gcfg.Location
	case "", "gemini":
		clientConfig.Backend = genai.BackendGeminiAPI
		clientConfig.APIKey = gcfg.APIKey
		if clientConfig.APIKey == "" {
			clientConfig.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if clientConfig.APIKey == "" {
			clientConfig.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
		if clientConfig.APIKey == "" {
			return nil, errors.New("google api key is not set (google.api_key, GEMINI_API_KEY or GOOGLE_API_KEY)")
		}
	default:
		return nil, errors.Errorf("unknown google backend %q", gcfg.Backend)
	}
	if gcfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = gcfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google GenAI client")
	}

	return &Client{
		client:   client,
		settings: base.Resolve(cfg, DefaultModel),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

// Model returns the model requests are sent to.
func (c *Client) Model() string { return c.settings.Model }

func (c *Client) prompt(messages []llmtypes.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := base.SplitSystem(messages)

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(c.settings.MaxTokens),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == llmtypes.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents, config
}

// Complete returns the whole completion for messages.
func (c *Client) Complete(ctx context.Context, messages []llmtypes.Message) (string, error) {
	contents, config := c.prompt(messages)

	var resp *genai.GenerateContentResponse
	err := base.Do(ctx, providerName, c.settings.Retry, isRetryableError, func() error {
		var err error
		resp, err = c.client.Models.GenerateContent(ctx, c.settings.Model, contents, config)
		return err
	})
	if err != nil {
		return "", &errdefs.CompletionError{Provider: providerName, Cause: err}
	}

	if resp.UsageMetadata != nil {
		logger.G(ctx).WithField("model", c.settings.Model).
			WithField("prompt_tokens", resp.UsageMetadata.PromptTokenCount).
			WithField("candidates_tokens", resp.UsageMetadata.CandidatesTokenCount).
			Debug("completion finished")
	}

	return resp.Text(), nil
}

// Stream yields text chunks as they arrive.
func (c *Client) Stream(ctx context.Context, messages []llmtypes.Message) iter.Seq2[string, error] {
	contents, config := c.prompt(messages)

	return func(yield func(string, error) bool) {
		for chunk, err := range c.client.Models.GenerateContentStream(ctx, c.settings.Model, contents, config) {
			if err != nil {
				yield("", &errdefs.CompletionError{Provider: providerName, Cause: err})
				return
			}
			text := chunk.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
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

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return retryableStatus(apiErrPtr.Code)
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
