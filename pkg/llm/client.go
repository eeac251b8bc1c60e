// Package llm provides the provider-neutral completion client used by the
// turn runner, and the factory that builds one from configuration.
package llm

import (
	"context"
	"iter"
	"strings"

	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/llm/anthropic"
	"github.com/tabletalk-dev/tabletalk/pkg/llm/google"
	"github.com/tabletalk-dev/tabletalk/pkg/llm/openai"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// Client sends chat messages to a language model.
type Client interface {
	// Complete returns the full completion. Transport failures may be
	// retried internally; anything left over is a CompletionError.
	Complete(ctx context.Context, messages []llmtypes.Message) (string, error)
	// Stream yields text fragments in order. A failure is yielded once as
	// a CompletionError and ends the sequence. The sequence can be
	// consumed once.
	Stream(ctx context.Context, messages []llmtypes.Message) iter.Seq2[string, error]
	// Name returns the provider name.
	Name() string
}

var (
	_ Client = (*openai.Client)(nil)
	_ Client = (*anthropic.Client)(nil)
	_ Client = (*google.Client)(nil)
)

// Collect drains seq and concatenates its fragments. On error the text
// received so far is returned along with it.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for fragment, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}

// NewClientFromConfig builds the client for cfg.Provider.
func NewClientFromConfig(ctx context.Context, cfg llmtypes.Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", llmtypes.ProviderOpenAI:
		return openai.New(cfg)
	case llmtypes.ProviderAnthropic:
		return anthropic.New(cfg)
	case llmtypes.ProviderGoogle:
		return google.New(ctx, cfg)
	default:
		return nil, errors.Errorf("unsupported provider %q", cfg.Provider)
	}
}
