package base

import (
	"strings"

	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// Settings are the resolved per-request parameters of a provider.
type Settings struct {
	Model     string
	MaxTokens int
	Retry     llmtypes.RetryConfig
}

// Resolve fills in defaults for the fields left empty in cfg.
func Resolve(cfg llmtypes.Config, defaultModel string) Settings {
	s := Settings{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Retry:     cfg.Retry,
	}
	if s.Model == "" {
		s.Model = defaultModel
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = llmtypes.DefaultMaxTokens
	}
	if s.Retry.Attempts <= 0 {
		s.Retry = llmtypes.DefaultRetryConfig
	}
	return s
}

// SplitSystem separates system messages from the conversation. APIs such as
// Anthropic and Gemini take the system prompt as a separate parameter, so
// every system message is joined into one instruction in order of
// appearance. The remaining messages are merged so that roles alternate.
func SplitSystem(messages []llmtypes.Message) (string, []llmtypes.Message) {
	var system []string
	rest := make([]llmtypes.Message, 0, len(messages))

	for _, m := range messages {
		if m.Role == llmtypes.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		if n := len(rest); n > 0 && rest[n-1].Role == m.Role {
			rest[n-1].Content += "\n\n" + m.Content
			continue
		}
		rest = append(rest, m)
	}

	return strings.Join(system, "\n\n"), rest
}
