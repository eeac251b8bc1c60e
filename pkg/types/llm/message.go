// Package llm defines the provider-neutral message and configuration types
// shared by the completion clients, the stores and the turn runner.
package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// StripLeadingSystem drops the first message when it is a system message.
// Only the leading one is removed; later system messages are kept.
func StripLeadingSystem(messages []Message) []Message {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[1:]
	}
	return messages
}
