// Package conversations defines the thread records, summaries and query
// options shared by the conversation store and its callers.
package conversations

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// firstQuestionLimit bounds ThreadSummary.FirstQuestion, in runes.
const firstQuestionLimit = 100

// QueryOptions provides filtering and sorting options for thread queries
type QueryOptions struct {
	Dataset    string // Filter by the dataset the thread was last asked about
	SearchTerm string // Case-insensitive match against message contents
	Limit      int    // Maximum number of results
	Offset     int    // Offset for pagination
	SortOrder  string // "asc" or "desc" by thread id
}

// ThreadRecord is a persisted thread. Messages never include a leading
// system message.
type ThreadRecord struct {
	ID        int64              `json:"id" yaml:"id"`
	Dataset   string             `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	Messages  []llmtypes.Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time          `json:"createdAt" yaml:"created_at"`
	UpdatedAt time.Time          `json:"updatedAt" yaml:"updated_at"`
}

// ThreadSummary provides a brief overview of a thread
type ThreadSummary struct {
	ID            int64     `json:"id"`
	Dataset       string    `json:"dataset,omitempty"`
	MessageCount  int       `json:"messageCount"`
	FirstQuestion string    `json:"firstQuestion"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ToSummary converts a ThreadRecord to a ThreadSummary
func (r ThreadRecord) ToSummary() ThreadSummary {
	first := ""
	for _, m := range r.Messages {
		if m.Role == llmtypes.RoleUser {
			first = m.Content
			break
		}
	}
	if runes := []rune(first); len(runes) > firstQuestionLimit {
		first = string(runes[:firstQuestionLimit-3]) + "..."
	}

	return ThreadSummary{
		ID:            r.ID,
		Dataset:       r.Dataset,
		MessageCount:  len(r.Messages),
		FirstQuestion: first,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// EncodeMessages serialises a transcript as a JSON array of
// {"role","content"} objects. A nil transcript encodes as "[]".
func EncodeMessages(messages []llmtypes.Message) (string, error) {
	if messages == nil {
		messages = []llmtypes.Message{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode messages")
	}
	return string(b), nil
}

// DecodeMessages is the inverse of EncodeMessages.
func DecodeMessages(data string) ([]llmtypes.Message, error) {
	messages := []llmtypes.Message{}
	if strings.TrimSpace(data) == "" {
		return messages, nil
	}
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, errors.Wrap(err, "failed to decode messages")
	}
	return messages, nil
}

// QueryResult represents the result of a thread query
type QueryResult struct {
	Threads []ThreadSummary `json:"threads"`
	Total   int             `json:"total"` // matches before pagination
	QueryOptions
}

// WriteOptions carries optional thread metadata for create and update.
type WriteOptions struct {
	Dataset *string
}

// WriteOption configures WriteOptions
type WriteOption func(*WriteOptions)

// WithDataset records the dataset the thread was asked about.
func WithDataset(name string) WriteOption {
	return func(o *WriteOptions) {
		o.Dataset = &name
	}
}

// ApplyWriteOptions folds opts into a WriteOptions value.
func ApplyWriteOptions(opts ...WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
