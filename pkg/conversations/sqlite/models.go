package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"time"

	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// historyColumn maps a transcript to the chat_history TEXT column.
type historyColumn []llmtypes.Message

// Scan implements the sql.Scanner interface for reading from database
func (h *historyColumn) Scan(value any) error {
	var data string
	switch v := value.(type) {
	case nil:
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		return errors.Errorf("cannot scan %T into chat history", value)
	}

	messages, err := conversations.DecodeMessages(data)
	if err != nil {
		return err
	}
	*h = messages
	return nil
}

// Value implements the driver.Valuer interface. A leading system message is
// dropped before encoding.
func (h historyColumn) Value() (driver.Value, error) {
	encoded, err := conversations.EncodeMessages(llmtypes.StripLeadingSystem(h))
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// dbThreadRecord represents the chat_instances table structure
type dbThreadRecord struct {
	ThreadID    int64          `db:"thread_id"`
	ChatHistory historyColumn  `db:"chat_history"`
	Dataset     sql.NullString `db:"dataset"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// ToThreadRecord converts database record to domain model
func (r *dbThreadRecord) ToThreadRecord() conversations.ThreadRecord {
	messages := []llmtypes.Message(r.ChatHistory)
	if messages == nil {
		messages = []llmtypes.Message{}
	}
	return conversations.ThreadRecord{
		ID:        r.ThreadID,
		Dataset:   r.Dataset.String,
		Messages:  messages,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
