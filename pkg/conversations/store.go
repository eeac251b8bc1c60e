package conversations

import (
	"context"

	"github.com/tabletalk-dev/tabletalk/pkg/conversations/sqlite"
	"github.com/tabletalk-dev/tabletalk/pkg/db"
	"github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// ConversationStore defines the interface for thread persistence
type ConversationStore interface {
	CreateThread(ctx context.Context, messages []llmtypes.Message, opts ...conversations.WriteOption) (int64, error)
	UpdateThread(ctx context.Context, id int64, messages []llmtypes.Message, opts ...conversations.WriteOption) error
	GetThread(ctx context.Context, id *int64) ([]llmtypes.Message, error)
	LoadThread(ctx context.Context, id int64) (conversations.ThreadRecord, error)
	DeleteThread(ctx context.Context, id int64) error
	ListThreadIDs(ctx context.Context) ([]int64, error)
	ListThreads(ctx context.Context, options conversations.QueryOptions) (conversations.QueryResult, error)

	Close() error
}

var _ ConversationStore = (*sqlite.Store)(nil)

// NewConversationStore opens the SQLite conversation store under basePath.
// An empty basePath resolves to db.DefaultBasePath.
func NewConversationStore(ctx context.Context, basePath string) (ConversationStore, error) {
	if basePath == "" {
		var err error
		basePath, err = db.DefaultBasePath()
		if err != nil {
			return nil, err
		}
	}
	return sqlite.NewStore(ctx, db.ConversationsDBPath(basePath))
}
