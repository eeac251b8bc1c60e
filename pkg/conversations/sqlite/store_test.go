package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletalk-dev/tabletalk/pkg/db"
	"github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "chat_instances.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	messages := []llmtypes.Message{
		llmtypes.System("sql prompt"),
		llmtypes.User("Average age?"),
		llmtypes.Assistant("The average age is 33.5."),
	}

	id, err := store.CreateThread(ctx, messages, conversations.WithDataset("people"))
	require.NoError(t, err)
	assert.Positive(t, id)

	loaded, err := store.GetThread(ctx, &id)
	require.NoError(t, err)
	assert.Equal(t, messages[1:], loaded, "leading system message is not stored")

	record, err := store.LoadThread(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "people", record.Dataset)
	assert.False(t, record.CreatedAt.IsZero())

	updated := append(loaded, llmtypes.User("Oldest?"), llmtypes.Assistant("Bo."))
	require.NoError(t, store.UpdateThread(ctx, id, updated))

	loaded, err = store.GetThread(ctx, &id)
	require.NoError(t, err)
	assert.Equal(t, updated, loaded)

	record, err = store.LoadThread(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "people", record.Dataset, "update without dataset keeps the existing one")

	require.NoError(t, store.DeleteThread(ctx, id))
	require.NoError(t, store.DeleteThread(ctx, id), "delete is idempotent")

	loaded, err = store.GetThread(ctx, &id)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_GetThread_NilAndAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	messages, err := store.GetThread(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, messages)

	absent := int64(999)
	messages, err = store.GetThread(ctx, &absent)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = store.LoadThread(ctx, absent)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStore_UpdateThread_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateThread(context.Background(), 42, []llmtypes.Message{llmtypes.User("q")})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Equal(t, "thread not found: 42", err.Error())
}

func TestStore_IDsNeverReused(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.CreateThread(ctx, []llmtypes.Message{llmtypes.User("a")})
	require.NoError(t, err)
	second, err := store.CreateThread(ctx, []llmtypes.Message{llmtypes.User("b")})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	require.NoError(t, store.DeleteThread(ctx, second))

	third, err := store.CreateThread(ctx, []llmtypes.Message{llmtypes.User("c")})
	require.NoError(t, err)
	assert.Greater(t, third, second)

	ids, err := store.ListThreadIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{first, third}, ids)
}

func TestStore_EmptyTranscript(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateThread(ctx, nil)
	require.NoError(t, err)

	messages, err := store.GetThread(ctx, &id)
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)

	var raw string
	require.NoError(t, store.db.Get(&raw, "SELECT chat_history FROM chat_instances WHERE thread_id = ?", id))
	assert.Equal(t, "[]", raw)
}

func TestStore_ListThreads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := []struct {
		dataset  string
		question string
	}{
		{"people", "Average age?"},
		{"sales", "Total revenue by region"},
		{"people", "Who is the oldest?"},
	}
	for _, s := range seed {
		_, err := store.CreateThread(ctx, []llmtypes.Message{
			llmtypes.User(s.question),
			llmtypes.Assistant("answer"),
		}, conversations.WithDataset(s.dataset))
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		options   conversations.QueryOptions
		total     int
		questions []string
	}{
		{
			name:      "default newest first",
			options:   conversations.QueryOptions{},
			total:     3,
			questions: []string{"Who is the oldest?", "Total revenue by region", "Average age?"},
		},
		{
			name:      "ascending",
			options:   conversations.QueryOptions{SortOrder: "asc"},
			total:     3,
			questions: []string{"Average age?", "Total revenue by region", "Who is the oldest?"},
		},
		{
			name:      "dataset filter",
			options:   conversations.QueryOptions{Dataset: "people", SortOrder: "asc"},
			total:     2,
			questions: []string{"Average age?", "Who is the oldest?"},
		},
		{
			name:      "search is case insensitive",
			options:   conversations.QueryOptions{SearchTerm: "REVENUE"},
			total:     1,
			questions: []string{"Total revenue by region"},
		},
		{
			name:      "pagination",
			options:   conversations.QueryOptions{Limit: 1, Offset: 1},
			total:     3,
			questions: []string{"Total revenue by region"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := store.ListThreads(ctx, tt.options)
			require.NoError(t, err)
			assert.Equal(t, tt.total, result.Total)

			var questions []string
			for _, s := range result.Threads {
				questions = append(questions, s.FirstQuestion)
				assert.Equal(t, 2, s.MessageCount)
			}
			assert.Equal(t, tt.questions, questions)
		})
	}
}

func TestStore_TranscriptEncoding(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	messages := []llmtypes.Message{
		llmtypes.System("answer context"),
		llmtypes.User(`quotes "and" unicode ✓`),
		llmtypes.Assistant(""),
	}
	id, err := store.CreateThread(ctx, messages)
	require.NoError(t, err)

	var raw string
	require.NoError(t, store.db.Get(&raw, "SELECT chat_history FROM chat_instances WHERE thread_id = ?", id))
	assert.Equal(t, `[{"role":"user","content":"quotes \"and\" unicode ✓"},{"role":"assistant","content":""}]`, raw)

	got, err := store.GetThread(ctx, &id)
	require.NoError(t, err)
	assert.Equal(t, messages[1:], got)

	_, err = store.db.Exec("UPDATE chat_instances SET chat_history = '{broken' WHERE thread_id = ?", id)
	require.NoError(t, err)
	_, err = store.GetThread(ctx, &id)
	assert.Error(t, err)
}

func TestStore_ListThreads_SearchWildcardsAreLiteral(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, q := range []string{"Which products grew 50% last year?", "Rows with 50 units", "Sum of unit_price"} {
		_, err := store.CreateThread(ctx, []llmtypes.Message{llmtypes.User(q)})
		require.NoError(t, err)
	}

	search := func(term string) []string {
		result, err := store.ListThreads(ctx, conversations.QueryOptions{SearchTerm: term, SortOrder: "asc"})
		require.NoError(t, err)
		var questions []string
		for _, s := range result.Threads {
			questions = append(questions, s.FirstQuestion)
		}
		return questions
	}

	assert.Equal(t, []string{"Which products grew 50% last year?"}, search("50%"))
	assert.Equal(t, []string{"Sum of unit_price"}, search("unit_"))
	assert.Empty(t, search(`50\`))
}

func TestStore_WALMode(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, db.VerifyConfiguration(context.Background(), store.db))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]int64, workers)
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = store.CreateThread(ctx, []llmtypes.Message{llmtypes.User("q")})
		}()
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := range workers {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate thread id %d", ids[i])
		seen[ids[i]] = true
	}
}
