package turn

import (
	"context"
	"iter"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletalk-dev/tabletalk/pkg/conversations/sqlite"
	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/llm/prompts"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

type fakeClient struct {
	sql       string
	sqlErr    error
	answer    []string
	streamErr error

	completeCalls [][]llmtypes.Message
	streamCalls   [][]llmtypes.Message
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Complete(_ context.Context, messages []llmtypes.Message) (string, error) {
	f.completeCalls = append(f.completeCalls, messages)
	if f.sqlErr != nil {
		return "", f.sqlErr
	}
	return f.sql, nil
}

func (f *fakeClient) Stream(_ context.Context, messages []llmtypes.Message) iter.Seq2[string, error] {
	f.streamCalls = append(f.streamCalls, messages)
	return func(yield func(string, error) bool) {
		for _, part := range f.answer {
			if !yield(part, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield("", f.streamErr)
		}
	}
}

type recorder struct {
	queries   []string
	results   []*datasets.Result
	fragments []string
}

func (r *recorder) HandleQuery(q string) { r.queries = append(r.queries, q) }
func (r *recorder) HandleResult(res *datasets.Result) { r.results = append(r.results, res) }
func (r *recorder) HandleText(text string) { r.fragments = append(r.fragments, text) }

type fixture struct {
	datasets      *datasets.Store
	conversations *sqlite.Store
	client        *fakeClient
	runner        *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	ds, err := datasets.NewStore(ctx, filepath.Join(dir, "data_analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	conv, err := sqlite.NewStore(ctx, filepath.Join(dir, "chat_instances.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conv.Close() })

	require.NoError(t, ds.CreateTable(ctx, "t", []datasets.Column{
		{Name: "age", Kind: datasets.KindInteger},
		{Name: "name", Kind: datasets.KindText},
	}))
	require.NoError(t, ds.InsertRows(ctx, "t", [][]any{{30, "Ann"}, {41, "Bo"}}))

	client := &fakeClient{
		sql:    "SELECT COUNT(*) FROM t",
		answer: []string{"There are ", "2 rows."},
	}

	return &fixture{
		datasets:      ds,
		conversations: conv,
		client:        client,
		runner: &Runner{
			Datasets:      ds,
			Conversations: conv,
			Client:        client,
		},
	}
}

func TestRun_NoDataset(t *testing.T) {
	f := newFixture(t)
	sess := session.New()

	res, err := f.runner.Run(context.Background(), sess, "How many rows?", nil)
	assert.ErrorIs(t, err, ErrNoDataset)
	assert.Equal(t, Idle, res.State)
	assert.Empty(t, f.client.completeCalls)
	assert.False(t, sess.HasThread())
}

func TestRun_EmptyQuestion(t *testing.T) {
	f := newFixture(t)
	sess := session.New()
	sess.SelectDataset("t")

	_, err := f.runner.Run(context.Background(), sess, "  ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Empty(t, f.client.completeCalls)
}

func TestRun_HowManyRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := session.New()
	sess.SelectDataset("t")
	rec := &recorder{}

	res, err := f.runner.Run(ctx, sess, "How many rows?", rec)
	require.NoError(t, err)

	schema, err := f.datasets.SchemaText(ctx, "t")
	require.NoError(t, err)

	require.Len(t, f.client.completeCalls, 1)
	assert.Equal(t, []llmtypes.Message{
		llmtypes.System(prompts.BuildSQLPrompt("How many rows?", schema)),
		llmtypes.User("How many rows?"),
	}, f.client.completeCalls[0])

	assert.Equal(t, "SELECT COUNT(*) FROM t", res.Query)
	assert.Equal(t, "[(2,)]", res.ResultText)

	require.Len(t, f.client.streamCalls, 1)
	assert.Equal(t, []llmtypes.Message{
		llmtypes.System(prompts.BuildAnswerPrompt("How many rows?", "SELECT COUNT(*) FROM t", "[(2,)]")),
		llmtypes.User("How many rows?"),
	}, f.client.streamCalls[0])

	assert.Equal(t, Persisted, res.State)
	assert.Equal(t, "There are 2 rows.", res.Answer)
	assert.True(t, res.NewThread)
	assert.NotEmpty(t, res.ID)

	want := []llmtypes.Message{
		llmtypes.User("How many rows?"),
		llmtypes.Assistant("There are 2 rows."),
	}
	assert.Equal(t, want, sess.Messages)
	require.True(t, sess.HasThread())
	assert.Equal(t, res.ThreadID, *sess.ThreadID)

	stored, err := f.conversations.GetThread(ctx, sess.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, want, stored)

	record, err := f.conversations.LoadThread(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "t", record.Dataset)

	assert.Equal(t, []string{"SELECT COUNT(*) FROM t"}, rec.queries)
	require.Len(t, rec.results, 1)
	assert.Equal(t, [][]any{{int64(2)}}, rec.results[0].Rows)
	assert.Equal(t, []string{"There are ", "2 rows."}, rec.fragments)
}

func TestRun_NewChatThenTwoQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := session.New()
	sess.SelectDataset("t")

	before, err := f.conversations.ListThreadIDs(ctx)
	require.NoError(t, err)

	id, err := sess.NewChat(ctx, f.conversations)
	require.NoError(t, err)

	ids, err := f.conversations.ListThreadIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, len(before)+1, "new chat creates a thread")

	first, err := f.runner.Run(ctx, sess, "How many rows?", nil)
	require.NoError(t, err)
	assert.Equal(t, id, first.ThreadID)
	assert.False(t, first.NewThread)

	second, err := f.runner.Run(ctx, sess, "And how many names?", nil)
	require.NoError(t, err)
	assert.Equal(t, id, second.ThreadID)
	assert.False(t, second.NewThread)

	ids, err = f.conversations.ListThreadIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids)

	stored, err := f.conversations.GetThread(ctx, &id)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	// the second answer sees the first exchange
	require.Len(t, f.client.streamCalls, 2)
	assert.Len(t, f.client.streamCalls[1], 4)
	assert.Equal(t, llmtypes.User("How many rows?"), f.client.streamCalls[1][0])
}

func TestRun_FirstQuestionCreatesThreadThenUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := session.New()
	sess.SelectDataset("t")

	first, err := f.runner.Run(ctx, sess, "q1", nil)
	require.NoError(t, err)
	assert.True(t, first.NewThread)

	second, err := f.runner.Run(ctx, sess, "q2", nil)
	require.NoError(t, err)
	assert.False(t, second.NewThread)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Len(t, second.Messages, 4)
}

func TestRun_CompletionErrorAbandons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.sqlErr = &errdefs.CompletionError{Provider: "fake", Cause: errors.New("quota")}

	sess := session.New()
	sess.SelectDataset("t")
	sess.Commit(99, []llmtypes.Message{llmtypes.User("old"), llmtypes.Assistant("answer")})
	before := sess.Snapshot()

	res, err := f.runner.Run(ctx, sess, "q", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsCompletion(err))
	assert.Equal(t, Abandoned, res.State)
	assert.Equal(t, before, sess.Messages)
	assert.Empty(t, f.client.streamCalls)

	ids, err := f.conversations.ListThreadIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRun_StreamErrorAbandons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.streamErr = &errdefs.CompletionError{Provider: "fake", Cause: errors.New("connection reset")}
	rec := &recorder{}

	sess := session.New()
	sess.SelectDataset("t")

	res, err := f.runner.Run(ctx, sess, "q", rec)
	require.Error(t, err)
	assert.True(t, errdefs.IsCompletion(err))
	assert.Equal(t, Abandoned, res.State)
	assert.Empty(t, sess.Messages)
	assert.False(t, sess.HasThread())
	assert.Equal(t, []string{"There are ", "2 rows."}, rec.fragments)

	ids, err := f.conversations.ListThreadIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRun_InvalidQueryStillAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.sql = "SELEC nonsense"

	sess := session.New()
	sess.SelectDataset("t")

	res, err := f.runner.Run(ctx, sess, "q", nil)
	require.NoError(t, err)
	assert.Nil(t, res.Rows)
	assert.Equal(t, "None", res.ResultText)
	assert.Equal(t, Persisted, res.State)
	assert.Contains(t, f.client.streamCalls[0][0].Content, "Result: None")
}

func TestRun_StripsCodeFences(t *testing.T) {
	f := newFixture(t)
	f.client.sql = "```sql\nSELECT name FROM t WHERE age > 35\n```"

	sess := session.New()
	sess.SelectDataset("t")

	res, err := f.runner.Run(context.Background(), sess, "who is older than 35?", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM t WHERE age > 35", res.Query)
	assert.Equal(t, "[('Bo',)]", res.ResultText)
}

func TestRun_MissingSchemaStillAnswers(t *testing.T) {
	f := newFixture(t)
	sess := session.New()
	sess.SelectDataset("ghost")
	f.client.sql = "SELECT COUNT(*) FROM ghost"

	res, err := f.runner.Run(context.Background(), sess, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, Persisted, res.State)
	require.Len(t, f.client.completeCalls, 1)
	assert.Equal(t, prompts.BuildSQLPrompt("q", "None"), f.client.completeCalls[0][0].Content)
	assert.Nil(t, res.Rows)
	assert.Equal(t, "None", res.ResultText)
	require.NotNil(t, sess.ThreadID)
}

func TestRun_PersistAnswerContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.runner.Options.PersistAnswerContext = true

	sess := session.New()
	sess.SelectDataset("t")

	first, err := f.runner.Run(ctx, sess, "q1", nil)
	require.NoError(t, err)
	// a leading system message is never stored
	assert.Len(t, first.Messages, 2)

	second, err := f.runner.Run(ctx, sess, "q2", nil)
	require.NoError(t, err)
	require.Len(t, second.Messages, 5)
	assert.Equal(t, llmtypes.RoleSystem, second.Messages[2].Role)
	assert.Contains(t, second.Messages[2].Content, "[(2,)]")

	stored, err := f.conversations.GetThread(ctx, &second.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, second.Messages, stored)
}

func TestRun_RecreatesVanishedThread(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := session.New()
	sess.SelectDataset("t")

	first, err := f.runner.Run(ctx, sess, "q1", nil)
	require.NoError(t, err)
	require.NoError(t, f.conversations.DeleteThread(ctx, first.ThreadID))

	second, err := f.runner.Run(ctx, sess, "q2", nil)
	require.NoError(t, err)
	assert.True(t, second.NewThread)
	assert.Greater(t, second.ThreadID, first.ThreadID)
	assert.Equal(t, second.ThreadID, *sess.ThreadID)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "persisted", Persisted.String())
	assert.Equal(t, "abandoned", Abandoned.String())
	assert.Equal(t, "unknown", State(42).String())

	text, err := QueryExecuted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "query_executed", string(text))
}
