// Package turn runs one question through the pipeline: schema lookup, SQL
// generation, execution, a streamed answer and persistence of the
// transcript.
package turn

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/llm"
	"github.com/tabletalk-dev/tabletalk/pkg/llm/prompts"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
	"github.com/tabletalk-dev/tabletalk/pkg/telemetry"
	convtypes "github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// ErrNoDataset is returned when a question is asked before a dataset was
// selected.
var ErrNoDataset = errors.New("no dataset selected: upload a dataset or select one before asking a question")

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Datasets is the part of the tabular store a turn reads.
type Datasets interface {
	SchemaText(ctx context.Context, table string) (string, error)
	RunQuery(ctx context.Context, query string) *datasets.Result
}

// Conversations is the part of the conversation store a turn writes.
type Conversations interface {
	CreateThread(ctx context.Context, messages []llmtypes.Message, opts ...convtypes.WriteOption) (int64, error)
	UpdateThread(ctx context.Context, id int64, messages []llmtypes.Message, opts ...convtypes.WriteOption) error
}

// Options tune what a turn keeps.
type Options struct {
	// PersistAnswerContext keeps the answer-phase system message, which
	// embeds the query and its result, in the stored transcript.
	PersistAnswerContext bool `mapstructure:"persist_answer_context"`
}

// Runner wires the stores and the completion client together.
type Runner struct {
	Datasets      Datasets
	Conversations Conversations
	Client        llm.Client
	Options       Options
}

// Result describes a turn, complete or abandoned.
type Result struct {
	ID         string             `json:"id"`
	State      State              `json:"state"`
	Dataset    string             `json:"dataset"`
	ThreadID   int64              `json:"thread_id,omitempty"`
	NewThread  bool               `json:"new_thread"`
	Question   string             `json:"question"`
	RawQuery   string             `json:"-"`
	Query      string             `json:"query,omitempty"`
	Rows       *datasets.Result   `json:"rows,omitempty"`
	ResultText string             `json:"result_text,omitempty"`
	Answer     string             `json:"answer,omitempty"`
	Messages   []llmtypes.Message `json:"-"`
}

// Run answers question against the session's dataset. On success the
// session's transcript and thread are replaced; on failure the session is
// left as it was and the returned Result records how far the turn got.
// A query that fails to execute is not a failure: the answer is generated
// from an empty result.
func (r *Runner) Run(ctx context.Context, sess *session.Session, question string, handler Handler) (*Result, error) {
	if handler == nil {
		handler = NopHandler{}
	}

	res := &Result{
		ID:       uuid.NewString(),
		State:    Idle,
		Dataset:  sess.Dataset,
		Question: question,
	}

	if sess.Dataset == "" {
		return res, ErrNoDataset
	}
	if strings.TrimSpace(question) == "" {
		return res, ErrEmptyQuestion
	}

	fields := logrus.Fields{"turn_id": res.ID, "dataset": sess.Dataset}
	if sess.ThreadID != nil {
		fields["thread_id"] = *sess.ThreadID
	}
	ctx = logger.WithFields(ctx, fields)
	log := logger.G(ctx)

	working := sess.Snapshot()
	fail := func(err error) (*Result, error) {
		res.State = Abandoned
		log.WithError(err).WithField("state", res.State.String()).Error("turn abandoned")
		return res, err
	}

	var schema string
	err := telemetry.WithSpan(ctx, "turn.schema", func(ctx context.Context) error {
		var err error
		schema, err = r.Datasets.SchemaText(ctx, sess.Dataset)
		return err
	}, telemetry.AttrTurnID.String(res.ID), telemetry.AttrDataset.String(sess.Dataset))
	if err != nil {
		// a missing schema reaches the model as "None", like a failed query
		log.WithError(err).Warn("failed to load schema")
		schema = "None"
	}
	res.State = SchemaLoaded

	err = telemetry.WithSpan(ctx, "turn.generate_sql", func(ctx context.Context) error {
		completion, err := r.Client.Complete(ctx, []llmtypes.Message{
			llmtypes.System(prompts.BuildSQLPrompt(question, schema)),
			llmtypes.User(question),
		})
		if err != nil {
			return err
		}
		res.RawQuery = completion
		res.Query = prompts.CleanSQL(completion)
		return nil
	}, telemetry.AttrTurnID.String(res.ID), telemetry.AttrProvider.String(r.Client.Name()))
	if err != nil {
		return fail(err)
	}
	res.State = QueryGenerated
	log.WithField("query", res.Query).Info("query generated")
	handler.HandleQuery(res.Query)

	_ = telemetry.WithSpan(ctx, "turn.execute", func(ctx context.Context) error {
		res.Rows = r.Datasets.RunQuery(ctx, res.Query)
		if res.Rows != nil {
			telemetry.SetAttributes(ctx, telemetry.AttrRows.Int(len(res.Rows.Rows)))
		}
		return nil
	}, telemetry.AttrTurnID.String(res.ID))
	res.ResultText = datasets.FormatRows(res.Rows)
	res.State = QueryExecuted
	log.WithField("result", res.ResultText).Info("query executed")
	handler.HandleResult(res.Rows)

	answerContext := llmtypes.System(prompts.BuildAnswerPrompt(question, res.Query, res.ResultText))
	userMessage := llmtypes.User(question)
	request := append(working, answerContext, userMessage)

	err = telemetry.WithSpan(ctx, "turn.answer", func(ctx context.Context) error {
		var b strings.Builder
		for fragment, err := range r.Client.Stream(ctx, request) {
			if err != nil {
				return err
			}
			b.WriteString(fragment)
			handler.HandleText(fragment)
		}
		res.Answer = b.String()
		return nil
	}, telemetry.AttrTurnID.String(res.ID), telemetry.AttrProvider.String(r.Client.Name()))
	if err != nil {
		return fail(err)
	}
	res.State = AnswerGenerated

	transcript := sess.Snapshot()
	if r.Options.PersistAnswerContext {
		transcript = append(transcript, answerContext)
	}
	transcript = append(transcript, userMessage, llmtypes.Assistant(res.Answer))
	transcript = llmtypes.StripLeadingSystem(transcript)

	err = telemetry.WithSpan(ctx, "turn.persist", func(ctx context.Context) error {
		id, created, err := r.persist(ctx, sess, transcript)
		if err != nil {
			return err
		}
		res.ThreadID = id
		res.NewThread = created
		telemetry.SetAttributes(ctx, telemetry.AttrThreadID.Int64(id))
		return nil
	}, telemetry.AttrTurnID.String(res.ID))
	if err != nil {
		return fail(err)
	}

	sess.Commit(res.ThreadID, transcript)
	res.Messages = transcript
	res.State = Persisted

	log.WithFields(logrus.Fields{
		"thread_id":  res.ThreadID,
		"new_thread": res.NewThread,
		"messages":   len(transcript),
	}).Info("turn persisted")

	return res, nil
}

// persist writes transcript to the session's thread. A session without a
// thread gets a new one; a thread deleted underneath the session is
// re-created.
func (r *Runner) persist(ctx context.Context, sess *session.Session, transcript []llmtypes.Message) (int64, bool, error) {
	opt := convtypes.WithDataset(sess.Dataset)

	if sess.HasThread() {
		err := r.Conversations.UpdateThread(ctx, *sess.ThreadID, transcript, opt)
		if err == nil {
			return *sess.ThreadID, false, nil
		}
		if !errdefs.IsNotFound(err) {
			return 0, false, err
		}
		logger.G(ctx).WithField("thread_id", *sess.ThreadID).Warn("current thread vanished, creating a new one")
	}

	id, err := r.Conversations.CreateThread(ctx, transcript, opt)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
