package main

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/tabletalk-dev/tabletalk/pkg/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/db"
	"github.com/tabletalk-dev/tabletalk/pkg/llm"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
	"github.com/tabletalk-dev/tabletalk/pkg/turn"
)

// app bundles the stores every command works against.
type app struct {
	basePath      string
	datasets      *datasets.Store
	conversations *conversations.ConversationService
	stateFile     *session.StateFile
}

func basePath() (string, error) {
	if p := viper.GetString("storage.base_path"); p != "" {
		return p, nil
	}
	return db.DefaultBasePath()
}

func openApp(ctx context.Context) (*app, error) {
	base, err := basePath()
	if err != nil {
		return nil, err
	}

	ds, err := datasets.OpenDefault(ctx, base)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open dataset store")
	}

	store, err := conversations.NewConversationStore(ctx, base)
	if err != nil {
		ds.Close()
		return nil, errors.Wrap(err, "failed to open conversation store")
	}

	stateFile := session.DefaultStateFile(base)
	service := conversations.NewConversationService(store, conversations.WithOnDelete(func(id int64) {
		err := stateFile.Update(func(st *session.State) error {
			if st.ThreadID != nil && *st.ThreadID == id {
				st.ThreadID = nil
			}
			return nil
		})
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to update session state")
		}
	}))

	return &app{
		basePath:      base,
		datasets:      ds,
		conversations: service,
		stateFile:     stateFile,
	}, nil
}

func (a *app) Close() {
	if err := a.conversations.Close(); err != nil {
		logger.G(context.Background()).WithError(err).Warn("failed to close conversation store")
	}
	if err := a.datasets.Close(); err != nil {
		logger.G(context.Background()).WithError(err).Warn("failed to close dataset store")
	}
}

// session restores the session saved by the previous command.
func (a *app) session(ctx context.Context) (*session.Session, error) {
	state, err := a.stateFile.Load()
	if err != nil {
		return nil, err
	}
	return session.Restore(ctx, state, a.conversations.Store())
}

func (a *app) saveSession(ctx context.Context, sess *session.Session) {
	if err := a.stateFile.Save(sess.State()); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to save session state")
	}
}

// runner builds the turn runner from the configured provider.
func (a *app) runner(ctx context.Context) (*turn.Runner, error) {
	cfg, err := llm.GetConfigFromViper()
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create completion client")
	}

	return &turn.Runner{
		Datasets:      a.datasets,
		Conversations: a.conversations.Store(),
		Client:        client,
		Options: turn.Options{
			PersistAnswerContext: viper.GetBool("turn.persist_answer_context"),
		},
	}, nil
}

func parseThreadID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid thread id %q", arg)
	}
	return id, nil
}

// resultRows converts query rows to display strings. NULL is shown as such.
func resultRows(res *datasets.Result) [][]string {
	rows := make([][]string, 0, len(res.Rows))
	for _, r := range res.Rows {
		row := make([]string, len(r))
		for i, v := range r {
			if v == nil {
				row[i] = "NULL"
				continue
			}
			row[i] = cast.ToString(v)
		}
		rows = append(rows, row)
	}
	return rows
}

// printResult shows query rows as a table, or a warning when the query
// produced no result.
func printResult(p presenter.Presenter, res *datasets.Result) {
	if res == nil {
		p.Warning("The query could not be executed; answering without a result.")
		return
	}
	p.Table(res.Columns, resultRows(res))
}

// presenterHandler streams a turn to the terminal.
type presenterHandler struct {
	p         presenter.Presenter
	streaming bool
}

func (h *presenterHandler) HandleQuery(query string) { h.p.Query(query) }

func (h *presenterHandler) HandleResult(res *datasets.Result) {
	if !h.p.IsQuiet() {
		printResult(h.p, res)
	}
}

func (h *presenterHandler) HandleText(text string) {
	h.streaming = true
	h.p.Stream(text)
}

func (h *presenterHandler) finish() {
	if h.streaming {
		h.p.EndStream()
		h.streaming = false
	}
}
