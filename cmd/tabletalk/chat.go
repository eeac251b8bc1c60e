package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
	"github.com/tabletalk-dev/tabletalk/pkg/turn"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively",
	Long: `Start an interactive session against the current dataset and thread.
Lines starting with / are commands; type /help to list them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runChat(cmd.Context(), presenter.Default())
	},
}

type chatCommand int

const (
	chatAsk chatCommand = iota
	chatEmpty
	chatHelp
	chatQuit
	chatNew
	chatUse
	chatThread
	chatDatasets
	chatUnknown
)

// parseChatLine splits a REPL line into a command and its argument.
func parseChatLine(line string) (chatCommand, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return chatEmpty, ""
	}
	if !strings.HasPrefix(line, "/") {
		return chatAsk, line
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "help", "?":
		return chatHelp, arg
	case "quit", "exit", "q":
		return chatQuit, arg
	case "new":
		return chatNew, arg
	case "use", "dataset":
		return chatUse, arg
	case "thread":
		return chatThread, arg
	case "datasets", "ls":
		return chatDatasets, arg
	default:
		return chatUnknown, name
	}
}

const chatHelpText = `Commands:
  /use <dataset>   switch the dataset questions are asked about
  /datasets        list datasets
  /new             start a new thread
  /thread <id>     resume a thread
  /quit            leave
Anything else is asked as a question.`

type chatREPL struct {
	app    *app
	runner *turn.Runner
	sess   *session.Session
	p      presenter.Presenter
}

func runChat(ctx context.Context, p presenter.Presenter) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner(ctx)
	if err != nil {
		return err
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}

	r := &chatREPL{app: a, runner: runner, sess: sess, p: p}
	r.banner()
	r.loop(ctx)
	return nil
}

func (r *chatREPL) banner() {
	r.p.Section("tabletalk chat")
	if r.sess.Dataset == "" {
		r.p.Warning("No dataset selected. Use /use <dataset> or load one with 'tabletalk ingest'.")
	} else {
		r.p.Info(fmt.Sprintf("Dataset: %s", r.sess.Dataset))
	}
	if r.sess.HasThread() {
		r.p.Info(fmt.Sprintf("Thread: %d (%d messages)", *r.sess.ThreadID, len(r.sess.Messages)))
	}
	r.p.Info("Type /help for commands.")
}

func (r *chatREPL) prompt() string {
	if r.sess.Dataset == "" {
		return "tabletalk>"
	}
	return r.sess.Dataset + ">"
}

func (r *chatREPL) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, ok := r.p.Prompt(r.prompt())
		if !ok {
			r.p.EndStream()
			return
		}

		cmd, arg := parseChatLine(line)
		switch cmd {
		case chatEmpty:
		case chatQuit:
			return
		case chatHelp:
			r.p.Info(chatHelpText)
		case chatUnknown:
			r.p.Warning(fmt.Sprintf("Unknown command /%s, type /help", arg))
		case chatDatasets:
			r.listDatasets(ctx)
		case chatUse:
			r.useDataset(ctx, arg)
		case chatNew:
			r.newThread(ctx)
		case chatThread:
			r.openThread(ctx, arg)
		case chatAsk:
			r.ask(ctx, arg)
		}
	}
}

func (r *chatREPL) listDatasets(ctx context.Context) {
	names, err := r.app.datasets.ListTables(ctx)
	if err != nil {
		r.p.Error(err, "failed to list datasets")
		return
	}
	if len(names) == 0 {
		r.p.Info("No datasets.")
		return
	}
	r.p.Info(strings.Join(names, "\n"))
}

func (r *chatREPL) useDataset(ctx context.Context, name string) {
	if name == "" {
		r.p.Warning("Usage: /use <dataset>")
		return
	}
	exists, err := r.app.datasets.TableExists(ctx, name)
	if err != nil {
		r.p.Error(err, "failed to look up dataset")
		return
	}
	if !exists {
		r.p.Error(errdefs.TableNotFound(datasets.Sanitize(name)), "")
		return
	}
	r.sess.SelectDataset(datasets.Sanitize(name))
	r.app.saveSession(ctx, r.sess)
	r.p.Success(fmt.Sprintf("Current dataset: %s", r.sess.Dataset))
}

func (r *chatREPL) newThread(ctx context.Context) {
	id, err := r.sess.NewChat(ctx, r.app.conversations.Store())
	if err != nil {
		r.p.Error(err, "failed to start a new thread")
		return
	}
	r.app.saveSession(ctx, r.sess)
	r.p.Success(fmt.Sprintf("Started thread %d", id))
}

func (r *chatREPL) openThread(ctx context.Context, arg string) {
	id, err := parseThreadID(arg)
	if err != nil {
		r.p.Error(err, "")
		return
	}
	if err := r.sess.OpenThread(ctx, r.app.conversations.Store(), id); err != nil {
		r.p.Error(err, "failed to open thread")
		return
	}
	r.app.saveSession(ctx, r.sess)
	r.p.Success(fmt.Sprintf("Resumed thread %d (%d messages)", id, len(r.sess.Messages)))
}

func (r *chatREPL) ask(ctx context.Context, question string) {
	h := &presenterHandler{p: r.p}
	res, err := r.runner.Run(ctx, r.sess, question, h)
	h.finish()
	if err != nil {
		r.p.Error(err, "")
		return
	}
	r.app.saveSession(ctx, r.sess)
	if res.NewThread {
		r.p.Info(fmt.Sprintf("Started thread %d", res.ThreadID))
	}
	r.p.Separator()
}
