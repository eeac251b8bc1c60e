package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	"github.com/tabletalk-dev/tabletalk/pkg/turn"
)

// AskConfig holds configuration for the ask command
type AskConfig struct {
	Dataset    string
	NewThread  bool
	JSONOutput bool
}

// NewAskConfig creates a new AskConfig with default values
func NewAskConfig() *AskConfig {
	return &AskConfig{}
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question about the current dataset",
	Long: `Ask a question in plain language. The question is translated into SQL, run
against the current dataset and answered. The exchange is added to the current
thread, or to a new thread when there is none.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getAskConfigFromFlags(cmd)
		return runAsk(cmd.Context(), strings.Join(args, " "), config)
	},
}

func init() {
	defaults := NewAskConfig()
	askCmd.Flags().String("dataset", defaults.Dataset, "Dataset to ask about (becomes current)")
	askCmd.Flags().Bool("new", defaults.NewThread, "Start a new thread for this question")
	askCmd.Flags().Bool("json", defaults.JSONOutput, "Print the turn as JSON instead of streaming the answer")
}

func getAskConfigFromFlags(cmd *cobra.Command) *AskConfig {
	config := NewAskConfig()
	if dataset, err := cmd.Flags().GetString("dataset"); err == nil {
		config.Dataset = dataset
	}
	if newThread, err := cmd.Flags().GetBool("new"); err == nil {
		config.NewThread = newThread
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}
	return config
}

func runAsk(ctx context.Context, question string, config *AskConfig) error {
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
	if config.Dataset != "" {
		sess.SelectDataset(config.Dataset)
	}
	if config.NewThread {
		if _, err := sess.NewChat(ctx, a.conversations.Store()); err != nil {
			return err
		}
	}

	var handler turn.Handler = turn.NopHandler{}
	var ph *presenterHandler
	if !config.JSONOutput {
		ph = &presenterHandler{p: presenter.Default()}
		handler = ph
	}

	res, err := runner.Run(ctx, sess, question, handler)
	if ph != nil {
		ph.finish()
	}
	// the selection and a new chat are kept even if the turn failed
	a.saveSession(ctx, sess)
	if err != nil {
		return err
	}

	if config.JSONOutput {
		return printJSON(res)
	}
	if res.NewThread {
		presenter.Info(fmt.Sprintf("Started thread %d", res.ThreadID))
	}
	return nil
}
