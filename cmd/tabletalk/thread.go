package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tabletalk-dev/tabletalk/pkg/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	convtypes "github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// ThreadListConfig holds configuration for the thread list command
type ThreadListConfig struct {
	Dataset    string
	Search     string
	Limit      int
	Offset     int
	SortOrder  string
	JSONOutput bool
}

// NewThreadListConfig creates a new ThreadListConfig with default values
func NewThreadListConfig() *ThreadListConfig {
	return &ThreadListConfig{
		SortOrder: "desc",
	}
}

var threadCmd = &cobra.Command{
	Use:     "thread",
	Aliases: []string{"threads"},
	Short:   "Manage chat threads",
	Long:    `Start, list, resume, view, export and delete chat threads.`,
}

var threadNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new chat thread and make it current",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newThreadCmd(cmd.Context())
	},
}

var threadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat threads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listThreadsCmd(cmd.Context(), getThreadListConfigFromFlags(cmd))
	},
}

var threadUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Resume a thread; later questions continue it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return useThreadCmd(cmd.Context(), args[0])
	},
}

var threadShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show the messages of a thread (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		return showThreadCmd(cmd.Context(), args, format)
	},
}

var threadDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noConfirm, _ := cmd.Flags().GetBool("no-confirm")
		return deleteThreadCmd(cmd.Context(), args[0], noConfirm)
	},
}

var threadExportCmd = &cobra.Command{
	Use:   "export <id> [path]",
	Short: "Export a thread as JSON or YAML to a file or stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		var path string
		if len(args) > 1 {
			path = args[1]
		}
		return exportThreadCmd(cmd.Context(), args[0], path, format)
	},
}

func init() {
	listDefaults := NewThreadListConfig()
	threadListCmd.Flags().String("dataset", listDefaults.Dataset, "Only threads last asked about this dataset")
	threadListCmd.Flags().String("search", listDefaults.Search, "Search term to filter threads")
	threadListCmd.Flags().Int("limit", listDefaults.Limit, "Maximum number of threads to display")
	threadListCmd.Flags().Int("offset", listDefaults.Offset, "Offset for pagination")
	threadListCmd.Flags().String("sort-order", listDefaults.SortOrder, "Sort order by id: asc or desc")
	threadListCmd.Flags().Bool("json", listDefaults.JSONOutput, "Output in JSON format")

	threadShowCmd.Flags().String("format", "text", "Output format: text, json or yaml")
	threadDeleteCmd.Flags().Bool("no-confirm", false, "Skip confirmation prompt")
	threadExportCmd.Flags().String("format", "", "Export format: json or yaml (default: from the file extension, else json)")

	threadCmd.AddCommand(threadNewCmd)
	threadCmd.AddCommand(threadListCmd)
	threadCmd.AddCommand(threadUseCmd)
	threadCmd.AddCommand(threadShowCmd)
	threadCmd.AddCommand(threadDeleteCmd)
	threadCmd.AddCommand(threadExportCmd)
}

func getThreadListConfigFromFlags(cmd *cobra.Command) *ThreadListConfig {
	config := NewThreadListConfig()

	if dataset, err := cmd.Flags().GetString("dataset"); err == nil {
		config.Dataset = dataset
	}
	if search, err := cmd.Flags().GetString("search"); err == nil {
		config.Search = search
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if offset, err := cmd.Flags().GetInt("offset"); err == nil {
		config.Offset = offset
	}
	if sortOrder, err := cmd.Flags().GetString("sort-order"); err == nil {
		config.SortOrder = sortOrder
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSONOutput = jsonOutput
	}

	return config
}

func newThreadCmd(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	id, err := sess.NewChat(ctx, a.conversations.Store())
	if err != nil {
		return err
	}
	a.saveSession(ctx, sess)

	presenter.Success(fmt.Sprintf("Started thread %d", id))
	return nil
}

func threadSummaryRows(threads []convtypes.ThreadSummary, current *int64) [][]string {
	rows := make([][]string, 0, len(threads))
	for _, t := range threads {
		marker := ""
		if current != nil && *current == t.ID {
			marker = "*"
		}
		rows = append(rows, []string{
			marker,
			strconv.FormatInt(t.ID, 10),
			t.Dataset,
			strconv.Itoa(t.MessageCount),
			t.UpdatedAt.Local().Format(time.DateTime),
			t.FirstQuestion,
		})
	}
	return rows
}

func listThreadsCmd(ctx context.Context, config *ThreadListConfig) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.conversations.ListThreads(ctx, &conversations.ListThreadsRequest{
		Dataset:    config.Dataset,
		SearchTerm: config.Search,
		Limit:      config.Limit,
		Offset:     config.Offset,
		SortOrder:  config.SortOrder,
	})
	if err != nil {
		return err
	}

	if config.JSONOutput {
		return printJSON(resp)
	}

	if len(resp.Threads) == 0 {
		presenter.Info("No threads found.")
		return nil
	}

	state, err := a.stateFile.Load()
	if err != nil {
		return err
	}
	presenter.Table([]string{"", "ID", "Dataset", "Messages", "Updated", "First question"}, threadSummaryRows(resp.Threads, state.ThreadID))
	if resp.HasMore {
		presenter.Info(fmt.Sprintf("Showing %d of %d threads, use --offset to see more", len(resp.Threads), resp.Total))
	}
	return nil
}

func useThreadCmd(ctx context.Context, arg string) error {
	id, err := parseThreadID(arg)
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	if err := sess.OpenThread(ctx, a.conversations.Store(), id); err != nil {
		return err
	}
	a.saveSession(ctx, sess)

	msg := fmt.Sprintf("Resumed thread %d (%d messages)", id, len(sess.Messages))
	if sess.Dataset != "" {
		msg += fmt.Sprintf(", dataset %s", sess.Dataset)
	}
	presenter.Success(msg)
	return nil
}

func loadThread(ctx context.Context, a *app, args []string) (*convtypes.ThreadRecord, error) {
	var id int64
	if len(args) > 0 {
		var err error
		if id, err = parseThreadID(args[0]); err != nil {
			return nil, err
		}
	} else {
		state, err := a.stateFile.Load()
		if err != nil {
			return nil, err
		}
		if state.ThreadID == nil {
			return nil, errors.New("no current thread: pass an id or run 'tabletalk thread use <id>'")
		}
		id = *state.ThreadID
	}
	return a.conversations.GetThread(ctx, id)
}

func renderTranscript(w io.Writer, record *convtypes.ThreadRecord) {
	fmt.Fprintf(w, "Thread %d", record.ID)
	if record.Dataset != "" {
		fmt.Fprintf(w, " (%s)", record.Dataset)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 40))

	for _, m := range record.Messages {
		switch m.Role {
		case llmtypes.RoleUser:
			fmt.Fprintf(w, "\nYou: %s\n", m.Content)
		case llmtypes.RoleAssistant:
			fmt.Fprintf(w, "\nAssistant: %s\n", m.Content)
		default:
			fmt.Fprintf(w, "\n[%s] %s\n", m.Role, m.Content)
		}
	}
}

// encodeThread writes record as json or yaml.
func encodeThread(w io.Writer, record *convtypes.ThreadRecord, format string) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(record); err != nil {
			return errors.Wrap(err, "failed to encode thread as YAML")
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(record), "failed to encode thread as JSON")
	default:
		return errors.Errorf("unknown format %q, expected json or yaml", format)
	}
}

func showThreadCmd(ctx context.Context, args []string, format string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	record, err := loadThread(ctx, a, args)
	if err != nil {
		return err
	}

	if format == "text" {
		renderTranscript(os.Stdout, record)
		return nil
	}
	return encodeThread(os.Stdout, record, format)
}

func deleteThreadCmd(ctx context.Context, arg string, noConfirm bool) error {
	id, err := parseThreadID(arg)
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.conversations.GetThread(ctx, id); err != nil {
		return err
	}

	if !noConfirm {
		answer, ok := presenter.Default().Prompt(fmt.Sprintf("Delete thread %d? (y/N)", id))
		if !ok || (answer != "y" && answer != "Y" && answer != "yes") {
			presenter.Info("Aborted")
			return nil
		}
	}

	// the service hook clears the thread from the saved session
	if err := a.conversations.DeleteThread(ctx, id); err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("Deleted thread %d", id))
	return nil
}

// exportFormat picks the format from the flag, then the file extension.
func exportFormat(path, format string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return "yaml"
	default:
		return "json"
	}
}

func exportThreadCmd(ctx context.Context, arg, path, format string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	record, err := loadThread(ctx, a, []string{arg})
	if err != nil {
		return err
	}

	format = exportFormat(path, format)
	if path == "" {
		return encodeThread(os.Stdout, record, format)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create export file")
	}
	defer f.Close()

	if err := encodeThread(f, record, format); err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("Exported thread %d to %s", record.ID, path))
	return nil
}
