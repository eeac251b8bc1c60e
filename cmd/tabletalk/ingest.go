package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
)

// IngestConfig holds configuration for the ingest command
type IngestConfig struct {
	Name     string
	NoSelect bool
}

// NewIngestConfig creates a new IngestConfig with default values
func NewIngestConfig() *IngestConfig {
	return &IngestConfig{}
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|glob>...",
	Short: "Load CSV files into datasets",
	Long: `Load one or more CSV files into the local database. Each file becomes a dataset
named after the file, unless --name is given. Glob patterns such as "data/**/*.csv"
are expanded. Files with an unknown encoding are detected and converted to UTF-8.

Loading into an existing dataset appends rows when the columns match.
The last dataset loaded becomes the current one.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getIngestConfigFromFlags(cmd)
		return runIngest(cmd.Context(), args, config)
	},
}

// IngestWatchConfig holds configuration for the ingest watch command
type IngestWatchConfig struct {
	Pattern  string
	Debounce int
}

// NewIngestWatchConfig creates a new IngestWatchConfig with default values
func NewIngestWatchConfig() *IngestWatchConfig {
	defaults := datasets.NewWatchConfig("")
	return &IngestWatchConfig{
		Pattern:  defaults.IncludePattern,
		Debounce: defaults.DebounceTime,
	}
}

var ingestWatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest CSV files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getIngestWatchConfigFromFlags(cmd)
		return runIngestWatch(cmd.Context(), args[0], config)
	},
}

func init() {
	ingestDefaults := NewIngestConfig()
	ingestCmd.Flags().String("name", ingestDefaults.Name, "Dataset name (only with a single file)")
	ingestCmd.Flags().Bool("no-select", ingestDefaults.NoSelect, "Do not make the loaded dataset current")

	watchDefaults := NewIngestWatchConfig()
	ingestWatchCmd.Flags().String("pattern", watchDefaults.Pattern, "File name pattern to ingest")
	ingestWatchCmd.Flags().Int("debounce", watchDefaults.Debounce, "Debounce time in milliseconds")

	ingestCmd.AddCommand(ingestWatchCmd)
}

func getIngestConfigFromFlags(cmd *cobra.Command) *IngestConfig {
	config := NewIngestConfig()
	if name, err := cmd.Flags().GetString("name"); err == nil {
		config.Name = name
	}
	if noSelect, err := cmd.Flags().GetBool("no-select"); err == nil {
		config.NoSelect = noSelect
	}
	return config
}

func getIngestWatchConfigFromFlags(cmd *cobra.Command) *IngestWatchConfig {
	config := NewIngestWatchConfig()
	if pattern, err := cmd.Flags().GetString("pattern"); err == nil {
		config.Pattern = pattern
	}
	if debounce, err := cmd.Flags().GetInt("debounce"); err == nil {
		config.Debounce = debounce
	}
	return config
}

func ingestResultRows(results []datasets.IngestResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "appended"
		if r.Created {
			status = "created"
		}
		rows = append(rows, []string{r.Source, r.Table, strconv.Itoa(r.Rows), r.Encoding, status})
	}
	return rows
}

func runIngest(ctx context.Context, patterns []string, config *IngestConfig) error {
	if config.Name != "" && len(patterns) > 1 {
		return errors.New("--name can only be used with a single file")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var nameFn func(string) string
	if config.Name != "" {
		nameFn = func(string) string { return config.Name }
	}

	results, ingestErr := a.datasets.IngestFiles(ctx, patterns, nameFn)
	if len(results) > 0 {
		presenter.Table([]string{"File", "Dataset", "Rows", "Encoding", "Status"}, ingestResultRows(results))
	}

	if len(results) > 0 && !config.NoSelect {
		current := results[len(results)-1].Table
		err := a.stateFile.Update(func(st *session.State) error {
			st.Dataset = current
			return nil
		})
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to save session state")
		} else {
			presenter.Success(fmt.Sprintf("Current dataset: %s", current))
		}
	}

	return ingestErr
}

func runIngestWatch(ctx context.Context, dir string, config *IngestWatchConfig) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	watchConfig := datasets.NewWatchConfig(dir)
	watchConfig.IncludePattern = config.Pattern
	watchConfig.DebounceTime = config.Debounce

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Info(fmt.Sprintf("Watching %s for %s files. Press Ctrl+C to stop.", dir, config.Pattern))

	err = a.datasets.Watch(ctx, watchConfig, func(path string, res *datasets.IngestResult, err error) {
		if err != nil {
			presenter.Error(err, path)
			return
		}
		presenter.Success(fmt.Sprintf("%s: %d rows into %s", path, res.Rows, res.Table))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
