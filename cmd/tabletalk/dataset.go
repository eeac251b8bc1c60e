package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
)

var datasetCmd = &cobra.Command{
	Use:     "dataset",
	Aliases: []string{"datasets"},
	Short:   "Manage ingested datasets",
	Long:    `List, select, inspect and drop the datasets loaded with "tabletalk ingest".`,
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		match, _ := cmd.Flags().GetString("match")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return listDatasetsCmd(cmd.Context(), match, jsonOutput)
	},
}

var datasetUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a dataset current for questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return useDatasetCmd(cmd.Context(), args[0])
	},
}

var datasetShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show the columns of a dataset (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showDatasetCmd(cmd.Context(), args)
	},
}

var datasetRowsCmd = &cobra.Command{
	Use:   "rows [name]",
	Short: "Print every row of a dataset (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return datasetRowsCmdRun(cmd.Context(), args, jsonOutput)
	},
}

var datasetDropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Delete a dataset and its rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noConfirm, _ := cmd.Flags().GetBool("no-confirm")
		return dropDatasetCmd(cmd.Context(), args[0], noConfirm)
	},
}

func init() {
	datasetListCmd.Flags().String("match", "", "Only list datasets matching this glob, e.g. 'sales_*'")
	datasetListCmd.Flags().Bool("json", false, "Output in JSON format")
	datasetRowsCmd.Flags().Bool("json", false, "Output in JSON format")
	datasetDropCmd.Flags().Bool("no-confirm", false, "Skip confirmation prompt")

	datasetCmd.AddCommand(datasetListCmd)
	datasetCmd.AddCommand(datasetUseCmd)
	datasetCmd.AddCommand(datasetShowCmd)
	datasetCmd.AddCommand(datasetRowsCmd)
	datasetCmd.AddCommand(datasetDropCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listDatasetsCmd(ctx context.Context, match string, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.datasets.ListTablesMatching(ctx, match)
	if err != nil {
		return err
	}
	state, err := a.stateFile.Load()
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"datasets": names, "current": state.Dataset})
	}

	if len(names) == 0 {
		presenter.Info("No datasets found. Load one with: tabletalk ingest <file.csv>")
		return nil
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		marker := ""
		if name == state.Dataset {
			marker = "*"
		}
		rows = append(rows, []string{marker, name})
	}
	presenter.Table([]string{"", "Dataset"}, rows)
	return nil
}

// resolveDataset returns args[0] or the current dataset.
func resolveDataset(a *app, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	state, err := a.stateFile.Load()
	if err != nil {
		return "", err
	}
	if state.Dataset == "" {
		return "", fmt.Errorf("no dataset selected: pass a name or run 'tabletalk dataset use <name>'")
	}
	return state.Dataset, nil
}

func useDatasetCmd(ctx context.Context, name string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	exists, err := a.datasets.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return errdefs.TableNotFound(datasets.Sanitize(name))
	}

	table := datasets.Sanitize(name)
	if err := a.stateFile.Update(func(st *session.State) error {
		st.Dataset = table
		return nil
	}); err != nil {
		return err
	}

	presenter.Success(fmt.Sprintf("Current dataset: %s", table))
	return nil
}

func showDatasetCmd(ctx context.Context, args []string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := resolveDataset(a, args)
	if err != nil {
		return err
	}
	columns, err := a.datasets.GetSchema(ctx, name)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(columns))
	for _, c := range columns {
		def := ""
		if c.DefaultValue != nil {
			def = *c.DefaultValue
		}
		rows = append(rows, []string{c.Name, c.Type, fmt.Sprint(c.NotNull), def})
	}

	presenter.Section(datasets.Sanitize(name))
	presenter.Table([]string{"Column", "Type", "Not Null", "Default"}, rows)
	return nil
}

func datasetRowsCmdRun(ctx context.Context, args []string, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := resolveDataset(a, args)
	if err != nil {
		return err
	}
	res, err := a.datasets.GetAllRows(ctx, name)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(res)
	}
	printResult(presenter.Default(), res)
	return nil
}

func dropDatasetCmd(ctx context.Context, name string, noConfirm bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	table := datasets.Sanitize(name)
	exists, err := a.datasets.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return errdefs.TableNotFound(table)
	}

	if !noConfirm {
		answer, ok := presenter.Default().Prompt(fmt.Sprintf("Drop dataset %s and all its rows? (y/N)", table))
		if !ok || (answer != "y" && answer != "Y" && answer != "yes") {
			presenter.Info("Aborted")
			return nil
		}
	}

	if err := a.datasets.DropTable(ctx, table); err != nil {
		return err
	}
	if err := a.stateFile.Update(func(st *session.State) error {
		if st.Dataset == table {
			st.Dataset = ""
		}
		return nil
	}); err != nil {
		return err
	}

	presenter.Success(fmt.Sprintf("Dropped dataset %s", table))
	return nil
}
