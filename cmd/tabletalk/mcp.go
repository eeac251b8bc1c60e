package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol integration",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve datasets as MCP tools over stdio",
	Long: `Run an MCP server on stdin/stdout exposing the tools list_datasets,
describe_dataset and ask_dataset. Logs go to stderr or --log-file so they do
not interfere with the protocol stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		runner, err := a.runner(ctx)
		if err != nil {
			return err
		}

		srv := mcpserver.New(a.datasets, a.conversations.Store(), runner)
		if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
			return err
		}
		logger.G(ctx).Info("MCP server stopped")
		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
}
