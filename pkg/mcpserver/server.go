// Package mcpserver exposes datasets and the question answering loop as
// MCP tools over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tabletalk-dev/tabletalk/pkg/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
	"github.com/tabletalk-dev/tabletalk/pkg/turn"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	"github.com/tabletalk-dev/tabletalk/pkg/version"
)

const serverName = "tabletalk"

// Server holds the MCP tool handlers.
type Server struct {
	datasets *datasets.Store
	threads  conversations.ConversationStore
	runner   *turn.Runner
	mcp      *server.MCPServer

	// turns share the stores and are run one at a time.
	mu sync.Mutex
}

// New registers the tools on a fresh MCP server.
func New(store *datasets.Store, threads conversations.ConversationStore, runner *turn.Runner) *Server {
	s := &Server{
		datasets: store,
		threads:  threads,
		runner:   runner,
		mcp:      server.NewMCPServer(serverName, version.Version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("list_datasets",
		mcp.WithDescription("List the datasets that can be queried"),
		mcp.WithString("match", mcp.Description("Optional glob filter, e.g. sales_*")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.listDatasets)

	s.mcp.AddTool(mcp.NewTool("describe_dataset",
		mcp.WithDescription("Show the columns of a dataset with their SQL types"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Dataset name")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.describeDataset)

	s.mcp.AddTool(mcp.NewTool("ask_dataset",
		mcp.WithDescription("Answer a natural language question about a dataset. "+
			"The question is translated to SQL, executed and explained. "+
			"Pass thread_id from a previous answer to continue that conversation."),
		mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset name")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question in plain language")),
		mcp.WithNumber("thread_id", mcp.Description("Thread to continue")),
	), s.askDataset)

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve speaks MCP over in and out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	errWriter := logger.G(ctx).WriterLevel(logrus.ErrorLevel)
	defer errWriter.Close()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(errWriter, "", 0))

	logger.G(ctx).Info("MCP server listening on stdio")
	return stdio.Listen(ctx, in, out)
}

func (s *Server) listDatasets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.datasets.ListTablesMatching(ctx, req.GetString("match", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(names) == 0 {
		return mcp.NewToolResultText("No datasets."), nil
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) describeDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	schema, err := s.datasets.SchemaText(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(schema), nil
}

func (s *Server) askDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dataset, err := req.RequireString("dataset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threadID := int64(req.GetFloat("thread_id", 0))

	dataset = datasets.Sanitize(dataset)
	exists, err := s.datasets.TableExists(ctx, dataset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !exists {
		return mcp.NewToolResultError(errdefs.TableNotFound(dataset).Error()), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := session.New()
	if threadID > 0 {
		if err := sess.OpenThread(ctx, s.threads, threadID); err != nil {
			return mcp.NewToolResultError(errors.Wrapf(err, "cannot continue thread %d", threadID).Error()), nil
		}
	}
	sess.SelectDataset(dataset)

	res, err := s.runner.Run(ctx, sess, question, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatAnswer(res)), nil
}

func formatAnswer(res *turn.Result) string {
	var b strings.Builder
	b.WriteString(res.Answer)
	b.WriteString("\n\n")
	if res.Query != "" {
		fmt.Fprintf(&b, "SQL: %s\n", res.Query)
	}
	fmt.Fprintf(&b, "thread_id: %d", res.ThreadID)
	return b.String()
}
