package main

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/db"
	"github.com/tabletalk-dev/tabletalk/pkg/presenter"
	"github.com/tabletalk-dev/tabletalk/pkg/turn"
	convtypes "github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

func TestParseChatLine(t *testing.T) {
	tests := []struct {
		line    string
		wantCmd chatCommand
		wantArg string
	}{
		{"", chatEmpty, ""},
		{"   ", chatEmpty, ""},
		{"How many rows?", chatAsk, "How many rows?"},
		{"  padded question  ", chatAsk, "padded question"},
		{"/help", chatHelp, ""},
		{"/quit", chatQuit, ""},
		{"/exit", chatQuit, ""},
		{"/new", chatNew, ""},
		{"/use  sales ", chatUse, "sales"},
		{"/thread 12", chatThread, "12"},
		{"/datasets", chatDatasets, ""},
		{"/frobnicate x", chatUnknown, "frobnicate"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, arg := parseChatLine(tt.line)
			assert.Equal(t, tt.wantCmd, cmd)
			assert.Equal(t, tt.wantArg, arg)
		})
	}
}

func TestParseThreadID(t *testing.T) {
	id, err := parseThreadID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseThreadID(bad)
		assert.Error(t, err, bad)
	}
}

func TestResultRows(t *testing.T) {
	res := &datasets.Result{
		Columns: []string{"name", "age", "score", "note"},
		Rows: [][]any{
			{"Ann", int64(30), 1.5, nil},
		},
	}
	assert.Equal(t, [][]string{{"Ann", "30", "1.5", "NULL"}}, resultRows(res))
}

func TestIngestResultRows(t *testing.T) {
	rows := ingestResultRows([]datasets.IngestResult{
		{Source: "a.csv", Table: "a", Rows: 3, Encoding: "utf-8", Created: true},
		{Source: "b.csv", Table: "a", Rows: 1, Encoding: "windows-1252"},
	})
	assert.Equal(t, [][]string{
		{"a.csv", "a", "3", "utf-8", "created"},
		{"b.csv", "a", "1", "windows-1252", "appended"},
	}, rows)
}

func TestThreadSummaryRows(t *testing.T) {
	current := int64(2)
	updated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := threadSummaryRows([]convtypes.ThreadSummary{
		{ID: 2, Dataset: "sales", MessageCount: 4, FirstQuestion: "How many?", UpdatedAt: updated},
		{ID: 1, MessageCount: 0, UpdatedAt: updated},
	}, &current)

	require.Len(t, rows, 2)
	assert.Equal(t, "*", rows[0][0])
	assert.Equal(t, []string{"2", "sales", "4"}, rows[0][1:4])
	assert.Equal(t, "How many?", rows[0][5])
	assert.Equal(t, "", rows[1][0])
}

func TestExportFormat(t *testing.T) {
	assert.Equal(t, "json", exportFormat("", ""))
	assert.Equal(t, "json", exportFormat("out.json", ""))
	assert.Equal(t, "yaml", exportFormat("out.yaml", ""))
	assert.Equal(t, "yaml", exportFormat("out.yml", ""))
	assert.Equal(t, "yaml", exportFormat("out.json", "YAML"))
}

func TestEncodeThread(t *testing.T) {
	record := &convtypes.ThreadRecord{
		ID:      7,
		Dataset: "sales",
		Messages: []llmtypes.Message{
			llmtypes.User("How many?"),
			llmtypes.Assistant("Three."),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, encodeThread(&buf, record, "json"))
	var fromJSON convtypes.ThreadRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, record.Messages, fromJSON.Messages)

	buf.Reset()
	require.NoError(t, encodeThread(&buf, record, "yaml"))
	assert.Contains(t, buf.String(), "dataset: sales")
	var fromYAML convtypes.ThreadRecord
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, int64(7), fromYAML.ID)
	assert.Equal(t, record.Messages, fromYAML.Messages)

	assert.Error(t, encodeThread(&buf, record, "xml"))
}

func TestRenderTranscript(t *testing.T) {
	var buf bytes.Buffer
	renderTranscript(&buf, &convtypes.ThreadRecord{
		ID:       3,
		Dataset:  "sales",
		Messages: []llmtypes.Message{llmtypes.User("Q"), llmtypes.Assistant("A")},
	})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Thread 3 (sales)\n"))
	assert.Contains(t, out, "You: Q")
	assert.Contains(t, out, "Assistant: A")
}

func TestValidateServeConfig(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		config  ServeConfig
		wantErr bool
	}{
		{"defaults", *NewServeConfig(), false},
		{"any interface", ServeConfig{Host: "0.0.0.0", Port: 9000}, false},
		{"ip", ServeConfig{Host: "127.0.0.1", Port: 9000}, false},
		{"empty host", ServeConfig{Port: 9000}, true},
		{"host with port", ServeConfig{Host: "localhost:80", Port: 9000}, true},
		{"bad port", ServeConfig{Host: "localhost", Port: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateServeConfig(ctx, &tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type cannedClient struct{}

func (cannedClient) Name() string { return "canned" }

func (cannedClient) Complete(context.Context, []llmtypes.Message) (string, error) {
	return "SELECT COUNT(*) FROM people", nil
}

func (cannedClient) Stream(context.Context, []llmtypes.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if yield("Two ", nil) {
			yield("people.", nil)
		}
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	viper.Set("storage.base_path", t.TempDir())
	t.Cleanup(func() { viper.Set("storage.base_path", "") })

	a, err := openApp(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestChatREPL(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	_, err := a.datasets.Ingest(ctx, "people", []byte("name,age\nAnn,30\nBo,41\n"))
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	p := presenter.NewWithInput(strings.NewReader("what?\n/use people\nHow many people?\n/thread 99\n/bogus\n/quit\n"),
		&out, &errOut, presenter.ColorNever)

	sess, err := a.session(ctx)
	require.NoError(t, err)
	r := &chatREPL{
		app:    a,
		runner: &turn.Runner{Datasets: a.datasets, Conversations: a.conversations.Store(), Client: cannedClient{}},
		sess:   sess,
		p:      p,
	}
	r.loop(ctx)

	assert.Contains(t, errOut.String(), "no dataset selected")
	assert.Contains(t, out.String(), "Current dataset: people")
	assert.Contains(t, out.String(), "SQL> SELECT COUNT(*) FROM people")
	assert.Contains(t, out.String(), "Two people.\n")
	assert.Contains(t, out.String(), "Started thread 1")
	assert.Contains(t, out.String(), "Unknown command /bogus")
	assert.Contains(t, errOut.String(), "thread not found: 99")

	state, err := a.stateFile.Load()
	require.NoError(t, err)
	assert.Equal(t, "people", state.Dataset)
	require.NotNil(t, state.ThreadID)
	assert.Equal(t, int64(1), *state.ThreadID)
}

func TestDeleteThreadClearsSavedSession(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	sess, err := a.session(ctx)
	require.NoError(t, err)
	id, err := sess.NewChat(ctx, a.conversations.Store())
	require.NoError(t, err)
	a.saveSession(ctx, sess)

	require.NoError(t, a.conversations.DeleteThread(ctx, id))

	state, err := a.stateFile.Load()
	require.NoError(t, err)
	assert.Nil(t, state.ThreadID)
}

func TestMigrationRows(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	rows := migrationRows([]db.MigrationStatus{
		{Version: 1, Description: "create", AppliedAt: &at},
		{Version: 2, Description: "alter"},
	})
	assert.Equal(t, [][]string{
		{"[✓]", "1", "create", "2026-03-01 09:00"},
		{"[ ]", "2", "alter", "pending"},
	}, rows)
}
