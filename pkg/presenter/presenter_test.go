package presenter

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBuffered() (*TerminalPresenter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewWithOptions(&out, &errOut, ColorNever), &out, &errOut
}

func TestNew(t *testing.T) {
	p := New()
	assert.NotNil(t, p)
	assert.Equal(t, os.Stdout, p.output)
	assert.Equal(t, os.Stderr, p.errorOutput)
	assert.False(t, p.quiet)
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		tabColor string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"always", "", "always", ColorAlways},
		{"force", "", "force", ColorAlways},
		{"never", "", "never", ColorNever},
		{"off", "", "off", ColorNever},
		{"auto", "", "auto", ColorAuto},
		{"default", "", "", ColorAuto},
		{"invalid", "", "rainbow", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("TABLETALK_COLOR", tt.tabColor)
			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestMessages(t *testing.T) {
	p, out, errOut := newBuffered()

	p.Error(errors.New("boom"), "ingest")
	p.Error(errors.New("bare"), "")
	p.Error(nil, "ignored")
	p.Success("done")
	p.Warning("careful")
	p.Info("plain")
	p.Section("Datasets")
	p.Query("SELECT 1")

	assert.Equal(t, "[ERROR] ingest: boom\n[ERROR] bare\n", errOut.String())
	assert.Equal(t, "✓ done\n⚠ careful\nplain\nDatasets\n--------\nSQL> SELECT 1\n", out.String())
}

func TestQuiet(t *testing.T) {
	p, out, errOut := newBuffered()
	p.SetQuiet(true)
	assert.True(t, p.IsQuiet())

	p.Success("x")
	p.Warning("x")
	p.Info("x")
	p.Section("x")
	p.Separator()
	p.Query("x")
	assert.Empty(t, out.String())

	p.Error(errors.New("still shown"), "")
	assert.Contains(t, errOut.String(), "still shown")

	p.Table([]string{"a"}, [][]string{{"1"}})
	assert.Contains(t, out.String(), "1", "tables are command output")
}

func TestStream(t *testing.T) {
	p, out, _ := newBuffered()
	p.Stream("There are ")
	p.Stream("2 rows.")
	p.EndStream()
	assert.Equal(t, "There are 2 rows.\n", out.String())
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	p := NewWithInput(strings.NewReader("how many rows?\nlast"), &out, io.Discard, ColorNever)

	line, ok := p.Prompt(">")
	assert.True(t, ok)
	assert.Equal(t, "how many rows?", line)

	line, ok = p.Prompt(">")
	assert.True(t, ok)
	assert.Equal(t, "last", line)

	_, ok = p.Prompt(">")
	assert.False(t, ok)
	assert.Equal(t, "> > > ", out.String())
}

func TestRenderTable(t *testing.T) {
	rendered := RenderTable([]string{"name", "age"}, [][]string{{"Ann", "30"}, {"Bo", "41"}})

	lines := strings.Split(rendered, "\n")
	assert.GreaterOrEqual(t, len(lines), 5)
	for _, want := range []string{"name", "age", "Ann", "30", "Bo", "41"} {
		assert.Contains(t, rendered, want)
	}
	assert.True(t, strings.Index(rendered, "Ann") < strings.Index(rendered, "Bo"))
}
