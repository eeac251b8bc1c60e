// Package logger provides context-aware structured logging built on logrus.
// A logger entry can be attached to a context so that every layer of a
// turn (store, model call, persistence) logs with the same turn and thread
// fields without passing the entry around explicitly.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// G retrieves the logger from a context, falling back to L.
	G = GetLogger
	// L is the process-wide logger entry.
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// Options controls how the global logger is configured at startup.
type Options struct {
	Level  string
	Format string
	// File, when set, receives log output instead of stderr.
	File string
}

// WithLogger attaches a logger entry to ctx.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	e := logger.WithContext(ctx)
	return context.WithValue(ctx, loggerKey{}, e)
}

// WithFields returns a context whose logger carries the given fields in
// addition to whatever the parent context logger already had.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return WithLogger(ctx, G(ctx).WithFields(fields))
}

// GetLogger retrieves the logger entry from the context. If none is found the
// global logger L is returned with ctx attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	logger := ctx.Value(loggerKey{})
	if logger == nil {
		return L.WithContext(ctx)
	}
	return logger.(*logrus.Entry)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	setLoggerFormat(l, "fmt")
	return l
}

func setLoggerFormat(logger *logrus.Logger, format string) {
	switch format {
	case "json":
		logger.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "logLevel",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	case "text", "fmt":
		fallthrough
	default:
		logger.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}
	}
}

// Configure applies opts to the global logger. The returned closer releases
// the log file, if one was opened, and is always safe to call.
func Configure(opts Options) (io.Closer, error) {
	if opts.Level != "" {
		if err := SetLogLevel(opts.Level); err != nil {
			return nopCloser{}, errors.Wrapf(err, "invalid log level %q", opts.Level)
		}
	}
	SetLogFormat(opts.Format)

	if opts.File == "" {
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nopCloser{}, errors.Wrap(err, "failed to create log directory")
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nopCloser{}, errors.Wrap(err, "failed to open log file")
	}
	SetLogOutput(f)
	return f, nil
}

// SetLogLevel sets the log level for the global logger
func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(logLevel)
	return nil
}

// SetLogFormat sets the log format for the global logger
func SetLogFormat(format string) {
	setLoggerFormat(L.Logger, format)
}

// SetLogOutput sets the output destination for the global logger
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
