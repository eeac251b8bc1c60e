// Package server provides the HTTP API over datasets, threads and the
// question answering loop. One session is shared by all clients and turns
// are serialised.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/tabletalk-dev/tabletalk/pkg/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/session"
	"github.com/tabletalk-dev/tabletalk/pkg/turn"
)

// maxUploadSize bounds multipart dataset uploads.
const maxUploadSize = 64 << 20

// Server represents the HTTP API server
type Server struct {
	router        *mux.Router
	config        *ServerConfig
	server        *http.Server
	datasets      *datasets.Store
	conversations *conversations.ConversationService
	runner        *turn.Runner
	markdown      goldmark.Markdown

	// mu guards session and serialises turns.
	mu        sync.Mutex
	session   *session.Session
	stateFile *session.StateFile
}

// ServerConfig holds the configuration for the HTTP server
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Option configures a Server
type Option func(*Server)

// WithSession starts the server from an existing session.
func WithSession(sess *session.Session) Option {
	return func(s *Server) { s.session = sess }
}

// WithStateFile saves the session's dataset and thread after every change.
func WithStateFile(f *session.StateFile) Option {
	return func(s *Server) { s.stateFile = f }
}

// NewServer creates the API server. runner.Datasets and
// runner.Conversations are expected to be backed by store and service.
func NewServer(config *ServerConfig, store *datasets.Store, service *conversations.ConversationService, runner *turn.Runner, opts ...Option) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:        mux.NewRouter(),
		config:        config,
		datasets:      store,
		conversations: service,
		runner:        runner,
		markdown:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		session:       session.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/datasets", s.handleListDatasets).Methods("GET")
	api.HandleFunc("/datasets", s.handleUploadDataset).Methods("POST")
	api.HandleFunc("/datasets/{name}/schema", s.handleGetSchema).Methods("GET")
	api.HandleFunc("/datasets/{name}/rows", s.handleGetRows).Methods("GET")
	api.HandleFunc("/datasets/{name}", s.handleDropDataset).Methods("DELETE")

	api.HandleFunc("/threads", s.handleListThreads).Methods("GET")
	api.HandleFunc("/threads", s.handleNewThread).Methods("POST")
	api.HandleFunc("/threads/{id:[0-9]+}", s.handleGetThread).Methods("GET")
	api.HandleFunc("/threads/{id:[0-9]+}", s.handleDeleteThread).Methods("DELETE")

	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session/dataset", s.handleSelectDataset).Methods("POST")
	api.HandleFunc("/session/thread", s.handleOpenThread).Methods("POST")

	api.HandleFunc("/ask", s.handleAsk).Methods("POST")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// saveState must be called with s.mu held.
func (s *Server) saveState(ctx context.Context) {
	if s.stateFile == nil {
		return
	}
	if err := s.stateFile.Save(s.session.State()); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to save session state")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	entry := logger.G(ctx).WithField("status", status)
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	body := map[string]any{
		"error":   message,
		"status":  status,
		"success": false,
	}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	logger.G(ctx).WithField("address", "http://"+address).Info("API server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
