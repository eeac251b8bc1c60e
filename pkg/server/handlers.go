package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/datasets"
	"github.com/tabletalk-dev/tabletalk/pkg/turn"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
	"github.com/tabletalk-dev/tabletalk/pkg/version"
)

// SessionResponse is the shared session as seen by clients.
type SessionResponse struct {
	Dataset  string             `json:"dataset"`
	ThreadID *int64             `json:"thread_id"`
	Messages []llmtypes.Message `json:"messages"`
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	Dataset  string `json:"dataset,omitempty"`
}

// AskResponse is a completed turn plus the answer rendered as HTML.
type AskResponse struct {
	*turn.Result
	AnswerHTML string `json:"answer_html"`
}

func statusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsStore(err):
		return http.StatusBadRequest
	case errdefs.IsCompletion(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get().Version,
	})
}

// handleListDatasets handles GET /api/datasets?match=glob
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names, err := s.datasets.ListTablesMatching(ctx, r.URL.Query().Get("match"))
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "failed to list datasets", err)
		return
	}

	s.mu.Lock()
	current := s.session.Dataset
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": names,
		"current":  current,
	})
}

// handleUploadDataset handles POST /api/datasets with a multipart "file"
// and an optional "name". The uploaded dataset becomes current.
func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid multipart upload", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "missing file field", err)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "failed to read upload", err)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = datasets.NameFromPath(header.Filename)
	}

	result, err := s.datasets.Ingest(ctx, name, raw)
	if err != nil {
		writeError(ctx, w, statusFor(err), "failed to ingest dataset", err)
		return
	}
	result.Source = header.Filename

	s.mu.Lock()
	s.session.SelectDataset(result.Table)
	s.saveState(ctx)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := datasets.Sanitize(mux.Vars(r)["name"])

	columns, err := s.datasets.GetSchema(ctx, name)
	if err != nil {
		writeError(ctx, w, statusFor(err), "failed to get schema", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"table":   name,
		"columns": columns,
	})
}

func (s *Server) handleGetRows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	rows, err := s.datasets.GetAllRows(ctx, name)
	if err != nil {
		writeError(ctx, w, statusFor(err), "failed to get rows", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleDropDataset handles DELETE /api/datasets/{name}. Dropping the
// current dataset deselects it.
func (s *Server) handleDropDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := datasets.Sanitize(mux.Vars(r)["name"])

	if err := s.datasets.DropTable(ctx, name); err != nil {
		writeError(ctx, w, statusFor(err), "failed to drop dataset", err)
		return
	}

	s.mu.Lock()
	if s.session.Dataset == name {
		s.session.SelectDataset("")
		s.saveState(ctx)
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// handleListThreads handles GET /api/threads
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	req := &conversations.ListThreadsRequest{
		Dataset:    query.Get("dataset"),
		SearchTerm: query.Get("search"),
		SortOrder:  query.Get("sortOrder"),
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		req.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		req.Offset = offset
	}

	resp, err := s.conversations.ListThreads(ctx, req)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, "failed to list threads", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func threadID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, errors.Wrap(err, "invalid thread id")
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := threadID(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid thread id", err)
		return
	}

	record, err := s.conversations.GetThread(ctx, id)
	if err != nil {
		writeError(ctx, w, statusFor(err), "failed to get thread", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleDeleteThread handles DELETE /api/threads/{id}. Deleting the current
// thread clears it from the session.
func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := threadID(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid thread id", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conversations.DeleteThread(ctx, id); err != nil {
		writeError(ctx, w, http.StatusInternalServerError, "failed to delete thread", err)
		return
	}
	if s.session.ForgetThread(id) {
		s.saveState(ctx)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleNewThread handles POST /api/threads: start a new chat.
func (s *Server) handleNewThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.session.NewChat(ctx, s.conversations.Store())
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, "failed to create thread", err)
		return
	}
	s.saveState(ctx)

	writeJSON(w, http.StatusCreated, map[string]any{"thread_id": id})
}

func (s *Server) sessionResponse() SessionResponse {
	return SessionResponse{
		Dataset:  s.session.Dataset,
		ThreadID: s.session.State().ThreadID,
		Messages: s.session.Snapshot(),
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := s.sessionResponse()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleSelectDataset handles POST /api/session/dataset {"name": "..."}
func (s *Server) handleSelectDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(ctx, w, http.StatusBadRequest, "body must be {\"name\": \"<dataset>\"}", err)
		return
	}

	name, ok := s.existingDataset(w, r, body.Name)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.SelectDataset(name)
	s.saveState(ctx)

	writeJSON(w, http.StatusOK, s.sessionResponse())
}

// existingDataset resolves name to its table name. It writes a 404 and
// returns false when no such table exists.
func (s *Server) existingDataset(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	ctx := r.Context()
	table := datasets.Sanitize(name)

	exists, err := s.datasets.TableExists(ctx, table)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, "failed to look up dataset", err)
		return "", false
	}
	if !exists {
		writeError(ctx, w, http.StatusNotFound, "dataset not found", errdefs.TableNotFound(table))
		return "", false
	}
	return table, true
}

// handleOpenThread handles POST /api/session/thread {"thread_id": N}
func (s *Server) handleOpenThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		ThreadID int64 `json:"thread_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "body must be {\"thread_id\": <id>}", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.session.OpenThread(ctx, s.conversations.Store(), body.ThreadID); err != nil {
		writeError(ctx, w, statusFor(err), "failed to open thread", err)
		return
	}
	s.saveState(ctx)

	writeJSON(w, http.StatusOK, s.sessionResponse())
}

// handleAsk handles POST /api/ask. The turn runs under the session lock so
// concurrent questions are answered one after the other.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var dataset string
	if req.Dataset != "" {
		name, ok := s.existingDataset(w, r, req.Dataset)
		if !ok {
			return
		}
		dataset = name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dataset != "" {
		s.session.SelectDataset(dataset)
	}

	result, err := s.runner.Run(ctx, s.session, req.Question, nil)
	switch {
	case errors.Is(err, turn.ErrNoDataset), errors.Is(err, turn.ErrEmptyQuestion):
		writeError(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	case err != nil:
		writeError(ctx, w, statusFor(err), "failed to answer question", err)
		return
	}
	s.saveState(ctx)

	writeJSON(w, http.StatusOK, AskResponse{
		Result:     result,
		AnswerHTML: s.renderMarkdown(result.Answer),
	})
}
