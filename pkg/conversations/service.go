// Package conversations provides thread management for tabletalk. It offers
// a store abstraction over the chat_instances database and a service with
// request/response types used by the CLI, the HTTP API and the MCP server.
package conversations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
)

// ConversationService provides high-level thread operations
type ConversationService struct {
	store    ConversationStore
	onDelete func(id int64) // Optional callback when a thread is deleted
}

// ServiceOption configures a ConversationService
type ServiceOption func(*ConversationService)

// WithOnDelete sets a callback invoked after a thread is deleted, e.g. to
// clear it from the session.
func WithOnDelete(fn func(id int64)) ServiceOption {
	return func(s *ConversationService) {
		s.onDelete = fn
	}
}

// NewConversationService creates a new conversation service
func NewConversationService(store ConversationStore, opts ...ServiceOption) *ConversationService {
	s := &ConversationService{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListThreadsRequest represents a request to list threads
type ListThreadsRequest struct {
	Dataset    string `json:"dataset,omitempty"`
	SearchTerm string `json:"searchTerm,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	SortOrder  string `json:"sortOrder,omitempty"`
}

// ListThreadsResponse represents the response from listing threads
type ListThreadsResponse struct {
	Threads []conversations.ThreadSummary `json:"threads"`
	Total   int                           `json:"total"`
	Limit   int                           `json:"limit"`
	Offset  int                           `json:"offset"`
	HasMore bool                          `json:"hasMore"`
}

// ListThreads retrieves thread summaries with filtering and pagination
func (s *ConversationService) ListThreads(ctx context.Context, req *ListThreadsRequest) (*ListThreadsResponse, error) {
	logger.G(ctx).WithField("request", req).Debug("listing threads")

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	result, err := s.store.ListThreads(ctx, conversations.QueryOptions{
		Dataset:    req.Dataset,
		SearchTerm: req.SearchTerm,
		Limit:      req.Limit,
		Offset:     req.Offset,
		SortOrder:  req.SortOrder,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query threads")
	}

	threads := result.Threads
	if threads == nil {
		threads = []conversations.ThreadSummary{}
	}

	return &ListThreadsResponse{
		Threads: threads,
		Total:   result.Total,
		Limit:   req.Limit,
		Offset:  req.Offset,
		HasMore: req.Limit > 0 && req.Offset+len(threads) < result.Total,
	}, nil
}

// GetThread returns the full record of thread id.
func (s *ConversationService) GetThread(ctx context.Context, id int64) (*conversations.ThreadRecord, error) {
	record, err := s.store.LoadThread(ctx, id)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// NewThread creates an empty thread and returns its id.
func (s *ConversationService) NewThread(ctx context.Context, dataset string) (int64, error) {
	var opts []conversations.WriteOption
	if dataset != "" {
		opts = append(opts, conversations.WithDataset(dataset))
	}
	return s.store.CreateThread(ctx, nil, opts...)
}

// DeleteThread removes a thread. Deleting an absent thread is not an error.
func (s *ConversationService) DeleteThread(ctx context.Context, id int64) error {
	if err := s.store.DeleteThread(ctx, id); err != nil {
		return err
	}

	logger.G(ctx).WithFields(logrus.Fields{"thread_id": id}).Info("thread deleted")
	if s.onDelete != nil {
		s.onDelete(id)
	}
	return nil
}

// Store exposes the underlying store for the turn runner.
func (s *ConversationService) Store() ConversationStore {
	return s.store
}

// Close closes the underlying store.
func (s *ConversationService) Close() error {
	return s.store.Close()
}
