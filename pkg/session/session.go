// Package session holds the per-user conversational state: the selected
// dataset, the current thread and its in-memory transcript.
package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	convtypes "github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// Threads is the part of the conversation store a session needs.
type Threads interface {
	CreateThread(ctx context.Context, messages []llmtypes.Message, opts ...convtypes.WriteOption) (int64, error)
	LoadThread(ctx context.Context, id int64) (convtypes.ThreadRecord, error)
}

// Session is owned by a single caller at a time. The turn runner mutates it
// only after a turn succeeded.
type Session struct {
	Dataset  string
	ThreadID *int64
	Messages []llmtypes.Message
}

// New returns a session with no dataset and no thread.
func New() *Session {
	return &Session{Messages: []llmtypes.Message{}}
}

// HasThread reports whether a thread is current.
func (s *Session) HasThread() bool {
	return s.ThreadID != nil
}

// SelectDataset makes name the dataset questions are asked against. The
// current thread is kept.
func (s *Session) SelectDataset(name string) {
	s.Dataset = name
}

// NewChat clears the transcript and creates an empty thread that becomes
// current.
func (s *Session) NewChat(ctx context.Context, threads Threads) (int64, error) {
	var opts []convtypes.WriteOption
	if s.Dataset != "" {
		opts = append(opts, convtypes.WithDataset(s.Dataset))
	}

	id, err := threads.CreateThread(ctx, []llmtypes.Message{}, opts...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create thread")
	}

	s.ThreadID = &id
	s.Messages = []llmtypes.Message{}
	logger.G(ctx).WithField("thread_id", id).Info("new chat started")
	return id, nil
}

// OpenThread makes thread id current and loads its transcript. The thread's
// dataset is selected when it recorded one.
func (s *Session) OpenThread(ctx context.Context, threads Threads, id int64) error {
	record, err := threads.LoadThread(ctx, id)
	if err != nil {
		return err
	}

	s.ThreadID = &id
	s.Messages = record.Messages
	if s.Messages == nil {
		s.Messages = []llmtypes.Message{}
	}
	if record.Dataset != "" {
		s.Dataset = record.Dataset
	}
	return nil
}

// ForgetThread drops the current thread pointer and transcript if id is the
// current thread. It reports whether anything was cleared.
func (s *Session) ForgetThread(id int64) bool {
	if s.ThreadID == nil || *s.ThreadID != id {
		return false
	}
	s.ThreadID = nil
	s.Messages = []llmtypes.Message{}
	return true
}

// Commit replaces the transcript and current thread after a completed turn.
func (s *Session) Commit(threadID int64, messages []llmtypes.Message) {
	id := threadID
	s.ThreadID = &id
	s.Messages = messages
}

// Snapshot returns a copy of the transcript.
func (s *Session) Snapshot() []llmtypes.Message {
	out := make([]llmtypes.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// State returns the part of the session that survives between processes.
func (s *Session) State() State {
	st := State{Dataset: s.Dataset}
	if s.ThreadID != nil {
		id := *s.ThreadID
		st.ThreadID = &id
	}
	return st
}

// Restore rebuilds a session from persisted state. A thread that no longer
// exists is dropped with a warning.
func Restore(ctx context.Context, state State, threads Threads) (*Session, error) {
	s := New()
	s.Dataset = state.Dataset

	if state.ThreadID == nil {
		return s, nil
	}

	err := s.OpenThread(ctx, threads, *state.ThreadID)
	switch {
	case err == nil:
	case errdefs.IsNotFound(err):
		logger.G(ctx).WithField("thread_id", *state.ThreadID).Warn("saved thread no longer exists")
	default:
		return nil, err
	}
	return s, nil
}
