// Package errdefs defines the error taxonomy shared by the stores, the
// completion clients and the turn runner. Each type wraps its cause so that
// errors.Is / errors.As keep working through github.com/pkg/errors wrapping.
package errdefs

import (
	stderrors "errors"
	"fmt"
)

// StoreError reports a malformed write, e.g. a row whose arity does not match
// the target table.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("store: %s", e.Op)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// NotFoundError reports a reference to an absent table or thread.
type NotFoundError struct {
	Kind string // "table" or "thread"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// ExecutionError wraps an engine error raised by an ad hoc query. Invalid
// generated SQL is routine, so callers usually downgrade it to "no result".
type ExecutionError struct {
	Query string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("failed to execute query %q: %v", e.Query, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// CompletionError wraps a language model API failure.
type CompletionError struct {
	Provider string
	Cause    error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Cause)
}

func (e *CompletionError) Unwrap() error { return e.Cause }

// NewStoreError builds a StoreError with a formatted operation description.
func NewStoreError(cause error, format string, args ...any) error {
	return &StoreError{Op: fmt.Sprintf(format, args...), Cause: cause}
}

// TableNotFound returns a NotFoundError for a dataset table.
func TableNotFound(name string) error {
	return &NotFoundError{Kind: "table", Name: name}
}

// ThreadNotFound returns a NotFoundError for a conversation thread.
func ThreadNotFound(id int64) error {
	return &NotFoundError{Kind: "thread", Name: fmt.Sprintf("%d", id)}
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return stderrors.As(err, &target)
}

// IsStore reports whether err is, or wraps, a StoreError.
func IsStore(err error) bool {
	var target *StoreError
	return stderrors.As(err, &target)
}

// IsExecution reports whether err is, or wraps, an ExecutionError.
func IsExecution(err error) bool {
	var target *ExecutionError
	return stderrors.As(err, &target)
}

// IsCompletion reports whether err is, or wraps, a CompletionError.
func IsCompletion(err error) bool {
	var target *CompletionError
	return stderrors.As(err, &target)
}
