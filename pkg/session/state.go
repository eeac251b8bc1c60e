package session

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// StateFileName is the name of the state file under the base path.
const StateFileName = "session.json"

// State is what a CLI invocation leaves behind for the next one.
type State struct {
	Dataset  string `json:"dataset,omitempty"`
	ThreadID *int64 `json:"thread_id,omitempty"`
}

// StateFile stores a State as JSON. Reads and writes take a file lock so
// concurrent invocations never see a torn file.
type StateFile struct {
	path string
}

// NewStateFile returns a state file at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// DefaultStateFile returns the state file under basePath.
func DefaultStateFile(basePath string) *StateFile {
	return NewStateFile(filepath.Join(basePath, StateFileName))
}

// Path returns the file location.
func (f *StateFile) Path() string { return f.path }

// Load reads the state. A missing or empty file is the zero State.
func (f *StateFile) Load() (State, error) {
	var state State

	data, err := lockedfile.Read(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, errors.Wrap(err, "failed to read session state")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return state, nil
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return state, errors.Wrap(err, "failed to unmarshal session state")
	}
	return state, nil
}

// Save overwrites the state.
func (f *StateFile) Save(state State) error {
	return f.Update(func(s *State) error {
		*s = state
		return nil
	})
}

// Update applies fn to the stored state under the file lock.
func (f *StateFile) Update(fn func(*State) error) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create state directory")
	}

	return lockedfile.Transform(f.path, func(data []byte) ([]byte, error) {
		var state State
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &state); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal session state")
			}
		}
		if err := fn(&state); err != nil {
			return nil, err
		}
		out, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal session state")
		}
		return append(out, '\n'), nil
	})
}
