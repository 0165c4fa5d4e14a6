package finetune

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/keplerlab/kepler/pkg/errors"
)

// JobRecord is one finished fine-tuning job in the history.
type JobRecord struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
	Err        string    `json:"error,omitempty"`
}

// State is the persisted fine-tuning record. ActiveJobID is non-empty
// exactly while a job is in flight; it is cleared once, when the job reaches
// a terminal status.
type State struct {
	BaseModelID   string      `json:"base_model_id"`
	ActiveModelID string      `json:"active_model_id,omitempty"`
	ActiveJobID   string      `json:"active_job_id,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
	History       []JobRecord `json:"history,omitempty"`
}

// CurrentModelID returns the model the agent should query with: the active
// fine-tuned model when one exists, otherwise the base model.
func (s *State) CurrentModelID() string {
	if s.ActiveModelID != "" {
		return s.ActiveModelID
	}
	return s.BaseModelID
}

// StateStore persists State as JSON with atomic replacement.
type StateStore struct {
	path string
}

// NewStateStore creates a store at path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the state file path.
func (s *StateStore) Path() string {
	return s.path
}

// Load reads the persisted state. A missing file yields a zero state.
func (s *StateStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to read model state"),
			errors.Fields{"path": s.path})
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to parse model state"),
			errors.Fields{"path": s.path})
	}
	return &state, nil
}

// Save writes the state atomically via a temp file rename.
func (s *StateStore) Save(state *State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to create state directory")
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to encode model state")
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.StorageFailed, "failed to write model state")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to close temp file")
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to replace model state")
	}
	return nil
}
