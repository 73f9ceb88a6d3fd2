package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/graph"
	"github.com/shepherd-os/shepherd/pkg/strategy"
)

// Kind names every agent state that can be persisted and resumed.
type Kind string

const (
	Steady               Kind = "steady"
	CheckingForUpdates   Kind = "checking-for-updates"
	StagingUpdate        Kind = "staging-update"
	UpdateStaged         Kind = "update-staged"
	AwaitingFinalization Kind = "awaiting-finalization"
	Finalizing           Kind = "finalizing"
	Degraded             Kind = "degraded"
)

// Degradation is the retry bookkeeping carried by the Degraded state. It is
// persisted so a restart resumes the backoff schedule instead of resetting
// it.
type Degradation struct {
	// Reason is the operator-facing description of the failure.
	Reason string `json:"reason"`
	// Target is the state being retried toward once the backoff elapses.
	Target Kind `json:"target"`
	// Attempt counts consecutive failures feeding the backoff.
	Attempt int `json:"attempt"`
	// RetryAt is when the target state is re-entered.
	RetryAt time.Time `json:"retry_at"`
	// Halted marks an unrecoverable failure. Halted degradations are never
	// retried; the agent keeps serving status queries and nothing else.
	Halted bool `json:"halted,omitempty"`
}

// Record is the single persisted snapshot of the orchestrator. Exactly one
// exists per host and the update agent is its sole mutator.
type Record struct {
	State Kind `json:"state"`
	// Candidate is set for every state that carries a staged or in-flight
	// update target.
	Candidate *graph.Candidate `json:"candidate,omitempty"`
	// Degradation is set iff State is Degraded.
	Degradation *Degradation `json:"degradation,omitempty"`
	// LockSlot mirrors the cluster-coordination lease, when one exists.
	LockSlot *strategy.LockSlot `json:"lock_slot,omitempty"`
}

func (r *Record) validate() error {
	switch r.State {
	case Steady, CheckingForUpdates:
		return nil
	case StagingUpdate, UpdateStaged, AwaitingFinalization, Finalizing:
		if r.Candidate == nil {
			return errors.Errorf("state %q requires a candidate", r.State)
		}
		return nil
	case Degraded:
		if r.Degradation == nil {
			return errors.New("degraded state requires retry bookkeeping")
		}
		return nil
	default:
		return errors.Errorf("unknown state %q", r.State)
	}
}

// Store persists agent state to a single local file. Writes are atomic
// (temp file in the same directory, then rename) and there is exactly one
// writer, so no further locking discipline is needed.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the last committed record. A missing file returns (nil, nil):
// the caller starts from Steady. A present-but-malformed file is a fatal
// condition, not a silent reset.
func (s *Store) Load() (*Record, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read persisted state")
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.Wrap(err, "malformed persisted state")
	}
	if err := record.validate(); err != nil {
		return nil, errors.WithMessage(err, "inconsistent persisted state")
	}
	return &record, nil
}

// Save atomically replaces the persisted record.
func (s *Store) Save(record *Record) error {
	if err := record.validate(); err != nil {
		return errors.WithMessage(err, "refusing to persist inconsistent state")
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "unable to encode state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "unable to create state directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "unable to create temporary state file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "unable to write state")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "unable to sync state")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "unable to close state file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "unable to commit state")
	}
	return nil
}
