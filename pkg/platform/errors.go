package platform

import (
	"github.com/pkg/errors"
)

// Error kinds reported by platform implementations. Wrapped values must keep
// these reachable through errors.Is so the agent can pick the right
// recovery path.
var (
	// ErrBusy means another daemon transaction is in progress; the request
	// is retriable after a delay.
	ErrBusy = errors.New("platform: transaction in progress")
	// ErrConflict means the candidate is no longer valid on the host (e.g.
	// the graph moved underneath it); the caller must re-resolve.
	ErrConflict = errors.New("platform: candidate no longer valid")
	// ErrFatal means the daemon reported an unrecoverable condition such as
	// a corrupt deployment; the failure is surfaced, not retried.
	ErrFatal = errors.New("platform: fatal deployment error")
)

// IsBusy reports whether err is a retriable busy condition.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsConflict reports whether err invalidated the in-flight candidate.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsFatal reports whether err is unrecoverable.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
