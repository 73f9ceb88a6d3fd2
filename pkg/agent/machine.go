package agent

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/graph"
	"github.com/shepherd-os/shepherd/pkg/state"
	"github.com/shepherd-os/shepherd/pkg/strategy"
)

// Backoff bounds for degraded retries. The interval is capped, the retry
// count is not: routine transient conditions are retried forever, only ever
// slower.
const (
	backoffMin = 30 * time.Second
	backoffMax = 10 * time.Minute

	// reportAttempts is the attempt count past which a still-failing
	// condition is escalated from warning to error logging.
	reportAttempts = 10
)

// Snapshot is the agent's externally visible state, served by the status
// endpoint.
type Snapshot struct {
	State         state.Kind `json:"state"`
	BootedVersion string     `json:"booted_version,omitempty"`
	Candidate     string     `json:"candidate,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
}

// Status snapshots the agent for status queries. Safe from any goroutine.
func (a *Agent) Status() interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// commit persists the record, refreshes the snapshot and meters the
// transition. Every state change goes through here so a crash at any point
// resumes from the last committed state.
func (a *Agent) commit(record *state.Record) error {
	if holder, ok := a.strategy.(strategy.SlotHolder); ok {
		slot := holder.Slot()
		record.LockSlot = &slot
	}

	if err := a.store.Save(record); err != nil {
		// Proceeding with unpersisted state risks double-applying an
		// irreversible action after a crash.
		return errors.WithMessagef(ErrFatal, "unable to persist state: %v", err)
	}

	if record.State != a.record.State {
		a.metrics.Transitions.WithLabelValues(string(record.State)).Inc()
		a.log.WithField("state", record.State).Info("state transition")
	}
	a.record = *record

	snapshot := Snapshot{
		State:         record.State,
		BootedVersion: a.bootedVersion,
	}
	if record.Candidate != nil {
		snapshot.Candidate = record.Candidate.Version()
	}
	if record.Degradation != nil {
		snapshot.Reason = record.Degradation.Reason
		retryAt := record.Degradation.RetryAt
		snapshot.RetryAt = &retryAt
	}
	a.mu.Lock()
	a.snapshot = snapshot
	a.mu.Unlock()
	return nil
}

// transition moves to a plain (non-degraded) state, keeping the candidate
// where the target state carries one.
func (a *Agent) transition(kind state.Kind) error {
	record := &state.Record{State: kind}
	switch kind {
	case state.StagingUpdate, state.UpdateStaged, state.AwaitingFinalization, state.Finalizing:
		record.Candidate = a.record.Candidate
	}
	return a.commit(record)
}

// adopt moves to a candidate-carrying state with a new target.
func (a *Agent) adopt(kind state.Kind, candidate *graph.Candidate) error {
	record := &state.Record{State: kind, Candidate: candidate}
	return a.commit(record)
}

// degrade enters the Degraded state on the way back to target. Consecutive
// failures against the same target stretch the backoff; the candidate is
// carried along so candidate-bearing targets can resume.
func (a *Agent) degrade(reason string, target state.Kind, cause error) error {
	attempt := 1
	if a.record.State == state.Degraded && a.record.Degradation.Target == target {
		attempt = a.record.Degradation.Attempt + 1
	} else if prior, ok := a.attempts[target]; ok {
		attempt = prior + 1
	}
	a.attempts[target] = attempt

	delay := a.retryDelay(attempt)
	retryAt := a.clock.Now().Add(delay)

	entry := a.log.WithError(cause).WithFields(map[string]interface{}{
		"target":   target,
		"attempt":  attempt,
		"retry_in": delay,
	})
	if attempt > reportAttempts {
		entry.Error("degraded, still failing")
	} else {
		entry.Warn("degraded")
	}

	record := &state.Record{
		State:     state.Degraded,
		Candidate: a.record.Candidate,
		Degradation: &state.Degradation{
			Reason:  reason,
			Target:  target,
			Attempt: attempt,
			RetryAt: retryAt,
		},
	}
	return a.commit(record)
}

// halt parks the agent after a fatal condition: updates stop, status
// queries keep being served, nothing is retried.
func (a *Agent) halt(reason string, cause error) error {
	a.log.WithError(cause).Error("fatal condition, halting update progress")

	record := &state.Record{
		State:     state.Degraded,
		Candidate: a.record.Candidate,
		Degradation: &state.Degradation{
			Reason: reason,
			Target: state.CheckingForUpdates,
			Halted: true,
		},
	}
	return a.commit(record)
}

// retryDelay is exponential with a small additive jitter, capped. The
// jitter stays under the doubling step so successive uncapped delays remain
// strictly increasing.
func (a *Agent) retryDelay(attempt int) time.Duration {
	base := a.backoff(0, attempt)
	jitter := time.Duration(rand.Int63n(int64(base/10) + 1))
	if base+jitter > backoffMax {
		return backoffMax
	}
	return base + jitter
}
