package agent

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/shepherd-os/shepherd/pkg/logging"
	"github.com/shepherd-os/shepherd/pkg/metrics"
	"github.com/shepherd-os/shepherd/pkg/platform"
	"github.com/shepherd-os/shepherd/pkg/state"
	"github.com/shepherd-os/shepherd/pkg/strategy"
)

// ErrFatal marks conditions the agent cannot recover from by retrying:
// unpersistable or corrupt state, or a daemon-reported unrecoverable
// deployment failure. Callers should exit on it.
var ErrFatal = errors.New("agent: unrecoverable condition")

// Config assembles an Agent's collaborators. All fields except Clock are
// required.
type Config struct {
	Clock         clock.Clock
	Store         *state.Store
	Source        Resolver
	Platform      platform.Platform
	Strategy      strategy.Evaluator
	Metrics       *metrics.Metrics
	PollInterval  time.Duration
	AllowBarriers bool
}

// Agent is the host's update orchestrator: a state machine that periodically
// resolves a candidate from the update graph, stages it through the local
// daemon and finalizes it once the configured strategy permits. The machine
// runs single-threaded in its own goroutine; graph and daemon calls are
// delegated to worker actors so a slow collaborator never wedges the loop.
type Agent struct {
	log          logging.Logger
	clock        clock.Clock
	store        *state.Store
	metrics      *metrics.Metrics
	strategy     strategy.Evaluator
	pollInterval time.Duration

	graphbox chan resolveRequest
	platbox  chan platformRequest
	resolver *graphWorker
	daemon   *platformWorker

	record        state.Record
	bootedVersion string
	attempts      map[state.Kind]int
	backoff       func(time.Duration, int) time.Duration

	// steadyPending is set after booting into a finalized update, until the
	// strategy has acknowledged the steady report.
	steadyPending bool
	// strategyRetryAt paces strategy checks while awaiting finalization.
	strategyRetryAt time.Time
	// finalized ends the run loop once a finalization has been handed off.
	finalized bool

	mu       sync.RWMutex
	snapshot Snapshot
}

// New builds an Agent from its collaborators.
func New(log logging.Logger, cfg Config) (*Agent, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("agent requires a state store")
	case cfg.Source == nil:
		return nil, errors.New("agent requires an update source")
	case cfg.Platform == nil:
		return nil, errors.New("agent requires a platform")
	case cfg.Strategy == nil:
		return nil, errors.New("agent requires a finalization strategy")
	case cfg.Metrics == nil:
		return nil, errors.New("agent requires metrics")
	case cfg.PollInterval <= 0:
		return nil, errors.New("agent requires a positive poll interval")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	a := &Agent{
		log:          log,
		clock:        clk,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		strategy:     cfg.Strategy,
		pollInterval: cfg.PollInterval,
		graphbox:     make(chan resolveRequest),
		platbox:      make(chan platformRequest),
		attempts:     make(map[state.Kind]int),
		backoff:      retry.ExpBackoff(backoffMin, backoffMax, 2.0, false),
	}
	a.resolver = &graphWorker{
		log:           log,
		source:        cfg.Source,
		allowBarriers: cfg.AllowBarriers,
		mailbox:       a.graphbox,
	}
	a.daemon = &platformWorker{
		log:      log,
		platform: cfg.Platform,
		mailbox:  a.platbox,
	}
	return a, nil
}

// Run recovers persisted state and drives the orchestration loop until the
// context is canceled, a finalization has been handed off to the daemon, or
// a fatal condition surfaces.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.recover(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.resolver.Run(ctx) })
	group.Go(func() error { return a.daemon.Run(ctx) })
	group.Go(func() error {
		defer cancel()
		return a.loop(ctx)
	})
	return group.Wait()
}

// recover loads the last committed record and rebuilds the in-memory
// bookkeeping it implies. A fresh host starts Steady.
func (a *Agent) recover() error {
	record, err := a.store.Load()
	if err != nil {
		return errors.WithMessagef(ErrFatal, "%v", err)
	}
	if record == nil {
		record = &state.Record{State: state.Steady}
		a.log.Info("no persisted state, starting steady")
	} else {
		a.log.WithField("state", record.State).Info("resuming persisted state")
	}

	if record.LockSlot != nil {
		if holder, ok := a.strategy.(strategy.SlotHolder); ok {
			holder.RestoreSlot(*record.LockSlot)
		}
	}
	if record.Degradation != nil {
		a.attempts[record.Degradation.Target] = record.Degradation.Attempt
	}
	if record.LockSlot != nil && record.LockSlot.HoldsSlot {
		// A held reboot slot survived the restart, whatever state the agent
		// was in; make sure it is released once the machine reaches Steady
		// instead of leaving the fleet slot occupied until lease expiry.
		a.steadyPending = true
	}

	a.record = *record
	return a.commit(record)
}

func (a *Agent) loop(ctx context.Context) error {
	a.log.Debug("starting")
	defer a.log.Debug("finished")

	timer := a.clock.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.Chan():
		}

		done, err := a.tick(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		timer.Reset(a.nextDelay())
	}
}

// tick advances the state machine as far as it can go without waiting.
func (a *Agent) tick(ctx context.Context) (bool, error) {
	for {
		again, err := a.step(ctx)
		if err != nil {
			return false, err
		}
		if a.finalized {
			return true, nil
		}
		if !again || ctx.Err() != nil {
			return false, nil
		}
	}
}

// step runs the current state's handler once. It reports whether the
// machine can make further progress within the same tick. A returned error
// is always fatal; recoverable failures become Degraded transitions.
func (a *Agent) step(ctx context.Context) (bool, error) {
	switch a.record.State {
	case state.Steady:
		return a.stepSteady(ctx)
	case state.CheckingForUpdates:
		return a.stepChecking(ctx)
	case state.StagingUpdate:
		return a.stepStaging(ctx)
	case state.UpdateStaged:
		return true, a.transition(state.AwaitingFinalization)
	case state.AwaitingFinalization:
		return a.stepAwaiting(ctx)
	case state.Finalizing:
		return a.stepFinalizing(ctx)
	case state.Degraded:
		return a.stepDegraded()
	default:
		return false, errors.WithMessagef(ErrFatal, "unknown state %q", a.record.State)
	}
}

func (a *Agent) stepSteady(ctx context.Context) (bool, error) {
	if a.steadyPending {
		if err := a.strategy.ReportSteady(ctx); err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			return false, a.degrade("unable to report steady state", state.Steady, err)
		}
		a.steadyPending = false
		delete(a.attempts, state.Steady)
		a.log.Info("steady state reported")
	}
	return true, a.transition(state.CheckingForUpdates)
}

func (a *Agent) stepChecking(ctx context.Context) (bool, error) {
	if a.bootedVersion == "" {
		reply, err := a.platformCall(ctx, platformRequest{op: opStatus})
		if err != nil {
			return false, nil
		}
		if reply.err != nil {
			return a.platformFailure(reply.err, "unable to query deployment status", state.CheckingForUpdates)
		}
		a.bootedVersion = reply.status.BootedVersion
	}

	reply, err := a.resolve(ctx, a.bootedVersion)
	if err != nil {
		return false, nil
	}
	if reply.err != nil {
		a.metrics.GraphFetchFailures.Inc()
		return false, a.degrade("unable to resolve an update candidate", state.CheckingForUpdates, reply.err)
	}
	delete(a.attempts, state.CheckingForUpdates)
	a.metrics.Resolutions.WithLabelValues(string(reply.outcome)).Inc()

	if reply.candidate == nil || reply.candidate.Version() == a.bootedVersion {
		return false, a.transition(state.Steady)
	}
	a.log.WithField("version", reply.candidate.Version()).Info("update candidate selected")
	return true, a.adopt(state.StagingUpdate, reply.candidate)
}

func (a *Agent) stepStaging(ctx context.Context) (bool, error) {
	reply, err := a.platformCall(ctx, platformRequest{op: opStage, target: *a.record.Candidate})
	if err != nil {
		return false, nil
	}
	if reply.err != nil {
		return a.platformFailure(reply.err, "unable to stage update", state.CheckingForUpdates)
	}
	a.log.WithField("version", a.record.Candidate.Version()).Info("update staged")
	return true, a.transition(state.UpdateStaged)
}

func (a *Agent) stepAwaiting(ctx context.Context) (bool, error) {
	if !a.strategyRetryAt.IsZero() && a.clock.Now().Before(a.strategyRetryAt) {
		return false, nil
	}

	decision := a.strategy.Check(ctx)
	if ctx.Err() != nil {
		return false, nil
	}
	if decision.Permit {
		a.metrics.FinalizationChecks.WithLabelValues("permit").Inc()
		a.strategyRetryAt = time.Time{}
		a.log.WithField("strategy", a.strategy.Name()).Info("finalization permitted")
		return true, a.transition(state.Finalizing)
	}

	a.metrics.FinalizationChecks.WithLabelValues("wait").Inc()
	a.strategyRetryAt = decision.RetryAt
	// Re-commit so any lock-slot movement from the check is persisted.
	record := a.record
	return false, a.commit(&record)
}

func (a *Agent) stepFinalizing(ctx context.Context) (bool, error) {
	target := a.record.Candidate.Version()

	// The daemon is authoritative: re-read its view before acting, so a
	// restart mid-finalization never queues the same update twice.
	reply, err := a.platformCall(ctx, platformRequest{op: opStatus})
	if err != nil {
		return false, nil
	}
	if reply.err != nil {
		return a.platformFailure(reply.err, "unable to query deployment status", state.Finalizing)
	}

	switch {
	case reply.status.BootedVersion == target:
		// Already booted into the target: the update completed.
		a.bootedVersion = target
		a.steadyPending = true
		delete(a.attempts, state.Finalizing)
		a.log.WithField("version", target).Info("booted into finalized update")
		return true, a.transition(state.Steady)
	case reply.status.RebootQueued && reply.status.StagedVersion == target:
		// Handed off on a previous pass; the reboot just has not happened
		// yet.
		return false, nil
	}

	reply, err = a.platformCall(ctx, platformRequest{op: opFinalize, target: *a.record.Candidate})
	if err != nil {
		return false, nil
	}
	if reply.err != nil {
		return a.platformFailure(reply.err, "unable to finalize update", state.Finalizing)
	}
	delete(a.attempts, state.Finalizing)

	a.log.WithField("version", target).Info("finalization queued, awaiting reboot")
	a.finalized = true
	return false, nil
}

func (a *Agent) stepDegraded() (bool, error) {
	deg := a.record.Degradation
	if deg.Halted {
		return false, nil
	}
	if a.clock.Now().Before(deg.RetryAt) {
		return false, nil
	}

	a.log.WithField("target", deg.Target).Info("retrying after degradation")
	record := &state.Record{State: deg.Target}
	switch deg.Target {
	case state.StagingUpdate, state.UpdateStaged, state.AwaitingFinalization, state.Finalizing:
		record.Candidate = a.record.Candidate
	}
	return true, a.commit(record)
}

// platformFailure routes a daemon error to the right recovery path: fatal
// errors halt, conflicts invalidate the candidate and force a fresh
// resolution, everything else degrades toward retryTarget.
func (a *Agent) platformFailure(cause error, reason string, retryTarget state.Kind) (bool, error) {
	switch {
	case platform.IsFatal(cause):
		a.metrics.PlatformFailures.WithLabelValues("fatal").Inc()
		return false, a.halt(reason, cause)
	case platform.IsConflict(cause):
		a.metrics.PlatformFailures.WithLabelValues("conflict").Inc()
		a.log.WithError(cause).Warn("candidate no longer valid, discarding")
		return false, a.transition(state.CheckingForUpdates)
	case platform.IsBusy(cause):
		a.metrics.PlatformFailures.WithLabelValues("busy").Inc()
		return false, a.degrade(reason, retryTarget, cause)
	default:
		a.metrics.PlatformFailures.WithLabelValues("transient").Inc()
		return false, a.degrade(reason, retryTarget, cause)
	}
}

// nextDelay picks the sleep until the next tick: the poll interval, pulled
// in by any pending degradation or strategy retry deadline.
func (a *Agent) nextDelay() time.Duration {
	delay := a.pollInterval

	var wake time.Time
	if a.record.State == state.Degraded && !a.record.Degradation.Halted {
		wake = a.record.Degradation.RetryAt
	}
	if a.record.State == state.AwaitingFinalization && !a.strategyRetryAt.IsZero() {
		wake = a.strategyRetryAt
	}
	if !wake.IsZero() {
		if until := wake.Sub(a.clock.Now()); until < delay {
			delay = until
		}
	}

	// Guards against a hot loop once a deadline has elapsed. A sub-second
	// deadline is overshot by up to the floor, which is noise against the
	// configured backoff bounds.
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}

func (a *Agent) resolve(ctx context.Context, currentVersion string) (resolveReply, error) {
	req := resolveRequest{currentVersion: currentVersion, reply: make(chan resolveReply, 1)}
	select {
	case a.graphbox <- req:
	case <-ctx.Done():
		return resolveReply{}, ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return resolveReply{}, ctx.Err()
	}
}

func (a *Agent) platformCall(ctx context.Context, req platformRequest) (platformReply, error) {
	req.reply = make(chan platformReply, 1)
	select {
	case a.platbox <- req:
	case <-ctx.Done():
		return platformReply{}, ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply, nil
	case <-ctx.Done():
		return platformReply{}, ctx.Err()
	}
}
