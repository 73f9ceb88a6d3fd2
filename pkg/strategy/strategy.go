package strategy

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/identity"
	"github.com/shepherd-os/shepherd/pkg/logging"
)

// Strategy names accepted in configuration.
const (
	NameImmediate = "immediate"
	NameNever     = "never"
	NamePeriodic  = "periodic"
	NameCluster   = "cluster"
)

// Decision is the evaluator's answer to "may the staged update be
// finalized now".
type Decision struct {
	// Permit green-lights finalization.
	Permit bool
	// RetryAt says when to ask again; meaningful only when !Permit.
	RetryAt time.Time
}

func permit() Decision {
	return Decision{Permit: true}
}

func wait(at time.Time) Decision {
	return Decision{RetryAt: at}
}

// Evaluator decides when a staged update may be finalized. Implementations
// never return Permit on ambiguous input; correctness favors under-claiming.
type Evaluator interface {
	Name() string
	// Check reports whether finalization may proceed right now. Transport
	// failures fold into a Wait decision, never a Permit.
	Check(ctx context.Context) Decision
	// ReportSteady tells any coordination service that the host is healthy
	// and holds no reboot slot. A no-op for uncoordinated strategies.
	ReportSteady(ctx context.Context) error
}

// SlotHolder is implemented by evaluators that mirror remote lock-service
// state, so the agent can persist and restore the slot snapshot.
type SlotHolder interface {
	Slot() LockSlot
	RestoreSlot(LockSlot)
}

// LockSlot is the local mirror of a remote reboot-slot lease. The remote
// service is authoritative; this snapshot is reconciled on every use.
type LockSlot struct {
	ClientID  string `json:"client_id"`
	Group     string `json:"group_id"`
	HoldsSlot bool   `json:"holds_slot"`
}

// Config selects and parameterizes a strategy. Immutable after startup.
type Config struct {
	// Name is one of the Name* constants; empty defaults to immediate.
	Name string
	// Periodic is the finalization window for the periodic strategy.
	Periodic Window
	// LockBaseURL is the lock-service base URL for the cluster strategy.
	LockBaseURL string
}

// New builds the configured evaluator.
func New(log logging.Logger, clk clock.Clock, cfg Config, id identity.Identity) (Evaluator, error) {
	switch cfg.Name {
	case NameImmediate, "":
		return &Immediate{}, nil
	case NameNever:
		return &Never{clock: clk}, nil
	case NamePeriodic:
		return NewPeriodic(clk, cfg.Periodic)
	case NameCluster:
		return NewClusterCoordinated(log, clk, cfg.LockBaseURL, id)
	default:
		return nil, errors.Errorf("unsupported finalization strategy %q", cfg.Name)
	}
}
