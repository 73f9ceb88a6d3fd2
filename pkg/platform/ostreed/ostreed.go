package ostreed

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/graph"
	"github.com/shepherd-os/shepherd/pkg/logging"
	"github.com/shepherd-os/shepherd/pkg/platform"
)

// D-Bus coordinates of the OS-update daemon on the system bus.
const (
	busName    = "io.ostreed1"
	objectPath = "/io/ostreed1"
	iface      = "io.ostreed1.Manager"
)

// Daemon-side error names mapped onto the platform taxonomy.
const (
	errNameBusy     = "io.ostreed1.Error.Busy"
	errNameConflict = "io.ostreed1.Error.Conflict"
	errNameFatal    = "io.ostreed1.Error.Fatal"
)

// Assert the daemon binding as a platform implementor.
var _ platform.Platform = (*Platform)(nil)

// caller is the D-Bus seam; dbus.BusObject satisfies it.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Platform drives the local OS-update daemon over the system bus.
type Platform struct {
	log logging.Logger
	obj caller
}

// New connects to the system bus and binds the update daemon's manager
// object.
func New(log logging.Logger) (*Platform, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to system bus")
	}
	return &Platform{
		log: log,
		obj: conn.Object(busName, dbus.ObjectPath(objectPath)),
	}, nil
}

// Status reports the daemon's view of local deployments.
func (p *Platform) Status(ctx context.Context) (platform.DeploymentStatus, error) {
	p.log.Debug("querying deployment status")

	call := p.obj.CallWithContext(ctx, iface+".GetStatus", 0)
	if call.Err != nil {
		return platform.DeploymentStatus{}, mapError(call.Err, "GetStatus")
	}

	var status platform.DeploymentStatus
	if err := call.Store(&status.BootedVersion, &status.StagedVersion, &status.RebootQueued); err != nil {
		return platform.DeploymentStatus{}, errors.Wrap(err, "malformed GetStatus reply")
	}
	return status, nil
}

// Stage asks the daemon to prepare the target deployment without activating
// it. Staging may take a long while; the caller's context bounds it.
func (p *Platform) Stage(ctx context.Context, target graph.Candidate) error {
	p.log.WithField("version", target.Version()).Debug("staging deployment")

	call := p.obj.CallWithContext(ctx, iface+".StageDeployment", 0, target.Version())
	if call.Err != nil {
		return mapError(call.Err, "StageDeployment")
	}
	return nil
}

// Finalize asks the daemon to activate the staged target, queueing the
// reboot into it. The daemon deduplicates repeated finalization of the same
// version.
func (p *Platform) Finalize(ctx context.Context, target graph.Candidate) error {
	p.log.WithField("version", target.Version()).Debug("finalizing deployment")

	call := p.obj.CallWithContext(ctx, iface+".FinalizeDeployment", 0, target.Version())
	if call.Err != nil {
		return mapError(call.Err, "FinalizeDeployment")
	}
	return nil
}

// mapError translates daemon bus errors into the platform taxonomy.
// Anything unrecognized (including transport failures while the daemon is
// unreachable) stays a plain error, which callers treat as transient.
func mapError(err error, method string) error {
	var busErr dbus.Error
	if errors.As(err, &busErr) {
		switch busErr.Name {
		case errNameBusy:
			return errors.WithMessagef(platform.ErrBusy, "%s: %v", method, err)
		case errNameConflict:
			return errors.WithMessagef(platform.ErrConflict, "%s: %v", method, err)
		case errNameFatal:
			return errors.WithMessagef(platform.ErrFatal, "%s: %v", method, err)
		}
	}
	return errors.Wrapf(err, "%s call failed", method)
}
