package platform

import (
	"context"

	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/graph"
)

// Platform is the facade over the host's transactional OS-update daemon.
// Calls are synchronous round-trips; callers own their own scheduling and
// must not assume any call returns quickly (staging in particular may take
// seconds).
type Platform interface {
	// Status reports the daemon's view of the current deployments.
	Status(ctx context.Context) (DeploymentStatus, error)
	// Stage prepares the candidate update transactionally on local storage
	// without activating it.
	Stage(ctx context.Context, target graph.Candidate) error
	// Finalize activates a previously staged candidate, typically queueing
	// a reboot into it. The daemon is the durability boundary for whether
	// an update is actually applied.
	Finalize(ctx context.Context, target graph.Candidate) error
}

// DeploymentStatus is the daemon's report of local deployments.
type DeploymentStatus struct {
	// BootedVersion is the version of the deployment currently running.
	BootedVersion string
	// StagedVersion is the version staged for the next boot, if any.
	StagedVersion string
	// RebootQueued reports whether a finalization has already been queued
	// with the daemon.
	RebootQueued bool
}

// OK reports whether the status describes a usable deployment.
func (s DeploymentStatus) OK() bool {
	return s.BootedVersion != ""
}

// Ping the platform to verify its liveliness and general usability based on
// its status. Platform consumers should utilize this method to consistently
// validate the platform before use.
func Ping(ctx context.Context, p Platform) error {
	status, err := p.Status(ctx)
	if err != nil {
		return errors.WithMessage(err, "could not retrieve platform status")
	}
	if !status.OK() {
		return errors.New("platform did not report a booted deployment")
	}
	return nil
}
