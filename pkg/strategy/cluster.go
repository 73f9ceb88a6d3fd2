package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/identity"
	"github.com/shepherd-os/shepherd/pkg/logging"
)

// Lock-service endpoints (v1).
const (
	preRebootPath   = "v1/pre-reboot"
	steadyStatePath = "v1/steady-state"
)

const (
	lockTimeout    = 30 * time.Second
	lockBackoffMin = 1 * time.Minute
	lockBackoffMax = 10 * time.Minute
)

// clientParams identifies this host to the lock service.
type clientParams struct {
	ID    string `json:"id"`
	Group string `json:"group"`
}

// lockRequest is the JSON body for both lock-service endpoints.
type lockRequest struct {
	ClientParams clientParams `json:"client_params"`
}

// ClusterCoordinated implements the client side of a distributed reboot
// semaphore. It only ever permits finalization after an explicit slot
// acquisition from the lock service; conflicts, timeouts and ambiguous
// failures all decide Wait.
type ClusterCoordinated struct {
	log         logging.Logger
	clock       clock.Clock
	http        *http.Client
	preReboot   string
	steadyState string
	params      lockRequest
	slot        LockSlot
	attempts    int
	backoff     func(time.Duration, int) time.Duration
}

// NewClusterCoordinated builds the lock client for the service rooted at
// baseURL.
func NewClusterCoordinated(log logging.Logger, clk clock.Clock, baseURL string, id identity.Identity) (*ClusterCoordinated, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse lock service URL")
	}
	preReboot, err := base.Parse(preRebootPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build pre-reboot endpoint")
	}
	steadyState, err := base.Parse(steadyStatePath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build steady-state endpoint")
	}

	params := lockRequest{ClientParams: clientParams{
		ID:    id.NodeUUID.String(),
		Group: id.Group,
	}}
	return &ClusterCoordinated{
		log:         log,
		clock:       clk,
		http:        &http.Client{Timeout: lockTimeout},
		preReboot:   preReboot.String(),
		steadyState: steadyState.String(),
		params:      params,
		slot: LockSlot{
			ClientID: params.ClientParams.ID,
			Group:    params.ClientParams.Group,
		},
		backoff: retry.ExpBackoff(lockBackoffMin, lockBackoffMax, 2.0, true),
	}, nil
}

func (s *ClusterCoordinated) Name() string { return NameCluster }

// Check attempts to acquire a reboot slot. The local slot mirror is
// reconciled on every call; the remote service is authoritative, so a
// previously held lease is never trusted without reconfirming.
func (s *ClusterCoordinated) Check(ctx context.Context) Decision {
	status, err := s.post(ctx, s.preReboot)
	switch {
	case err != nil:
		// Ambiguous failure: the slot may or may not have been granted
		// server-side. Under-claim and retry; the lease expires on its own.
		s.slot.HoldsSlot = false
		s.log.WithError(err).Warn("reboot-slot acquisition failed")
		return s.waitWithBackoff()
	case status == http.StatusOK:
		s.slot.HoldsSlot = true
		s.attempts = 0
		s.log.Info("reboot slot acquired")
		return permit()
	case status == http.StatusConflict:
		s.slot.HoldsSlot = false
		s.log.Debug("reboot slot unavailable")
		return s.waitWithBackoff()
	default:
		s.slot.HoldsSlot = false
		s.log.WithField("status", status).Warn("unexpected lock service response")
		return s.waitWithBackoff()
	}
}

// ReportSteady reports the host healthy after boot, releasing any reboot
// slot recorded for it. Callers retry until it succeeds.
func (s *ClusterCoordinated) ReportSteady(ctx context.Context) error {
	status, err := s.post(ctx, s.steadyState)
	if err != nil {
		return errors.WithMessage(err, "steady-state report failed")
	}
	if status != http.StatusOK {
		return errors.Errorf("steady-state report refused with status %d", status)
	}
	s.slot.HoldsSlot = false
	return nil
}

// Slot snapshots the local lease mirror for persistence.
func (s *ClusterCoordinated) Slot() LockSlot {
	return s.slot
}

// RestoreSlot reinstates a persisted lease mirror. It only seeds the local
// view; every Check still reconciles against the service.
func (s *ClusterCoordinated) RestoreSlot(slot LockSlot) {
	if slot.ClientID != s.slot.ClientID || slot.Group != s.slot.Group {
		s.log.Warn("persisted lock slot belongs to a different identity, discarding")
		return
	}
	s.slot = slot
}

func (s *ClusterCoordinated) waitWithBackoff() Decision {
	s.attempts++
	return wait(s.clock.Now().Add(s.backoff(0, s.attempts)))
}

func (s *ClusterCoordinated) post(ctx context.Context, endpoint string) (int, error) {
	body, err := json.Marshal(s.params)
	if err != nil {
		return 0, errors.Wrap(err, "unable to encode lock request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "unable to build lock request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "lock service unreachable")
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
