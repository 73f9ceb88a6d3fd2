package agent

import (
	"context"
	"time"

	"github.com/shepherd-os/shepherd/pkg/graph"
	"github.com/shepherd-os/shepherd/pkg/logging"
	"github.com/shepherd-os/shepherd/pkg/platform"
)

// The agent's collaborators each run as an independent actor draining a
// private mailbox. All cross-actor communication is by immutable request
// values carrying a reply channel; no mutable state is shared. Each mailbox
// is drained run-to-completion per message, so a slow graph fetch or a
// seconds-long staging call never blocks the other actors.

// Resolver produces the next update candidate for a host. Satisfied by
// graph/client.Client.
type Resolver interface {
	Check(ctx context.Context, currentVersion string, allowBarriers bool) (*graph.Candidate, graph.Outcome, error)
}

type resolveRequest struct {
	currentVersion string
	reply          chan resolveReply
}

type resolveReply struct {
	candidate *graph.Candidate
	outcome   graph.Outcome
	err       error
}

// graphWorker serves resolution requests against the remote graph service.
type graphWorker struct {
	log           logging.Logger
	source        Resolver
	allowBarriers bool
	mailbox       chan resolveRequest
}

func (w *graphWorker) Run(ctx context.Context) error {
	w.log.Debug("starting")
	defer w.log.Debug("finished")

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.mailbox:
			candidate, outcome, err := w.source.Check(ctx, req.currentVersion, w.allowBarriers)
			req.reply <- resolveReply{candidate: candidate, outcome: outcome, err: err}
		}
	}
}

type platformOp string

const (
	opStatus   platformOp = "status"
	opStage    platformOp = "stage"
	opFinalize platformOp = "finalize"
)

type platformRequest struct {
	op     platformOp
	target graph.Candidate
	reply  chan platformReply
}

type platformReply struct {
	status platform.DeploymentStatus
	err    error
}

// callGrace bounds a single daemon call. Generous enough for a slow staging
// download; a call still running at the deadline fails as transient.
const callGrace = 5 * time.Minute

// platformWorker serves daemon calls. The agent's state machine issues at
// most one request at a time and blocks on the reply, which is what
// enforces the single-flight invariant on stage/finalize.
type platformWorker struct {
	log      logging.Logger
	platform platform.Platform
	mailbox  chan platformRequest
}

func (w *platformWorker) Run(ctx context.Context) error {
	w.log.Debug("starting")
	defer w.log.Debug("finished")

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.mailbox:
			req.reply <- w.serve(ctx, req)
		}
	}
}

// serve runs one daemon call. An aborted stage or finalize could leave the
// daemon's transaction half-applied, so calls are detached from the
// shutdown cancellation and bounded by the grace timeout instead: a SIGTERM
// mid-staging lets the transaction settle before the worker exits.
func (w *platformWorker) serve(ctx context.Context, req platformRequest) platformReply {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callGrace)
	defer cancel()

	var reply platformReply
	switch req.op {
	case opStatus:
		reply.status, reply.err = w.platform.Status(callCtx)
	case opStage:
		reply.err = w.platform.Stage(callCtx, req.target)
	case opFinalize:
		reply.err = w.platform.Finalize(callCtx, req.target)
	}
	return reply
}
