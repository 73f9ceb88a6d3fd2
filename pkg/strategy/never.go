package strategy

import (
	"context"
	"time"

	"github.com/juju/clock"
)

// neverRetry spaces out re-evaluations of a strategy that will not change
// its mind; the staged update stays pending until an operator intervenes.
const neverRetry = 24 * time.Hour

// Never permanently withholds finalization. Updates are still resolved and
// staged so an operator can finalize out of band.
type Never struct {
	clock clock.Clock
}

func (s *Never) Name() string { return NameNever }

func (s *Never) Check(ctx context.Context) Decision {
	return wait(s.clock.Now().Add(neverRetry))
}

func (s *Never) ReportSteady(ctx context.Context) error { return nil }
