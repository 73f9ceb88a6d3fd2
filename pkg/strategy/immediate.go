package strategy

import (
	"context"
)

// Immediate finalizes updates as soon as they are staged.
type Immediate struct{}

func (s *Immediate) Name() string { return NameImmediate }

func (s *Immediate) Check(ctx context.Context) Decision {
	return permit()
}

func (s *Immediate) ReportSteady(ctx context.Context) error { return nil }
