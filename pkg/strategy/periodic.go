package strategy

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
)

const week = 7 * 24 * time.Hour

// Window is a recurring weekly finalization window, evaluated in UTC.
type Window struct {
	// Weekday the window opens on.
	Weekday time.Weekday
	// Start is the offset from that day's midnight.
	Start time.Duration
	// Length is how long the window stays open.
	Length time.Duration
}

// startOffset is the window's opening time as an offset into the week.
func (w Window) startOffset() time.Duration {
	return time.Duration(w.Weekday)*24*time.Hour + w.Start
}

// Periodic permits finalization only while the configured window is open.
type Periodic struct {
	clock  clock.Clock
	window Window
}

// NewPeriodic validates the window and builds the evaluator.
func NewPeriodic(clk clock.Clock, window Window) (*Periodic, error) {
	if window.Weekday < time.Sunday || window.Weekday > time.Saturday {
		return nil, errors.Errorf("invalid window weekday %d", window.Weekday)
	}
	if window.Start < 0 || window.Start >= 24*time.Hour {
		return nil, errors.Errorf("window start %s out of day range", window.Start)
	}
	if window.Length <= 0 || window.Length >= week {
		return nil, errors.Errorf("window length %s out of range", window.Length)
	}
	return &Periodic{clock: clk, window: window}, nil
}

func (s *Periodic) Name() string { return NamePeriodic }

// Check permits iff now falls inside the recurring window, otherwise waits
// until the next opening, which is strictly after now.
func (s *Periodic) Check(ctx context.Context) Decision {
	now := s.clock.Now().UTC()
	intoWeek := time.Duration(now.Weekday())*24*time.Hour +
		time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second

	sinceOpen := (intoWeek - s.window.startOffset() + week) % week
	if sinceOpen < s.window.Length {
		return permit()
	}
	return wait(now.Add(week - sinceOpen))
}

func (s *Periodic) ReportSteady(ctx context.Context) error { return nil }
