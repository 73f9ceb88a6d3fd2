package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"gotest.tools/assert"
)

// utcTime builds a known instant: 2026-08-24 is a Monday.
func utcTime(hour, min int) time.Time {
	return time.Date(2026, 8, 24, hour, min, 0, 0, time.UTC)
}

func mondayWindow() Window {
	return Window{
		Weekday: time.Monday,
		Start:   2 * time.Hour,
		Length:  time.Hour,
	}
}

func TestPeriodicInsideWindow(t *testing.T) {
	for _, at := range []time.Time{
		utcTime(2, 0),
		utcTime(2, 30),
		utcTime(2, 59),
	} {
		clk := testclock.NewClock(at)
		p, err := NewPeriodic(clk, mondayWindow())
		assert.NilError(t, err)

		decision := p.Check(context.Background())
		assert.Check(t, decision.Permit, "expected permit at %s", at)
	}
}

func TestPeriodicOutsideWindow(t *testing.T) {
	for _, at := range []time.Time{
		utcTime(1, 59),
		utcTime(3, 0),
		utcTime(23, 0),
		// Sunday, the day before.
		time.Date(2026, 8, 23, 2, 30, 0, 0, time.UTC),
	} {
		clk := testclock.NewClock(at)
		p, err := NewPeriodic(clk, mondayWindow())
		assert.NilError(t, err)

		decision := p.Check(context.Background())
		assert.Check(t, !decision.Permit, "expected wait at %s", at)
		assert.Check(t, decision.RetryAt.After(at), "retry %s not after %s", decision.RetryAt, at)
	}
}

func TestPeriodicRetryAtNextOpening(t *testing.T) {
	// One minute past the window's close: the next opening is six days and
	// 23 hours out.
	at := utcTime(3, 1)
	clk := testclock.NewClock(at)
	p, err := NewPeriodic(clk, mondayWindow())
	assert.NilError(t, err)

	decision := p.Check(context.Background())
	assert.Check(t, !decision.Permit)

	nextOpen := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, decision.RetryAt, nextOpen)
}

func TestPeriodicWindowAcrossMidnight(t *testing.T) {
	// Saturday 23:00 for four hours runs into Sunday 03:00, wrapping the
	// week boundary.
	window := Window{Weekday: time.Saturday, Start: 23 * time.Hour, Length: 4 * time.Hour}

	inside := time.Date(2026, 8, 23, 1, 0, 0, 0, time.UTC) // Sunday 01:00
	clk := testclock.NewClock(inside)
	p, err := NewPeriodic(clk, window)
	assert.NilError(t, err)
	assert.Check(t, p.Check(context.Background()).Permit)

	outside := time.Date(2026, 8, 23, 4, 0, 0, 0, time.UTC) // Sunday 04:00
	clk = testclock.NewClock(outside)
	p, err = NewPeriodic(clk, window)
	assert.NilError(t, err)
	decision := p.Check(context.Background())
	assert.Check(t, !decision.Permit)
	assert.Check(t, decision.RetryAt.After(outside))
}

func TestPeriodicValidation(t *testing.T) {
	clk := testclock.NewClock(utcTime(0, 0))

	_, err := NewPeriodic(clk, Window{Weekday: time.Monday, Start: 25 * time.Hour, Length: time.Hour})
	assert.Check(t, err != nil)

	_, err = NewPeriodic(clk, Window{Weekday: time.Monday, Start: time.Hour, Length: 0})
	assert.Check(t, err != nil)

	_, err = NewPeriodic(clk, Window{Weekday: time.Monday, Start: time.Hour, Length: 8 * 24 * time.Hour})
	assert.Check(t, err != nil)
}

func TestImmediateAlwaysPermits(t *testing.T) {
	s := &Immediate{}
	assert.Check(t, s.Check(context.Background()).Permit)
	assert.NilError(t, s.ReportSteady(context.Background()))
}

func TestNeverAlwaysWaits(t *testing.T) {
	now := utcTime(12, 0)
	s := &Never{clock: testclock.NewClock(now)}

	decision := s.Check(context.Background())
	assert.Check(t, !decision.Permit)
	assert.Check(t, decision.RetryAt.After(now))
}
