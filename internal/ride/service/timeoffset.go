package service

import "time"

// Departure times are written in the deployment's civil (local) time while
// the scheduler and the database run on a different clock. Every conversion
// between the two goes through the two functions below; no call site does
// its own offset arithmetic.

// CivilNow returns the current civil wall-clock time given the scheduler's
// clock and the configured offset.
func CivilNow(now time.Time, offset time.Duration) time.Time {
	return now.Add(offset)
}

// SchedulerDelay converts a civil-time deadline into a delay on the
// scheduler's clock. A non-positive result means the deadline has already
// passed.
func SchedulerDelay(deadline, now time.Time, offset time.Duration) time.Duration {
	return deadline.Sub(now) - offset
}
