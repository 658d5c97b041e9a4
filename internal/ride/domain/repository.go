package domain

import (
	"context"
	"time"
)

// RideRepository is the port for ride persistence.
// The implementation must give CommitSeat and ReleaseSeat single-writer
// semantics per ride (row lock or serializable isolation spanning the
// check and the write); everything else is safe under read committed.
type RideRepository interface {
	// Create persists a new ride together with its meeting-point pricing
	// rows and returns it with generated ids and timestamps.
	Create(ctx context.Context, ride *Ride) (*Ride, error)

	// FindByID retrieves a ride with its passengers and meeting points.
	// Returns ErrRideNotFound if the ride does not exist.
	FindByID(ctx context.Context, rideID int64) (*Ride, error)

	// CommitSeat atomically inserts a RidePassenger and decrements
	// seats_available, re-running the acceptance checks under the ride row
	// lock. Returns the refreshed ride, or ErrRideNotFound,
	// ErrRideNotAcceptingPassengers, ErrNoSeatsAvailable,
	// ErrDuplicatePassenger.
	CommitSeat(ctx context.Context, rideID, passengerID int64, email string) (*Ride, error)

	// ReleaseSeat atomically deletes the RidePassenger and increments
	// seats_available. A missing passenger is a no-op, not an error.
	// Returns ErrRideNotFound if the ride does not exist.
	ReleaseSeat(ctx context.Context, rideID, passengerID int64) error

	// UpdateStatus sets the status and bumps updated_at, returning the
	// refreshed ride. Returns ErrRideNotFound if the ride does not exist.
	UpdateStatus(ctx context.Context, rideID int64, status RideStatus) (*Ride, error)

	// SweepTransition moves every ride still in `from` whose departure_time
	// is before `departedBefore` into `to`, returning the affected count.
	// The status guard is part of the single UPDATE, so rides concurrently
	// moved by a manual transition are never double-transitioned.
	SweepTransition(ctx context.Context, from, to RideStatus, departedBefore time.Time) (int64, error)
}
