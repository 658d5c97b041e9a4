package domain

import "time"

// RideCapacity is the fixed seat count of every carpool ride.
const RideCapacity = 4

// RideStatus represents the lifecycle state of a ride.
type RideStatus string

const (
	StatusPending    RideStatus = "PENDING"
	StatusInProgress RideStatus = "IN_PROGRESS"
	StatusCompleted  RideStatus = "COMPLETED"
	StatusCancelled  RideStatus = "CANCELLED"
)

// String returns string representation of status.
func (s RideStatus) String() string {
	return string(s)
}

// IsValid checks if status is valid.
func (s RideStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo is the central transition table. COMPLETED is terminal;
// every other move, including operator-driven backward ones, is permitted.
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == StatusCompleted {
		return next == StatusCompleted
	}
	return true
}

// Ride is the core entity. Seats and passenger membership are mutated only
// through RideRepository.CommitSeat/ReleaseSeat; status only through
// UpdateStatus/SweepTransition.
type Ride struct {
	ID             int64
	AreaID         int64
	DriverID       int64
	ToGIU          bool
	GirlsOnly      bool
	Status         RideStatus
	DepartureTime  time.Time
	SeatsAvailable int
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Passengers    []RidePassenger
	MeetingPoints []RideMeetingPoint
}

// RidePassenger is one committed seat. At most one row per
// (ride_id, passenger_id).
type RidePassenger struct {
	ID             int64
	RideID         int64
	PassengerID    int64
	PassengerEmail string
	CreatedAt      time.Time
}

// RideMeetingPoint carries the per-pickup-point price. Immutable after ride
// creation.
type RideMeetingPoint struct {
	ID             int64
	RideID         int64
	MeetingPointID int64
	Price          float64
	OrderIndex     int
}

// HasPassenger reports whether the user already holds a seat.
func (r *Ride) HasPassenger(passengerID int64) bool {
	for _, p := range r.Passengers {
		if p.PassengerID == passengerID {
			return true
		}
	}
	return false
}

// PassengerEmails collects the non-empty notification addresses of all
// current passengers.
func (r *Ride) PassengerEmails() []string {
	emails := make([]string, 0, len(r.Passengers))
	for _, p := range r.Passengers {
		if p.PassengerEmail != "" {
			emails = append(emails, p.PassengerEmail)
		}
	}
	return emails
}

// CanAcceptPassenger runs the booking-validation checks against the civil
// wall-clock time. It is used both by the saga's optimistic validation and,
// under the row lock, by the seat-commit transaction.
func (r *Ride) CanAcceptPassenger(passengerID int64, civilNow time.Time) error {
	if r.Status != StatusPending || !r.DepartureTime.After(civilNow) {
		return ErrRideNotAcceptingPassengers
	}
	if r.SeatsAvailable <= 0 {
		return ErrNoSeatsAvailable
	}
	if r.HasPassenger(passengerID) {
		return ErrDuplicatePassenger
	}
	return nil
}
