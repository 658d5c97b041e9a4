package domain

import "errors"

// Validation errors. Saga steps route these to a compensating "-failed"
// topic; synchronous callers receive them directly.
var (
	ErrRideNotFound               = errors.New("ride not found")
	ErrRideNotAcceptingPassengers = errors.New("ride is not accepting passengers")
	ErrNoSeatsAvailable           = errors.New("no seats available")
	ErrDuplicatePassenger         = errors.New("passenger already booked on this ride")
	ErrInvalidTransition          = errors.New("invalid ride status transition")
	ErrInvalidStatus              = errors.New("invalid ride status")
	ErrDepartureInPast            = errors.New("departure time cannot be in the past")
	ErrDepartureTooFar            = errors.New("departure time cannot be more than 48 hours from now")
)

// IsValidationError reports whether err is a business-validation failure,
// terminal for the message that caused it. Anything else is treated as an
// infrastructure failure and left to the transport's redelivery.
func IsValidationError(err error) bool {
	for _, v := range []error{
		ErrRideNotFound,
		ErrRideNotAcceptingPassengers,
		ErrNoSeatsAvailable,
		ErrDuplicatePassenger,
		ErrInvalidTransition,
		ErrInvalidStatus,
		ErrDepartureInPast,
		ErrDepartureTooFar,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// ValidationReason maps a validation error to the stable reason code carried
// on booking-validation-failed and passenger-add-failed payloads.
func ValidationReason(err error) string {
	switch {
	case errors.Is(err, ErrRideNotFound):
		return "RIDE_NOT_FOUND"
	case errors.Is(err, ErrRideNotAcceptingPassengers):
		return "RIDE_NOT_ACCEPTING_PASSENGERS"
	case errors.Is(err, ErrNoSeatsAvailable):
		return "NO_SEATS_AVAILABLE"
	case errors.Is(err, ErrDuplicatePassenger):
		return "DUPLICATE_PASSENGER"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrInvalidStatus):
		return "INVALID_STATUS"
	case errors.Is(err, ErrDepartureInPast):
		return "DEPARTURE_IN_PAST"
	case errors.Is(err, ErrDepartureTooFar):
		return "DEPARTURE_TOO_FAR"
	default:
		return "UNKNOWN"
	}
}
