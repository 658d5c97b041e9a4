package service

import (
	"context"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/pkg/logger"
)

// SeatAllocationService is the sole mutator of seat capacity and passenger
// membership. It never publishes events; the saga coordinator notifies the
// bus after a successful call.
type SeatAllocationService struct {
	repo domain.RideRepository
	log  logger.Logger
}

func NewSeatAllocationService(repo domain.RideRepository, log logger.Logger) *SeatAllocationService {
	return &SeatAllocationService{repo: repo, log: log}
}

// CommitSeat books one seat for the passenger. The repository re-runs the
// acceptance checks under the ride row lock, so two concurrent commits can
// never both take the last seat.
func (s *SeatAllocationService) CommitSeat(ctx context.Context, rideID, passengerID int64, email string) (*domain.Ride, error) {
	ride, err := s.repo.CommitSeat(ctx, rideID, passengerID, email)
	if err != nil {
		s.log.WithFields(logger.LogFields{
			"ride_id":      rideID,
			"passenger_id": passengerID,
		}).Error("commit_seat_failed", err)
		return nil, err
	}

	s.log.WithFields(logger.LogFields{
		"ride_id":         rideID,
		"passenger_id":    passengerID,
		"seats_available": ride.SeatsAvailable,
	}).Info("seat_committed", "Passenger added and seat decremented")
	return ride, nil
}

// ReleaseSeat is the idempotent compensation: releasing an absent passenger
// succeeds without changing state.
func (s *SeatAllocationService) ReleaseSeat(ctx context.Context, rideID, passengerID int64) error {
	if err := s.repo.ReleaseSeat(ctx, rideID, passengerID); err != nil {
		s.log.WithFields(logger.LogFields{
			"ride_id":      rideID,
			"passenger_id": passengerID,
		}).Error("release_seat_failed", err)
		return err
	}

	s.log.WithFields(logger.LogFields{
		"ride_id":      rideID,
		"passenger_id": passengerID,
	}).Info("seat_released", "Passenger removed and seat returned")
	return nil
}
