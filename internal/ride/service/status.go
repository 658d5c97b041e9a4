package service

import (
	"context"
	"fmt"
	"time"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/pkg/logger"
)

// Automatic sweep thresholds, relative to departure time in civil time.
const (
	sweepStartAfter    = 3 * time.Minute
	sweepGiveUpAfter   = 12 * time.Hour
	sweepCompleteAfter = 12 * time.Hour
)

// RideStatusService owns the ride status state machine: manual transitions
// and the recurring time-driven sweep.
type RideStatusService struct {
	repo      domain.RideRepository
	publisher EventPublisher
	sink      NotificationSink
	log       logger.Logger
	offset    time.Duration
	now       func() time.Time
}

func NewRideStatusService(
	repo domain.RideRepository,
	publisher EventPublisher,
	sink NotificationSink,
	log logger.Logger,
	offset time.Duration,
) *RideStatusService {
	return &RideStatusService{
		repo:      repo,
		publisher: publisher,
		sink:      sink,
		log:       log,
		offset:    offset,
		now:       time.Now,
	}
}

// Transition applies a manual status change. The transition table permits
// everything except leaving COMPLETED. On success it informs the
// notification sink and announces ride-status-changed; both are best-effort
// and never fail the transition.
func (s *RideStatusService) Transition(ctx context.Context, rideID int64, newStatus domain.RideStatus) (*domain.Ride, error) {
	if !newStatus.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, newStatus)
	}

	ride, err := s.repo.FindByID(ctx, rideID)
	if err != nil {
		return nil, err
	}

	if !ride.Status.CanTransitionTo(newStatus) {
		s.log.WithFields(logger.LogFields{
			"ride_id":     rideID,
			"from_status": ride.Status.String(),
			"to_status":   newStatus.String(),
		}).Error("invalid_transition", domain.ErrInvalidTransition)
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, ride.Status, newStatus)
	}

	updated, err := s.repo.UpdateStatus(ctx, rideID, newStatus)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logger.LogFields{
		"ride_id":     rideID,
		"from_status": ride.Status.String(),
		"to_status":   newStatus.String(),
	}).Info("ride_status_changed", "Ride status updated")

	s.notifyStatusChange(ctx, updated, newStatus)

	event := domain.RideStatusChanged{RideID: rideID, Status: newStatus}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// The transition is already durable; a bus outage must not undo it.
		s.log.WithFields(logger.LogFields{"ride_id": rideID}).Error("publish_status_changed_failed", err)
	}

	return updated, nil
}

func (s *RideStatusService) notifyStatusChange(ctx context.Context, ride *domain.Ride, newStatus domain.RideStatus) {
	to := ride.PassengerEmails()
	if len(to) == 0 {
		return
	}

	payload := map[string]interface{}{
		"rideId":        ride.ID,
		"status":        newStatus.String(),
		"departureTime": ride.DepartureTime.Format(time.RFC3339),
	}

	var err error
	if newStatus == domain.StatusCancelled {
		err = s.sink.NotifyCancelRide(ctx, to, "Your Ride Has Been Cancelled", payload)
	} else {
		err = s.sink.NotifyRideUpdate(ctx, to, "Your Ride Status Has Changed", payload)
	}
	if err != nil {
		s.log.WithFields(logger.LogFields{
			"ride_id":    ride.ID,
			"recipients": len(to),
		}).Error("status_notification_failed", err)
	}
}

// Sweep runs the three idempotent bulk rules in order. Each UPDATE re-checks
// the source status at write time, so a concurrently moved ride is never
// double-transitioned and a second pass with no changes is a no-op.
func (s *RideStatusService) Sweep(ctx context.Context) (int64, error) {
	civilNow := CivilNow(s.now(), s.offset)
	var total int64

	// Rule order matters: a PENDING ride more than 12 hours overdue is
	// started by the first rule and then completed by the third in the same
	// pass, each rule re-reading current state.
	rules := []struct {
		from, to domain.RideStatus
		overdue  time.Duration
	}{
		{domain.StatusPending, domain.StatusInProgress, sweepStartAfter},
		{domain.StatusPending, domain.StatusCancelled, sweepGiveUpAfter},
		{domain.StatusInProgress, domain.StatusCompleted, sweepCompleteAfter},
	}

	for _, rule := range rules {
		count, err := s.repo.SweepTransition(ctx, rule.from, rule.to, civilNow.Add(-rule.overdue))
		if err != nil {
			return total, fmt.Errorf("sweep %s -> %s: %w", rule.from, rule.to, err)
		}
		if count > 0 {
			s.log.WithFields(logger.LogFields{
				"from_status": rule.from.String(),
				"to_status":   rule.to.String(),
				"count":       count,
			}).Info("sweep_transitioned", "Rides moved by status sweep")
		}
		total += count
	}

	return total, nil
}
