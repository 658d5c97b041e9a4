package service

import (
	"context"
	"time"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/pkg/logger"
)

// BookingSagaCoordinator drives the booking -> payment -> seat-commit saga.
//
// Handling contract: business-validation failures are terminal for the
// message. The coordinator emits the compensating "-failed" event and
// returns nil so the transport acks. Infrastructure failures are returned as
// errors and left to the transport's redelivery. Handlers must tolerate
// duplicates and reordering; idempotency lives in the seat manager's
// check-then-act, not in message ordering.
type BookingSagaCoordinator struct {
	repo      domain.RideRepository
	seats     *SeatAllocationService
	status    *RideStatusService
	publisher EventPublisher
	log       logger.Logger
	offset    time.Duration
	now       func() time.Time
}

func NewBookingSagaCoordinator(
	repo domain.RideRepository,
	seats *SeatAllocationService,
	status *RideStatusService,
	publisher EventPublisher,
	log logger.Logger,
	offset time.Duration,
) *BookingSagaCoordinator {
	return &BookingSagaCoordinator{
		repo:      repo,
		seats:     seats,
		status:    status,
		publisher: publisher,
		log:       log,
		offset:    offset,
		now:       time.Now,
	}
}

// HandleBookingCreated validates the booking optimistically and kicks off
// payment. No seat is reserved yet; the commit happens at payment
// confirmation.
func (c *BookingSagaCoordinator) HandleBookingCreated(ctx context.Context, msg domain.BookingCreated) error {
	log := c.log.WithFields(logger.LogFields{
		"booking_id": msg.BookingID,
		"ride_id":    msg.RideID,
		"user_id":    msg.UserID,
	})

	ride, err := c.repo.FindByID(ctx, msg.RideID)
	if err != nil {
		if domain.IsValidationError(err) {
			return c.failValidation(ctx, log, msg, err)
		}
		return err
	}

	if err := ride.CanAcceptPassenger(msg.UserID, CivilNow(c.now(), c.offset)); err != nil {
		return c.failValidation(ctx, log, msg, err)
	}

	if err := c.publisher.Publish(ctx, domain.StartPayment{
		BookingID: msg.BookingID,
		Price:     msg.Price,
		RideID:    msg.RideID,
		UserID:    msg.UserID,
		UserEmail: msg.UserEmail,
	}); err != nil {
		return err
	}

	log.Info("payment_started", "Booking validated, start-payment emitted")
	return nil
}

func (c *BookingSagaCoordinator) failValidation(ctx context.Context, log logger.Logger, msg domain.BookingCreated, cause error) error {
	log.WithFields(logger.LogFields{"reason": domain.ValidationReason(cause)}).
		Error("booking_validation_failed", cause)

	return c.publisher.Publish(ctx, domain.BookingValidationFailed{
		BookingID: msg.BookingID,
		RideID:    msg.RideID,
		UserID:    msg.UserID,
		Reason:    domain.ValidationReason(cause),
	})
}

// HandlePaymentSucceeded commits the seat. A validation failure here (ride
// filled up or closed during payment) compensates via passenger-add-failed.
func (c *BookingSagaCoordinator) HandlePaymentSucceeded(ctx context.Context, msg domain.PaymentSucceeded) error {
	log := c.log.WithFields(logger.LogFields{
		"booking_id": msg.BookingID,
		"ride_id":    msg.RideID,
		"user_id":    msg.UserID,
	})

	_, err := c.seats.CommitSeat(ctx, msg.RideID, msg.UserID, msg.UserEmail)
	if err != nil {
		if domain.IsValidationError(err) {
			log.WithFields(logger.LogFields{"reason": domain.ValidationReason(err)}).
				Error("passenger_add_failed", err)
			return c.publisher.Publish(ctx, domain.PassengerAddFailed{
				BookingID: msg.BookingID,
				RideID:    msg.RideID,
				UserID:    msg.UserID,
				Reason:    domain.ValidationReason(err),
			})
		}
		return err
	}

	if err := c.publisher.Publish(ctx, domain.PassengerAdded{
		BookingID: msg.BookingID,
		RideID:    msg.RideID,
		UserID:    msg.UserID,
	}); err != nil {
		return err
	}

	log.Info("passenger_added", "Seat committed after payment confirmation")
	return nil
}

// HandleBookingCanceled releases any committed seat. The release is
// idempotent: an absent passenger (payment never confirmed, or a redelivered
// cancellation) is a successful no-op.
func (c *BookingSagaCoordinator) HandleBookingCanceled(ctx context.Context, msg domain.BookingCanceled) error {
	log := c.log.WithFields(logger.LogFields{
		"booking_id": msg.BookingID,
		"ride_id":    msg.RideID,
		"user_id":    msg.UserID,
	})

	if err := c.seats.ReleaseSeat(ctx, msg.RideID, msg.UserID); err != nil {
		if domain.IsValidationError(err) {
			// The ride itself is gone; nothing left to compensate.
			log.Error("booking_cancel_noop", err)
			return nil
		}
		return err
	}

	log.Info("booking_canceled", "Seat released for canceled booking")
	return nil
}

// HandleRideStatusUpdate delegates to the state machine. The success event
// is emitted by the state machine itself.
func (c *BookingSagaCoordinator) HandleRideStatusUpdate(ctx context.Context, msg domain.RideStatusUpdate) error {
	_, err := c.status.Transition(ctx, msg.RideID, msg.Status)
	if err != nil {
		if domain.IsValidationError(err) {
			c.log.WithFields(logger.LogFields{
				"ride_id": msg.RideID,
				"status":  msg.Status.String(),
			}).Error("status_update_rejected", err)
			return nil
		}
		return err
	}
	return nil
}
