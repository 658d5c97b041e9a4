package service

import (
	"context"
	"time"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/pkg/logger"
)

// Rides may be published at most this far ahead of departure.
const maxDepartureLead = 48 * time.Hour

// MeetingPointPrice is one entry of the driver's pricing list; the order of
// the list fixes the pickup order.
type MeetingPointPrice struct {
	MeetingPointID int64
	Price          float64
}

// CreateRideCommand represents the input for publishing a ride.
type CreateRideCommand struct {
	AreaID        int64
	DriverID      int64
	ToGIU         bool
	GirlsOnly     bool
	DepartureTime time.Time
	Pricing       []MeetingPointPrice
}

// CreateRideService handles the workflow for publishing a new ride.
type CreateRideService struct {
	repo      domain.RideRepository
	reminders *ReminderService
	log       logger.Logger
	offset    time.Duration
	now       func() time.Time
}

func NewCreateRideService(
	repo domain.RideRepository,
	reminders *ReminderService,
	log logger.Logger,
	offset time.Duration,
) *CreateRideService {
	return &CreateRideService{
		repo:      repo,
		reminders: reminders,
		log:       log,
		offset:    offset,
		now:       time.Now,
	}
}

// Execute validates the departure window, persists the ride with its pricing
// rows, and schedules the departure reminder. The reminder is best-effort:
// a scheduling failure is logged but does not undo the ride.
func (s *CreateRideService) Execute(ctx context.Context, cmd CreateRideCommand) (*domain.Ride, error) {
	civilNow := CivilNow(s.now(), s.offset)
	if cmd.DepartureTime.Before(civilNow) {
		return nil, domain.ErrDepartureInPast
	}
	if cmd.DepartureTime.After(civilNow.Add(maxDepartureLead)) {
		return nil, domain.ErrDepartureTooFar
	}

	ride := &domain.Ride{
		AreaID:         cmd.AreaID,
		DriverID:       cmd.DriverID,
		ToGIU:          cmd.ToGIU,
		GirlsOnly:      cmd.GirlsOnly,
		Status:         domain.StatusPending,
		DepartureTime:  cmd.DepartureTime,
		SeatsAvailable: domain.RideCapacity,
	}
	for i, p := range cmd.Pricing {
		ride.MeetingPoints = append(ride.MeetingPoints, domain.RideMeetingPoint{
			MeetingPointID: p.MeetingPointID,
			Price:          p.Price,
			OrderIndex:     i,
		})
	}

	created, err := s.repo.Create(ctx, ride)
	if err != nil {
		s.log.Error("create_ride_failed", err)
		return nil, err
	}

	s.log.WithFields(logger.LogFields{
		"ride_id":   created.ID,
		"driver_id": created.DriverID,
	}).Info("ride_created", "Ride published")

	if _, err := s.reminders.ScheduleReminder(ctx, created.ID, created.DepartureTime); err != nil {
		s.log.WithFields(logger.LogFields{"ride_id": created.ID}).
			Error("schedule_reminder_failed", err)
	}

	return created, nil
}
