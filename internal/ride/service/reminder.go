package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/pkg/logger"
)

const (
	reminderLead  = 15 * time.Minute
	sweepInterval = 60 * time.Second

	// Delays past this are almost always an offset bug upstream; they are
	// logged but still scheduled.
	maxReasonableDelay = 7 * 24 * time.Hour
)

// ReminderPayload is the body of a ride-reminder job.
type ReminderPayload struct {
	RideID int64 `json:"rideId"`
}

// ReminderService schedules departure reminders and runs the reminder and
// sweep job handlers.
type ReminderService struct {
	repo   domain.RideRepository
	jobs   JobScheduler
	sink   NotificationSink
	status *RideStatusService
	log    logger.Logger
	offset time.Duration
	now    func() time.Time
}

func NewReminderService(
	repo domain.RideRepository,
	jobs JobScheduler,
	sink NotificationSink,
	status *RideStatusService,
	log logger.Logger,
	offset time.Duration,
) *ReminderService {
	return &ReminderService{
		repo:   repo,
		jobs:   jobs,
		sink:   sink,
		status: status,
		log:    log,
		offset: offset,
		now:    time.Now,
	}
}

// ScheduleReminder enqueues a one-shot reminder 15 minutes before departure.
// A fire time that is not strictly in the future schedules nothing; that is
// not an error. Returns whether a job was scheduled.
func (s *ReminderService) ScheduleReminder(ctx context.Context, rideID int64, departureTime time.Time) (bool, error) {
	log := s.log.WithFields(logger.LogFields{"ride_id": rideID})

	delay := SchedulerDelay(departureTime.Add(-reminderLead), s.now(), s.offset)
	if delay <= 0 {
		log.Info("reminder_skipped", "Reminder time is not in the future, nothing scheduled")
		return false, nil
	}
	if delay > maxReasonableDelay {
		log.WithFields(logger.LogFields{"delay": delay.String()}).
			Info("reminder_delay_anomalous", "Reminder delay exceeds 7 days, scheduling anyway")
	}

	jobID, err := s.jobs.Enqueue(ctx, JobKindRideReminder, ReminderPayload{RideID: rideID}, delay)
	if err != nil {
		log.Error("reminder_enqueue_failed", err)
		return false, err
	}

	log.WithFields(logger.LogFields{
		"job_id": jobID,
		"delay":  delay.String(),
	}).Info("reminder_scheduled", "Departure reminder scheduled")
	return true, nil
}

// RegisterSweep (re)registers the recurring status sweep. Safe to call on
// every startup; the sweep handler is idempotent by construction.
func (s *ReminderService) RegisterSweep(ctx context.Context) error {
	if err := s.jobs.EnqueueRecurring(ctx, JobKindStatusSweep, struct{}{}, sweepInterval); err != nil {
		return fmt.Errorf("register status sweep: %w", err)
	}
	s.log.Info("sweep_registered", "Recurring status sweep registered")
	return nil
}

// HandleReminder fires a scheduled reminder. A ride that is gone or no
// longer PENDING, and a ride with no recipient emails, are terminal no-ops;
// only a sink failure is returned for retry.
func (s *ReminderService) HandleReminder(ctx context.Context, payload []byte) error {
	var job ReminderPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("malformed reminder payload: %w", err)
	}
	log := s.log.WithFields(logger.LogFields{"ride_id": job.RideID})

	ride, err := s.repo.FindByID(ctx, job.RideID)
	if err != nil {
		if domain.IsValidationError(err) {
			log.Info("reminder_ride_gone", "Ride no longer exists, reminder dropped")
			return nil
		}
		return err
	}
	if ride.Status != domain.StatusPending {
		log.WithFields(logger.LogFields{"status": ride.Status.String()}).
			Info("reminder_ride_gone", "Ride no longer pending, reminder dropped")
		return nil
	}

	to := ride.PassengerEmails()
	if len(to) == 0 {
		log.Info("reminder_no_recipients", "No passenger emails, reminder dropped")
		return nil
	}

	payloadBody := map[string]interface{}{
		"rideId":        ride.ID,
		"toGIU":         ride.ToGIU,
		"departureTime": ride.DepartureTime.Format(time.RFC3339),
	}
	if err := s.sink.NotifyRideReminder(ctx, to, "Your Ride is Starting Soon", payloadBody); err != nil {
		log.Error("reminder_sink_failed", err)
		return fmt.Errorf("notification sink unavailable: %w", err)
	}

	log.WithFields(logger.LogFields{"recipients": len(to)}).
		Info("reminder_sent", "Departure reminder delivered to sink")
	return nil
}

// HandleSweep runs one pass of the status sweep.
func (s *ReminderService) HandleSweep(ctx context.Context, _ []byte) error {
	_, err := s.status.Sweep(ctx)
	return err
}
