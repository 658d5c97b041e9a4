package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"giu-carpool/internal/ride/domain"
)

func TestScheduleReminderComputesSchedulerDelay(t *testing.T) {
	repo := newFakeRideRepo()
	_, _, jobs, _, _, reminders, _ := newTestServices(repo)
	departure := testCivilNow.Add(2 * time.Hour)

	scheduled, err := reminders.ScheduleReminder(context.Background(), 7, departure)
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if !scheduled {
		t.Fatal("expected a job to be scheduled")
	}

	if len(jobs.jobs) != 1 {
		t.Fatalf("scheduled jobs = %d, want 1", len(jobs.jobs))
	}
	job := jobs.jobs[0]
	if job.kind != JobKindRideReminder {
		t.Errorf("kind = %q, want %q", job.kind, JobKindRideReminder)
	}
	// Departure in 2h civil time, minus the 15m lead and the 3h clock offset.
	want := 2*time.Hour - reminderLead
	if job.delay != want {
		t.Errorf("delay = %v, want %v", job.delay, want)
	}
	payload, ok := job.payload.(ReminderPayload)
	if !ok || payload.RideID != 7 {
		t.Errorf("payload = %+v, want ReminderPayload{RideID: 7}", job.payload)
	}
}

func TestScheduleReminderPastFireTimeSchedulesNothing(t *testing.T) {
	repo := newFakeRideRepo()
	_, _, jobs, _, _, reminders, _ := newTestServices(repo)

	// 10 minutes to departure puts the fire time 5 minutes in the past.
	scheduled, err := reminders.ScheduleReminder(context.Background(), 7, testCivilNow.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if scheduled {
		t.Error("expected nothing scheduled for a past fire time")
	}
	if len(jobs.jobs) != 0 {
		t.Errorf("scheduled jobs = %d, want 0", len(jobs.jobs))
	}
}

func TestScheduleReminderAnomalousDelayStillSchedules(t *testing.T) {
	repo := newFakeRideRepo()
	_, _, jobs, _, _, reminders, _ := newTestServices(repo)

	scheduled, err := reminders.ScheduleReminder(context.Background(), 7, testCivilNow.Add(8*24*time.Hour))
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if !scheduled || len(jobs.jobs) != 1 {
		t.Fatalf("anomalous delay must still schedule, got scheduled=%v jobs=%d", scheduled, len(jobs.jobs))
	}
}

func TestScheduleReminderEnqueueFailure(t *testing.T) {
	repo := newFakeRideRepo()
	_, _, jobs, _, _, reminders, _ := newTestServices(repo)
	jobs.err = errors.New("queue unavailable")

	scheduled, err := reminders.ScheduleReminder(context.Background(), 7, testCivilNow.Add(2*time.Hour))
	if err == nil {
		t.Fatal("expected enqueue error to propagate")
	}
	if scheduled {
		t.Error("scheduled should be false on failure")
	}
}

func TestRegisterSweepIsIdempotent(t *testing.T) {
	repo := newFakeRideRepo()
	_, _, jobs, _, _, reminders, _ := newTestServices(repo)

	if err := reminders.RegisterSweep(context.Background()); err != nil {
		t.Fatalf("first RegisterSweep: %v", err)
	}
	if err := reminders.RegisterSweep(context.Background()); err != nil {
		t.Fatalf("second RegisterSweep: %v", err)
	}

	var sweeps int
	for _, j := range jobs.jobs {
		if j.kind == JobKindStatusSweep {
			sweeps++
			if j.interval != sweepInterval {
				t.Errorf("interval = %v, want %v", j.interval, sweepInterval)
			}
		}
	}
	if sweeps != 1 {
		t.Errorf("sweep registrations = %d, want 1", sweeps)
	}
}

func reminderBody(t *testing.T, rideID int64) []byte {
	t.Helper()
	body, err := json.Marshal(ReminderPayload{RideID: rideID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return body
}

func TestHandleReminderDeliversToSink(t *testing.T) {
	repo := newFakeRideRepo()
	_, sink, _, _, _, reminders, _ := newTestServices(repo)
	ride := pendingRide(repo, 2, time.Hour,
		domain.RidePassenger{PassengerID: 9, PassengerEmail: "nine@example.com"},
		domain.RidePassenger{PassengerID: 10, PassengerEmail: "ten@example.com"},
	)

	if err := reminders.HandleReminder(context.Background(), reminderBody(t, ride.ID)); err != nil {
		t.Fatalf("HandleReminder: %v", err)
	}

	if len(sink.calls) != 1 {
		t.Fatalf("sink calls = %d, want 1", len(sink.calls))
	}
	call := sink.calls[0]
	if call.method != "reminder" {
		t.Errorf("method = %q, want reminder", call.method)
	}
	if len(call.to) != 2 {
		t.Errorf("recipients = %v, want both passengers", call.to)
	}
	if call.payload["rideId"] != ride.ID {
		t.Errorf("payload rideId = %v, want %d", call.payload["rideId"], ride.ID)
	}
}

func TestHandleReminderMissingRideIsTerminal(t *testing.T) {
	repo := newFakeRideRepo()
	_, sink, _, _, _, reminders, _ := newTestServices(repo)

	if err := reminders.HandleReminder(context.Background(), reminderBody(t, 999)); err != nil {
		t.Fatalf("missing ride must not be retried, got %v", err)
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink calls = %d, want 0", len(sink.calls))
	}
}

func TestHandleReminderNonPendingRideIsTerminal(t *testing.T) {
	repo := newFakeRideRepo()
	_, sink, _, _, _, reminders, _ := newTestServices(repo)
	ride := repo.add(&domain.Ride{
		Status:        domain.StatusCancelled,
		DepartureTime: testCivilNow.Add(time.Hour),
		Passengers:    []domain.RidePassenger{{PassengerID: 9, PassengerEmail: "nine@example.com"}},
	})

	if err := reminders.HandleReminder(context.Background(), reminderBody(t, ride.ID)); err != nil {
		t.Fatalf("cancelled ride must not be retried, got %v", err)
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink calls = %d, want 0", len(sink.calls))
	}
}

func TestHandleReminderNoRecipientsIsTerminal(t *testing.T) {
	repo := newFakeRideRepo()
	_, sink, _, _, _, reminders, _ := newTestServices(repo)
	ride := pendingRide(repo, 4, time.Hour)

	if err := reminders.HandleReminder(context.Background(), reminderBody(t, ride.ID)); err != nil {
		t.Fatalf("empty ride must not be retried, got %v", err)
	}
	if len(sink.calls) != 0 {
		t.Errorf("sink calls = %d, want 0", len(sink.calls))
	}
}

func TestHandleReminderSinkFailureIsRetryable(t *testing.T) {
	repo := newFakeRideRepo()
	_, sink, _, _, _, reminders, _ := newTestServices(repo)
	sink.err = errors.New("sink down")
	ride := pendingRide(repo, 3, time.Hour,
		domain.RidePassenger{PassengerID: 9, PassengerEmail: "nine@example.com"})

	if err := reminders.HandleReminder(context.Background(), reminderBody(t, ride.ID)); err == nil {
		t.Fatal("expected sink failure to propagate for retry")
	}
}

func TestHandleSweepRunsStatusSweep(t *testing.T) {
	repo := newFakeRideRepo()
	_, _, _, _, _, reminders, _ := newTestServices(repo)
	ride := pendingRide(repo, 4, -5*time.Minute)

	if err := reminders.HandleSweep(context.Background(), nil); err != nil {
		t.Fatalf("HandleSweep: %v", err)
	}
	if got := repo.get(ride.ID).Status; got != domain.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS after sweep", got)
	}
}
