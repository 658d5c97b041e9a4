package service

import (
	"context"
	"sync"
	"time"

	"giu-carpool/internal/ride/domain"
	"giu-carpool/pkg/logger"
)

// Fixed clocks for the service tests. Departure times are written in civil
// time, the scheduler clock lags behind by testOffset.
var (
	testOffset    = 3 * time.Hour
	testSchedNow  = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	testCivilNow  = testSchedNow.Add(testOffset)
	fixedSchedNow = func() time.Time { return testSchedNow }
)

type nopLogger struct{}

func (nopLogger) WithFields(logger.LogFields) logger.Logger { return nopLogger{} }
func (nopLogger) Info(string, string)                       {}
func (nopLogger) Debug(string, string)                      {}
func (nopLogger) Error(string, error)                       {}

// fakeRideRepo is an in-memory RideRepository. The single mutex spanning the
// check and the write gives CommitSeat and ReleaseSeat the same
// single-writer-per-ride guarantee the Postgres row lock provides.
type fakeRideRepo struct {
	mu       sync.Mutex
	rides    map[int64]*domain.Ride
	nextID   int64
	civilNow func() time.Time

	createErr error
	findErr   error
	commitErr error
	updateErr error
	sweepErr  error
}

func newFakeRideRepo() *fakeRideRepo {
	return &fakeRideRepo{
		rides:    make(map[int64]*domain.Ride),
		civilNow: func() time.Time { return testCivilNow },
	}
}

// add seeds a ride directly, bypassing validation.
func (f *fakeRideRepo) add(ride *domain.Ride) *domain.Ride {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ride.ID == 0 {
		f.nextID++
		ride.ID = f.nextID
	} else if ride.ID > f.nextID {
		f.nextID = ride.ID
	}
	f.rides[ride.ID] = ride
	return copyRide(ride)
}

func (f *fakeRideRepo) get(rideID int64) *domain.Ride {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyRide(f.rides[rideID])
}

func (f *fakeRideRepo) Create(ctx context.Context, ride *domain.Ride) (*domain.Ride, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	stored := copyRide(ride)
	stored.ID = f.nextID
	stored.CreatedAt = f.civilNow()
	stored.UpdatedAt = stored.CreatedAt
	for i := range stored.MeetingPoints {
		stored.MeetingPoints[i].RideID = stored.ID
	}
	f.rides[stored.ID] = stored
	return copyRide(stored), nil
}

func (f *fakeRideRepo) FindByID(ctx context.Context, rideID int64) (*domain.Ride, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ride, ok := f.rides[rideID]
	if !ok {
		return nil, domain.ErrRideNotFound
	}
	return copyRide(ride), nil
}

func (f *fakeRideRepo) CommitSeat(ctx context.Context, rideID, passengerID int64, email string) (*domain.Ride, error) {
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ride, ok := f.rides[rideID]
	if !ok {
		return nil, domain.ErrRideNotFound
	}
	if err := ride.CanAcceptPassenger(passengerID, f.civilNow()); err != nil {
		return nil, err
	}
	ride.Passengers = append(ride.Passengers, domain.RidePassenger{
		ID:             int64(len(ride.Passengers) + 1),
		RideID:         rideID,
		PassengerID:    passengerID,
		PassengerEmail: email,
	})
	ride.SeatsAvailable--
	return copyRide(ride), nil
}

func (f *fakeRideRepo) ReleaseSeat(ctx context.Context, rideID, passengerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ride, ok := f.rides[rideID]
	if !ok {
		return domain.ErrRideNotFound
	}
	for i, p := range ride.Passengers {
		if p.PassengerID == passengerID {
			ride.Passengers = append(ride.Passengers[:i], ride.Passengers[i+1:]...)
			ride.SeatsAvailable++
			return nil
		}
	}
	return nil
}

func (f *fakeRideRepo) UpdateStatus(ctx context.Context, rideID int64, status domain.RideStatus) (*domain.Ride, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ride, ok := f.rides[rideID]
	if !ok {
		return nil, domain.ErrRideNotFound
	}
	ride.Status = status
	return copyRide(ride), nil
}

func (f *fakeRideRepo) SweepTransition(ctx context.Context, from, to domain.RideStatus, departedBefore time.Time) (int64, error) {
	if f.sweepErr != nil {
		return 0, f.sweepErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, ride := range f.rides {
		if ride.Status == from && ride.DepartureTime.Before(departedBefore) {
			ride.Status = to
			count++
		}
	}
	return count, nil
}

func copyRide(ride *domain.Ride) *domain.Ride {
	if ride == nil {
		return nil
	}
	out := *ride
	out.Passengers = append([]domain.RidePassenger(nil), ride.Passengers...)
	out.MeetingPoints = append([]domain.RideMeetingPoint(nil), ride.MeetingPoints...)
	return &out
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []domain.SagaMessage
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, msg domain.SagaMessage) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) ofTopic(topic domain.Topic) []domain.SagaMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SagaMessage
	for _, m := range f.msgs {
		if m.Topic() == topic {
			out = append(out, m)
		}
	}
	return out
}

type sinkCall struct {
	method  string
	to      []string
	subject string
	payload map[string]interface{}
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (f *fakeSink) record(method string, to []string, subject string, payload map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{method: method, to: to, subject: subject, payload: payload})
	return nil
}

func (f *fakeSink) NotifyRideReminder(ctx context.Context, to []string, subject string, payload map[string]interface{}) error {
	return f.record("reminder", to, subject, payload)
}

func (f *fakeSink) NotifyRideUpdate(ctx context.Context, to []string, subject string, payload map[string]interface{}) error {
	return f.record("update", to, subject, payload)
}

func (f *fakeSink) NotifyCancelRide(ctx context.Context, to []string, subject string, payload map[string]interface{}) error {
	return f.record("cancel", to, subject, payload)
}

type scheduledJob struct {
	kind     string
	payload  interface{}
	delay    time.Duration
	interval time.Duration
}

type fakeScheduler struct {
	mu     sync.Mutex
	jobs   []scheduledJob
	nextID int64
	err    error
}

func (f *fakeScheduler) Enqueue(ctx context.Context, kind string, payload interface{}, delay time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.jobs = append(f.jobs, scheduledJob{kind: kind, payload: payload, delay: delay})
	return f.nextID, nil
}

func (f *fakeScheduler) EnqueueRecurring(ctx context.Context, kind string, payload interface{}, interval time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.kind == kind && j.interval > 0 {
			return nil
		}
	}
	f.jobs = append(f.jobs, scheduledJob{kind: kind, payload: payload, interval: interval})
	return nil
}

// newTestServices wires the full service graph over the fakes.
func newTestServices(repo *fakeRideRepo) (*fakePublisher, *fakeSink, *fakeScheduler, *RideStatusService, *SeatAllocationService, *ReminderService, *BookingSagaCoordinator) {
	pub := &fakePublisher{}
	sink := &fakeSink{}
	jobs := &fakeScheduler{}

	status := NewRideStatusService(repo, pub, sink, nopLogger{}, testOffset)
	status.now = fixedSchedNow
	seats := NewSeatAllocationService(repo, nopLogger{})
	reminders := NewReminderService(repo, jobs, sink, status, nopLogger{}, testOffset)
	reminders.now = fixedSchedNow
	saga := NewBookingSagaCoordinator(repo, seats, status, pub, nopLogger{}, testOffset)
	saga.now = fixedSchedNow

	return pub, sink, jobs, status, seats, reminders, saga
}

// pendingRide seeds a PENDING ride departing at the given civil-time offset
// from the fixed test clock.
func pendingRide(repo *fakeRideRepo, seats int, untilDeparture time.Duration, passengers ...domain.RidePassenger) *domain.Ride {
	return repo.add(&domain.Ride{
		AreaID:         1,
		DriverID:       100,
		ToGIU:          true,
		Status:         domain.StatusPending,
		DepartureTime:  testCivilNow.Add(untilDeparture),
		SeatsAvailable: seats,
		Passengers:     passengers,
	})
}
