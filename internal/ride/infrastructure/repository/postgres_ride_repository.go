package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giu-carpool/internal/ride/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRideRepository implements domain.RideRepository.
type PostgresRideRepository struct {
	db *pgxpool.Pool
	// civilNow supplies the wall-clock time departure_time values are
	// compared against; injected so the offset correction stays in one
	// place and tests control the clock.
	civilNow func() time.Time
}

func NewPostgresRideRepository(db *pgxpool.Pool, civilNow func() time.Time) *PostgresRideRepository {
	return &PostgresRideRepository{db: db, civilNow: civilNow}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const rideColumns = `id, area_id, driver_id, to_giu, girls_only, status, departure_time, seats_available, created_at, updated_at`

func scanRide(row pgx.Row) (*domain.Ride, error) {
	var ride domain.Ride
	err := row.Scan(
		&ride.ID, &ride.AreaID, &ride.DriverID, &ride.ToGIU, &ride.GirlsOnly,
		&ride.Status, &ride.DepartureTime, &ride.SeatsAvailable,
		&ride.CreatedAt, &ride.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ride: %w", err)
	}
	return &ride, nil
}

// Create persists the ride and its meeting-point pricing rows in one
// transaction.
func (r *PostgresRideRepository) Create(ctx context.Context, ride *domain.Ride) (*domain.Ride, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO rides (
			area_id, driver_id, to_giu, girls_only, status,
			departure_time, seats_available, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`,
		ride.AreaID,
		ride.DriverID,
		ride.ToGIU,
		ride.GirlsOnly,
		ride.Status,
		ride.DepartureTime,
		ride.SeatsAvailable,
	).Scan(&ride.ID, &ride.CreatedAt, &ride.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ride: %w", err)
	}

	for i := range ride.MeetingPoints {
		mp := &ride.MeetingPoints[i]
		mp.RideID = ride.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO ride_meeting_points (ride_id, meeting_point_id, price, order_index)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, mp.RideID, mp.MeetingPointID, mp.Price, mp.OrderIndex).Scan(&mp.ID)
		if err != nil {
			return nil, fmt.Errorf("insert ride meeting point: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ride, nil
}

// FindByID retrieves a ride with its passengers and meeting points.
func (r *PostgresRideRepository) FindByID(ctx context.Context, rideID int64) (*domain.Ride, error) {
	ride, err := scanRide(r.db.QueryRow(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = $1`, rideID))
	if err != nil {
		return nil, err
	}

	if ride.Passengers, err = loadPassengers(ctx, r.db, rideID); err != nil {
		return nil, err
	}
	if ride.MeetingPoints, err = loadMeetingPoints(ctx, r.db, rideID); err != nil {
		return nil, err
	}
	return ride, nil
}

func loadPassengers(ctx context.Context, q querier, rideID int64) ([]domain.RidePassenger, error) {
	rows, err := q.Query(ctx, `
		SELECT id, ride_id, passenger_id, passenger_email, created_at
		FROM ride_passengers
		WHERE ride_id = $1
		ORDER BY created_at
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("query ride passengers: %w", err)
	}
	defer rows.Close()

	var passengers []domain.RidePassenger
	for rows.Next() {
		var p domain.RidePassenger
		if err := rows.Scan(&p.ID, &p.RideID, &p.PassengerID, &p.PassengerEmail, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ride passenger: %w", err)
		}
		passengers = append(passengers, p)
	}
	return passengers, rows.Err()
}

func loadMeetingPoints(ctx context.Context, q querier, rideID int64) ([]domain.RideMeetingPoint, error) {
	rows, err := q.Query(ctx, `
		SELECT id, ride_id, meeting_point_id, price, order_index
		FROM ride_meeting_points
		WHERE ride_id = $1
		ORDER BY order_index
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("query ride meeting points: %w", err)
	}
	defer rows.Close()

	var points []domain.RideMeetingPoint
	for rows.Next() {
		var mp domain.RideMeetingPoint
		if err := rows.Scan(&mp.ID, &mp.RideID, &mp.MeetingPointID, &mp.Price, &mp.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan ride meeting point: %w", err)
		}
		points = append(points, mp)
	}
	return points, rows.Err()
}

// CommitSeat inserts the passenger and decrements seats_available in one
// transaction. The FOR UPDATE lock on the ride row spans the acceptance
// checks and both writes, so two concurrent commits serialize and the second
// one re-reads the decremented seat count.
func (r *PostgresRideRepository) CommitSeat(ctx context.Context, rideID, passengerID int64, email string) (*domain.Ride, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ride, err := scanRide(tx.QueryRow(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, rideID))
	if err != nil {
		return nil, err
	}
	if ride.Passengers, err = loadPassengers(ctx, tx, rideID); err != nil {
		return nil, err
	}

	if err := ride.CanAcceptPassenger(passengerID, r.civilNow()); err != nil {
		return nil, err
	}

	var passenger domain.RidePassenger
	passenger.RideID = rideID
	passenger.PassengerID = passengerID
	passenger.PassengerEmail = email
	err = tx.QueryRow(ctx, `
		INSERT INTO ride_passengers (ride_id, passenger_id, passenger_email, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`, rideID, passengerID, email).Scan(&passenger.ID, &passenger.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ride passenger: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE rides
		SET seats_available = seats_available - 1, updated_at = NOW()
		WHERE id = $1
		RETURNING seats_available, updated_at
	`, rideID).Scan(&ride.SeatsAvailable, &ride.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("decrement seats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	ride.Passengers = append(ride.Passengers, passenger)
	return ride, nil
}

// ReleaseSeat deletes the passenger row and returns the seat. Absence of the
// passenger commits as a no-op.
func (r *PostgresRideRepository) ReleaseSeat(ctx context.Context, rideID, passengerID int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `SELECT id FROM rides WHERE id = $1 FOR UPDATE`, rideID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrRideNotFound
	}
	if err != nil {
		return fmt.Errorf("lock ride: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM ride_passengers WHERE ride_id = $1 AND passenger_id = $2
	`, rideID, passengerID)
	if err != nil {
		return fmt.Errorf("delete ride passenger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE rides SET seats_available = seats_available + 1, updated_at = NOW() WHERE id = $1
	`, rideID)
	if err != nil {
		return fmt.Errorf("increment seats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateStatus sets the status and bumps updated_at.
func (r *PostgresRideRepository) UpdateStatus(ctx context.Context, rideID int64, status domain.RideStatus) (*domain.Ride, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rides SET status = $2, updated_at = NOW() WHERE id = $1
	`, rideID, status)
	if err != nil {
		return nil, fmt.Errorf("update ride status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrRideNotFound
	}
	return r.FindByID(ctx, rideID)
}

// SweepTransition is a single conditional bulk update; the status guard in
// the WHERE clause makes repeated or concurrent sweeps idempotent.
func (r *PostgresRideRepository) SweepTransition(ctx context.Context, from, to domain.RideStatus, departedBefore time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rides
		SET status = $2, updated_at = NOW()
		WHERE status = $1 AND departure_time < $3
	`, from, to, departedBefore)
	if err != nil {
		return 0, fmt.Errorf("sweep %s to %s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}
