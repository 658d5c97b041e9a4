package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"giu-carpool/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres-backed durable delayed/recurring job queue. Workers claim due
// jobs with FOR UPDATE SKIP LOCKED, so any number of workers (and process
// instances) can share the table without double-running a job.

const (
	statusDelayed = "delayed"
	statusDead    = "dead"

	defaultMaxAttempts = 3
	retryBaseDelay     = time.Second

	// claimLease is how far a claimed job's run_at is pushed forward before
	// its handler runs. A worker that dies mid-handler leaves the job to
	// become due again once the lease expires; handlers tolerate the
	// redelivery.
	claimLease = time.Minute
)

var ErrJobNotFound = errors.New("job not found")

// Handler processes one job. Returning an error requeues the job with
// exponential backoff until its attempts are exhausted; nil completes it.
type Handler func(ctx context.Context, payload []byte) error

// Job is the queue's view of one scheduled task.
type Job struct {
	ID          int64
	Kind        string
	Payload     []byte
	RunAt       time.Time
	IntervalMs  *int64
	Attempts    int
	MaxAttempts int
	Status      string
	LastError   string
}

type Queue struct {
	db           *pgxpool.Pool
	log          logger.Logger
	handlers     map[string]Handler
	workers      int
	pollInterval time.Duration
	now          func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

func NewQueue(db *pgxpool.Pool, log logger.Logger, workers int, pollInterval time.Duration) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		db:           db,
		log:          log,
		handlers:     make(map[string]Handler),
		workers:      workers,
		pollInterval: pollInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

// Handle registers the handler for a job kind. Must be called before Start.
func (q *Queue) Handle(kind string, h Handler) {
	q.handlers[kind] = h
}

// Start ensures the jobs table exists and launches the worker pool.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.log.WithFields(logger.LogFields{"workers": q.workers}).
		Info("jobqueue_started", "Job queue workers started")
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	close(q.done)
	q.wg.Wait()
	q.log.Info("jobqueue_stopped", "Job queue workers stopped")
}

func (q *Queue) ensureSchema(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id           bigserial PRIMARY KEY,
			kind         text NOT NULL,
			payload      jsonb NOT NULL DEFAULT '{}',
			run_at       timestamptz NOT NULL,
			interval_ms  bigint,
			attempts     int NOT NULL DEFAULT 0,
			max_attempts int NOT NULL DEFAULT 3,
			status       text NOT NULL DEFAULT 'delayed',
			last_error   text NOT NULL DEFAULT '',
			created_at   timestamptz NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS jobs_recurring_kind_idx
			ON jobs (kind) WHERE interval_ms IS NOT NULL;
		CREATE INDEX IF NOT EXISTS jobs_due_idx ON jobs (status, run_at);
	`)
	return err
}

// Enqueue schedules a one-shot job after the given delay.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload interface{}, delay time.Duration) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal job payload: %w", err)
	}

	var id int64
	err = q.db.QueryRow(ctx, `
		INSERT INTO jobs (kind, payload, run_at, max_attempts)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, kind, body, q.now().Add(delay), defaultMaxAttempts).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// EnqueueRecurring registers a singleton recurring job. The partial unique
// index on kind makes re-registration across restarts a no-op.
func (q *Queue) EnqueueRecurring(ctx context.Context, kind string, payload interface{}, interval time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	_, err = q.db.Exec(ctx, `
		INSERT INTO jobs (kind, payload, run_at, interval_ms, max_attempts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind) WHERE interval_ms IS NOT NULL DO NOTHING
	`, kind, body, q.now(), interval.Milliseconds(), defaultMaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue recurring job: %w", err)
	}
	return nil
}

// ListDelayed returns every job still waiting for its run time.
func (q *Queue) ListDelayed(ctx context.Context) ([]Job, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, kind, payload, run_at, interval_ms, attempts, max_attempts, status, last_error
		FROM jobs
		WHERE status = $1
		ORDER BY run_at
	`, statusDelayed)
	if err != nil {
		return nil, fmt.Errorf("list delayed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.Payload, &j.RunAt, &j.IntervalMs,
			&j.Attempts, &j.MaxAttempts, &j.Status, &j.LastError); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Promote makes a delayed job due immediately.
func (q *Queue) Promote(ctx context.Context, jobID int64) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE jobs SET run_at = $2 WHERE id = $1 AND status = $3
	`, jobID, q.now(), statusDelayed)
	if err != nil {
		return fmt.Errorf("promote job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain everything that is due before sleeping again.
			for {
				claimed, err := q.runOne(ctx)
				if err != nil {
					q.log.Error("jobqueue_claim_failed", err)
					break
				}
				if !claimed {
					break
				}
			}
		}
	}
}

// runOne claims and executes a single due job. The claim transaction only
// pushes run_at forward by the lease and commits, so no row lock or pooled
// connection is held while the handler (and any outbound HTTP call it makes)
// runs; SKIP LOCKED keeps other workers moving during the claim itself.
func (q *Queue) runOne(ctx context.Context) (bool, error) {
	job, claimed, err := q.claim(ctx)
	if err != nil || !claimed {
		return false, err
	}

	log := q.log.WithFields(logger.LogFields{"job_id": job.ID, "kind": job.Kind})

	handler, ok := q.handlers[job.Kind]
	if !ok {
		log.Error("jobqueue_no_handler", fmt.Errorf("no handler registered for kind %q", job.Kind))
		_, err := q.db.Exec(ctx, `UPDATE jobs SET status = $2, last_error = $3 WHERE id = $1`,
			job.ID, statusDead, "no handler registered")
		return true, err
	}

	if handlerErr := handler(ctx, job.Payload); handlerErr != nil {
		return true, q.recordFailure(ctx, job, handlerErr, log)
	}

	if job.IntervalMs != nil {
		// Recurring jobs reschedule by interval and never complete.
		next := q.now().Add(time.Duration(*job.IntervalMs) * time.Millisecond)
		if _, err := q.db.Exec(ctx, `
			UPDATE jobs SET run_at = $2, attempts = 0, last_error = '' WHERE id = $1
		`, job.ID, next); err != nil {
			return true, fmt.Errorf("reschedule recurring job: %w", err)
		}
	} else {
		if _, err := q.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); err != nil {
			return true, fmt.Errorf("complete job: %w", err)
		}
	}

	return true, nil
}

// claim locks one due job, pushes its run_at out by the lease, and commits.
func (q *Queue) claim(ctx context.Context) (*Job, bool, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var job Job
	err = tx.QueryRow(ctx, `
		SELECT id, kind, payload, attempts, max_attempts, interval_ms
		FROM jobs
		WHERE status = $1 AND run_at <= $2
		ORDER BY run_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, statusDelayed, q.now()).Scan(
		&job.ID, &job.Kind, &job.Payload, &job.Attempts, &job.MaxAttempts, &job.IntervalMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE jobs SET run_at = $2 WHERE id = $1`,
		job.ID, q.now().Add(claimLease)); err != nil {
		return nil, false, fmt.Errorf("lease job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}
	return &job, true, nil
}

func (q *Queue) recordFailure(ctx context.Context, job *Job, handlerErr error, log logger.Logger) error {
	job.Attempts++
	log.WithFields(logger.LogFields{"attempt": job.Attempts}).
		Error("jobqueue_job_failed", handlerErr)

	if job.IntervalMs == nil && job.Attempts >= job.MaxAttempts {
		// Attempts exhausted: the job is abandoned but kept for inspection.
		_, err := q.db.Exec(ctx, `
			UPDATE jobs SET status = $2, attempts = $3, last_error = $4 WHERE id = $1
		`, job.ID, statusDead, job.Attempts, handlerErr.Error())
		return err
	}

	_, err := q.db.Exec(ctx, `
		UPDATE jobs SET run_at = $2, attempts = $3, last_error = $4 WHERE id = $1
	`, job.ID, q.now().Add(backoffDelay(job.Attempts)), job.Attempts, handlerErr.Error())
	return err
}

// backoffDelay doubles from the base on every failed attempt: 1s, 2s, 4s.
func backoffDelay(attempts int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
