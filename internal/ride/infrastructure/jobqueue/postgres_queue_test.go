package jobqueue

import (
	"testing"
	"time"
)

func TestBackoffDelayDoubles(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempts); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestRetryDelaysStayWithinClaimLease(t *testing.T) {
	// recordFailure overwrites the leased run_at with the backoff delay; the
	// retry must come due sooner than the lease would have, or a failed job
	// waits on the lease instead of its backoff schedule.
	for attempts := 1; attempts <= defaultMaxAttempts; attempts++ {
		if d := backoffDelay(attempts); d >= claimLease {
			t.Errorf("backoffDelay(%d) = %v, want shorter than the %v claim lease", attempts, d, claimLease)
		}
	}
}

func TestNewQueueClampsWorkerCount(t *testing.T) {
	q := NewQueue(nil, nil, 0, time.Second)
	if q.workers != 1 {
		t.Errorf("workers = %d, want clamped to 1", q.workers)
	}
	q = NewQueue(nil, nil, 4, time.Second)
	if q.workers != 4 {
		t.Errorf("workers = %d, want 4", q.workers)
	}
}
