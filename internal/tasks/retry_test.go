package tasks

import (
	"sync/atomic"
	"testing"
	"time"

	"enrollassist-backend/internal/components/chrono"

	"github.com/stretchr/testify/require"
)

func runPolicy(policy RetryPolicy, clock chrono.Clock, cancel <-chan struct{}, fn func(n int) Attempt) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		out <- policy.Run(clock, cancel, fn)
	}()
	return out
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not finish")
	}
	return 0
}

func TestRetryPolicySucceeds(t *testing.T) {
	clock := chrono.NewFakeClock(time.Unix(0, 0))
	var calls atomic.Int64

	out := runPolicy(RetryPolicy{Interval: time.Second}, clock, nil, func(n int) Attempt {
		calls.Add(1)
		if n == 3 {
			return AttemptSucceeded
		}
		return AttemptRetry
	})

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	require.Equal(t, OutcomeSucceeded, waitOutcome(t, out))
	require.Equal(t, int64(3), calls.Load())
	require.Equal(t, time.Unix(2, 0), clock.Now())
}

func TestRetryPolicyMaxAttempts(t *testing.T) {
	clock := chrono.NewFakeClock(time.Unix(0, 0))
	var calls atomic.Int64

	out := runPolicy(RetryPolicy{Interval: time.Second, MaxAttempts: 3}, clock, nil, func(int) Attempt {
		calls.Add(1)
		return AttemptRetry
	})
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	require.Equal(t, OutcomeExhausted, waitOutcome(t, out))
	require.Equal(t, int64(3), calls.Load())
	// no sleep after the last attempt
	require.Equal(t, 0, clock.Waiters())
}

func TestRetryPolicyMaxDuration(t *testing.T) {
	clock := chrono.NewFakeClock(time.Unix(0, 0))
	var calls atomic.Int64

	out := runPolicy(RetryPolicy{Interval: time.Second, MaxDuration: 3 * time.Second}, clock, nil, func(int) Attempt {
		calls.Add(1)
		return AttemptRetry
	})
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	require.Equal(t, OutcomeExhausted, waitOutcome(t, out))
	require.Equal(t, int64(3), calls.Load())
}

func TestRetryPolicyCancelDuringSleep(t *testing.T) {
	clock := chrono.NewFakeClock(time.Unix(0, 0))
	cancel := make(chan struct{})
	var calls atomic.Int64

	out := runPolicy(RetryPolicy{Interval: time.Hour}, clock, cancel, func(int) Attempt {
		calls.Add(1)
		return AttemptRetry
	})
	clock.BlockUntil(1)
	close(cancel)

	require.Equal(t, OutcomeCancelled, waitOutcome(t, out))
	clock.Advance(2 * time.Hour)
	require.Equal(t, int64(1), calls.Load())
}

func TestRetryPolicyCancelledBeforeFirstAttempt(t *testing.T) {
	cancel := make(chan struct{})
	close(cancel)

	calls := 0
	outcome := RetryPolicy{}.Run(chrono.NewFakeClock(time.Unix(0, 0)), cancel, func(int) Attempt {
		calls++
		return AttemptSucceeded
	})
	require.Equal(t, OutcomeCancelled, outcome)
	require.Equal(t, 0, calls)
}

func TestRetryPolicyAbort(t *testing.T) {
	calls := 0
	outcome := RetryPolicy{MaxAttempts: 10}.Run(chrono.NewFakeClock(time.Unix(0, 0)), nil, func(n int) Attempt {
		calls++
		if n == 2 {
			return AttemptAbort
		}
		return AttemptRetry
	})
	require.Equal(t, OutcomeAborted, outcome)
	require.Equal(t, 2, calls)
	require.Equal(t, "aborted", outcome.String())
}
