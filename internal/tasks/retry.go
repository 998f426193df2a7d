package tasks

import (
	"time"

	"enrollassist-backend/internal/components/chrono"
)

// Attempt is what a single try tells the retry loop to do next.
type Attempt int

const (
	AttemptRetry Attempt = iota
	AttemptSucceeded
	AttemptAbort
)

// Outcome is how a retry loop ended.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeExhausted
	OutcomeCancelled
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeAborted:
		return "aborted"
	}
	return "unknown"
}

// RetryPolicy runs an attempt until it succeeds, aborts, runs out of attempts
// or time, or is cancelled. A zero MaxAttempts and MaxDuration retries forever.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	MaxDuration time.Duration
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Run calls attempt with 1, 2, ... Cancellation is checked before every
// attempt and before every sleep, and interrupts the sleep itself.
func (p RetryPolicy) Run(clock chrono.Clock, cancel <-chan struct{}, attempt func(n int) Attempt) Outcome {
	start := clock.Now()
	for n := 1; ; n++ {
		if isClosed(cancel) {
			return OutcomeCancelled
		}
		if n > 1 && p.MaxDuration > 0 && clock.Now().Sub(start) >= p.MaxDuration {
			return OutcomeExhausted
		}

		switch attempt(n) {
		case AttemptSucceeded:
			return OutcomeSucceeded
		case AttemptAbort:
			return OutcomeAborted
		}

		if p.MaxAttempts > 0 && n >= p.MaxAttempts {
			return OutcomeExhausted
		}
		if isClosed(cancel) {
			return OutcomeCancelled
		}
		if p.Interval > 0 {
			select {
			case <-cancel:
				return OutcomeCancelled
			case <-clock.After(p.Interval):
			}
		}
	}
}
