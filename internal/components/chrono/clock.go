package chrono

import "time"

// Timer is a handle to a callback scheduled with Clock.AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing, it returns false if the
	// callback has already fired or the timer was already stopped.
	Stop() bool
}

// Clock is the source of time for everything that sleeps or schedules.
//
// note: fault injection point
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// StandardClock is the Clock backed by the time package.
type StandardClock struct{}

func (StandardClock) Now() time.Time {
	return time.Now()
}

func (StandardClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (StandardClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
