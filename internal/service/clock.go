package service

import "time"

// Timer is a stoppable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time and timers so lock expiry, debounce and heartbeat can be
// driven deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns the process clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
