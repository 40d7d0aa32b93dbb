package mixer

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler is the time source of a MixBus. Callbacks run on an arbitrary
// goroutine; the bus only uses them to post messages to its own loop.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) Now() time.Time { return time.Now() }

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler is the wall-clock scheduler.
var SystemScheduler Scheduler = systemScheduler{}
