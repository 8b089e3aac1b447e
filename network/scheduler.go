package network

import "time"

// Scheduler defers a function call by a delay. The returned cancel function
// stops the call if it has not fired yet.
type Scheduler interface {
	AfterFunc(delay time.Duration, fn func()) (cancel func())
}

type timerScheduler struct{}

// NewTimerScheduler returns the wall-clock Scheduler used outside tests.
func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}

func (timerScheduler) AfterFunc(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() {
		timer.Stop()
	}
}
