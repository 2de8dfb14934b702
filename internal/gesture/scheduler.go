package gesture

import "time"

// Task is a pending delayed call.
type Task interface {
	// Cancel prevents the call if it has not started yet.
	Cancel()
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

// ClockScheduler schedules on the wall clock via time.AfterFunc.
type ClockScheduler struct{}

func (ClockScheduler) AfterFunc(d time.Duration, f func()) Task {
	return timerTask{time.AfterFunc(d, f)}
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Cancel() { t.t.Stop() }
