package scheduler

import (
	"sync/atomic"
	"time"
)

// once is a cron.Schedule that yields its instant on the first call to
// Next and the zero time (never) afterwards. cron asks for the first
// activation when the entry is added and again after every run, so the
// entry runs exactly once even if at is already behind the loop's clock.
type once struct {
	at   time.Time
	used atomic.Bool
}

func newOnce(at time.Time) *once {
	return &once{at: at}
}

// Next implements cron.Schedule.
func (o *once) Next(time.Time) time.Time {
	if o.used.Swap(true) {
		return time.Time{}
	}
	return o.at
}
