package authflow

import (
	"sync"
	"sync/atomic"
	"time"
)

type debounceTask struct {
	cancelled atomic.Bool
	timer     *time.Timer
}

// Debouncer coalesces bursts of calls into one run of the last function
// after a quiet period.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending *debounceTask
	stopped bool
}

// NewDebouncer creates a Debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger cancels the pending task, if any, and schedules fn.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.cancelLocked()

	task := &debounceTask{}
	task.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.pending != task || task.cancelled.Load() {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()

		fn()
	})
	d.pending = task
}

// Cancel drops the pending task without running it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.cancelLocked()
	d.mu.Unlock()
}

// Stop cancels the pending task and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.cancelLocked()
	d.stopped = true
	d.mu.Unlock()
}

func (d *Debouncer) cancelLocked() {
	if d.pending == nil {
		return
	}
	d.pending.cancelled.Store(true)
	d.pending.timer.Stop()
	d.pending = nil
}
