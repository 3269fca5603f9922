package corpus

import (
	"sync"
	"time"
)

// Timer is the cancellable handle returned by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The production implementation wraps
// time.AfterFunc; tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules on the wall clock.
type SystemScheduler struct{}

// AfterFunc implements Scheduler.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer collapses bursts of Trigger calls into one invocation of fn that
// runs once no Trigger has arrived for the configured delay. At most one
// invocation is pending at a time.
type Debouncer struct {
	mu        sync.Mutex
	scheduler Scheduler
	delay     time.Duration
	fn        func()
	pending   Timer
	gen       uint64
	stopped   bool
}

// NewDebouncer returns a Debouncer that calls fn after delay of quiet.
func NewDebouncer(scheduler Scheduler, delay time.Duration, fn func()) *Debouncer {
	if scheduler == nil {
		scheduler = SystemScheduler{}
	}
	return &Debouncer{
		scheduler: scheduler,
		delay:     delay,
		fn:        fn,
	}
}

// Trigger cancels any pending invocation and schedules a new one.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.pending != nil {
		d.pending.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = d.scheduler.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Pending reports whether an invocation is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop cancels any pending invocation and ignores future triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.gen++
}

// fire runs fn unless a newer Trigger or Stop superseded generation gen.
// A timer whose Stop raced with expiry lands here with a stale generation.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.mu.Unlock()
	d.fn()
}
