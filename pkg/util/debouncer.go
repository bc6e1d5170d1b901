// Package util holds small concurrency helpers.
package util

import (
	"sync"
	"time"
)

// Debouncer runs a callback once the duration elapses without a Reset. It
// backs inactivity timeouts: every bit of activity calls Reset, and the
// callback fires only after a quiet period.
//
//	idle := NewDebouncer(2*time.Second, func() { registry.Remove(id) })
//	defer idle.Stop()
//	for frame := range frames {
//	    handle(frame)
//	    idle.Reset()
//	}
//
// It is safe for concurrent use. After Stop the callback never runs.
type Debouncer struct {
	duration time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer creates an armed debouncer that calls fn after duration.
func NewDebouncer(duration time.Duration, fn func()) *Debouncer {
	d := &Debouncer{duration: duration, fn: fn}
	d.timer = time.AfterFunc(duration, d.fire(0))

	return d
}

// Reset re-arms the timer for a full duration. A no-op after Stop.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.timer.Stop()
	d.gen++
	d.timer = time.AfterFunc(d.duration, d.fire(d.gen))
}

// Stop disarms the debouncer. It is safe to call Stop multiple times and from
// inside the callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		d.timer.Stop()
		d.stopped = true
	}
}

// Stopped reports whether Stop was called or the callback already fired.
func (d *Debouncer) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stopped
}

// fire returns a timer callback bound to generation gen; a callback from a
// timer that was since reset is ignored.
func (d *Debouncer) fire(gen uint64) func() {
	return func() {
		d.mu.Lock()
		if d.stopped || gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.stopped = true
		d.mu.Unlock()

		d.fn()
	}
}
