package util

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer(t *testing.T) {
	t.Run("fires after timeout", func(t *testing.T) {
		fired := make(chan struct{})
		d := NewDebouncer(50*time.Millisecond, func() { close(fired) })
		defer d.Stop()

		select {
		case <-fired:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("debouncer did not fire within expected time")
		}
		assert.True(t, d.Stopped())
	})

	t.Run("reset postpones firing", func(t *testing.T) {
		var calls atomic.Int32
		fired := make(chan struct{}, 1)
		d := NewDebouncer(60*time.Millisecond, func() {
			calls.Add(1)
			fired <- struct{}{}
		})
		defer d.Stop()

		for i := 0; i < 4; i++ {
			time.Sleep(20 * time.Millisecond)
			d.Reset()
		}
		assert.Zero(t, calls.Load(), "debouncer fired while being reset")

		select {
		case <-fired:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("debouncer did not fire after resets stopped")
		}
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stop prevents firing", func(t *testing.T) {
		var calls atomic.Int32
		d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })

		d.Stop()
		d.Stop()
		d.Reset()

		time.Sleep(100 * time.Millisecond)
		assert.Zero(t, calls.Load())
	})

	t.Run("stop from inside the callback", func(t *testing.T) {
		done := make(chan struct{})
		self := make(chan *Debouncer, 1)
		self <- NewDebouncer(10*time.Millisecond, func() {
			(<-self).Stop()
			close(done)
		})

		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
			t.Fatal("callback did not run")
		}
	})
}
