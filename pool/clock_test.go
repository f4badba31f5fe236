// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a minimal timeutil.Clock double: Now() returns whatever was
// last stored, letting a test fast-forward a long configured delay without
// actually sleeping for it.
type fakeClock struct {
	now atomic.Pointer[time.Time]
}

func newFakeClock(t time.Time) *fakeClock {
	c := &fakeClock{}
	c.now.Store(&t)
	return c
}

func (c *fakeClock) Now() time.Time { return *c.now.Load() }

func (c *fakeClock) set(t time.Time) { c.now.Store(&t) }

// TestMultiplexer_ClockSleepHonorsSimulatedClock verifies reconnectSlot's
// and healthLoop's shared wait primitive resolves against Options.Clock
// rather than wall-clock time: a delay configured in hours completes almost
// immediately once the fake clock is advanced past the deadline, which is
// what lets the reconnect-backoff policy be exercised under test without an
// actual multi-hour sleep.
func TestMultiplexer_ClockSleepHonorsSimulatedClock(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mp := &Multiplexer{opts: Options{Clock: clock}}
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() { done <- mp.clockSleep(time.Hour, stop) }()

	time.Sleep(5 * time.Millisecond) // let clockSleep compute its deadline
	clock.set(time.Unix(0, 0).Add(2 * time.Hour))

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("clockSleep reported stopped, want elapsed")
		}
	case <-time.After(time.Second):
		t.Fatal("clockSleep did not observe the advanced clock within 1s")
	}
}

// TestMultiplexer_ClockSleepStopsOnSignal verifies the stop channel still
// takes priority over the deadline, so Close() isn't delayed by a pending
// reconnect/health-check wait.
func TestMultiplexer_ClockSleepStopsOnSignal(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mp := &Multiplexer{opts: Options{Clock: clock}}
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() { done <- mp.clockSleep(time.Hour, stop) }()
	close(stop)

	select {
	case ok := <-done:
		if ok {
			t.Fatal("clockSleep reported elapsed, want stopped")
		}
	case <-time.After(time.Second):
		t.Fatal("clockSleep did not respect stop")
	}
}
