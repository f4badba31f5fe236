// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"math/rand"
	"testing"
	"time"
)

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff{Delay_: 200 * time.Millisecond}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := b.Delay(attempt); got != 200*time.Millisecond {
			t.Fatalf("attempt=%d: got=%v want=200ms", attempt, got)
		}
	}
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff{Base: 100 * time.Millisecond, Max: 350 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{4, 350 * time.Millisecond}, // capped
	}
	for _, c := range cases {
		if got := b.Delay(c.attempt); got != c.want {
			t.Fatalf("attempt=%d: got=%v want=%v", c.attempt, got, c.want)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Base: 10 * time.Millisecond, Max: 100 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 80 * time.Millisecond},
		{5, 100 * time.Millisecond}, // capped
		{6, 100 * time.Millisecond},
	}
	for _, c := range cases {
		if got := b.Delay(c.attempt); got != c.want {
			t.Fatalf("attempt=%d: got=%v want=%v", c.attempt, got, c.want)
		}
	}
}

// TestExponentialWithJitterBackoff_Deterministic verifies spec.md TESTABLE
// PROPERTIES #10: with a fixed Rand source, the sequence of delays is
// reproducible, and every delay falls within the documented [0.5, 1.0)
// scaling of the unjittered exponential value.
func TestExponentialWithJitterBackoff_Deterministic(t *testing.T) {
	base := ExponentialBackoff{Base: 10 * time.Millisecond, Max: 1 * time.Second}
	b1 := ExponentialWithJitterBackoff{Base: base.Base, Max: base.Max, Rand: rand.New(rand.NewSource(42))}
	b2 := ExponentialWithJitterBackoff{Base: base.Base, Max: base.Max, Rand: rand.New(rand.NewSource(42))}

	for attempt := 1; attempt <= 6; attempt++ {
		d1 := b1.Delay(attempt)
		d2 := b2.Delay(attempt)
		if d1 != d2 {
			t.Fatalf("attempt=%d: same seed produced different delays: %v vs %v", attempt, d1, d2)
		}
		unjittered := base.Delay(attempt)
		if d1 < unjittered/2 || d1 > unjittered {
			t.Fatalf("attempt=%d: delay %v outside [%v, %v]", attempt, d1, unjittered/2, unjittered)
		}
	}
}
