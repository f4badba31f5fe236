// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before the nth reconnect attempt for a
// Failed slot (spec.md §4.5, TESTABLE PROPERTIES #10: "reconnect delay is a
// deterministic function of attempt count under a given policy"). attempt
// is 1-based.
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff always waits the same delay.
type FixedBackoff struct{ Delay_ time.Duration }

func (b FixedBackoff) Delay(int) time.Duration { return b.Delay_ }

// LinearBackoff grows delay linearly with attempt count, capped at Max.
type LinearBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	d := b.Base * time.Duration(attempt)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ExponentialBackoff doubles the delay each attempt, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ExponentialWithJitterBackoff applies ExponentialBackoff and then scales
// the result by a uniform random factor in [0.5, 1.0), the "equal jitter"
// variant, so many slots reconnecting at once don't retry in lockstep.
type ExponentialWithJitterBackoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand is used for jitter; a nil Rand defaults to a package-level
	// source created at package initialization with a fixed seed (1);
	// set Rand in tests for deterministic output.
	Rand *rand.Rand
}

func (b ExponentialWithJitterBackoff) Delay(attempt int) time.Duration {
	base := ExponentialBackoff{Base: b.Base, Max: b.Max}.Delay(attempt)
	r := b.Rand
	if r == nil {
		r = defaultRand
	}
	factor := 0.5 + r.Float64()*0.5
	return time.Duration(float64(base) * factor)
}

var defaultRand = rand.New(rand.NewSource(1))

// DefaultBackoff is the policy used when none is configured: exponential
// with jitter, 100ms base, 30s cap — generous enough that a flapping
// server doesn't get hammered, fast enough that a transient blip recovers
// within a couple of health-check intervals.
var DefaultBackoff BackoffPolicy = ExponentialWithJitterBackoff{
	Base: 100 * time.Millisecond,
	Max:  30 * time.Second,
}
