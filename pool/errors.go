// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pool implements the connection multiplexer (spec.md §4.5): a
// fixed-size set of connio.Conn slots, optimistic round-robin leasing,
// a health-check timer that pings idle connections, and reconnect backoff
// when a slot's connection fails.
package pool

import "errors"

var (
	// ErrClosed reports Lease called after Close.
	ErrClosed = errors.New("pool: multiplexer closed")

	// ErrNoSlots reports a pool constructed with a non-positive slot count.
	ErrNoSlots = errors.New("pool: size must be positive")

	// ErrDialFailed wraps a Dial failure when every slot's initial connect
	// attempt fails during New.
	ErrDialFailed = errors.New("pool: initial dial failed")

	// ErrLeaseTimeout reports Lease's context ending (deadline or
	// cancellation) before any slot's acquire semaphore became available;
	// Lease returns it joined with ctx.Err().
	ErrLeaseTimeout = errors.New("pool: lease wait timed out")
)
