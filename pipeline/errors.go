// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline implements the pipelined command queue (spec.md §4.6):
// an ingress channel, a single dispatcher goroutine batching submissions up
// to a configured size/timeout and running each batch on a connection
// leased for that batch, and poolable
// completion handles correlating replies back to callers in FIFO order.
package pipeline

import "errors"

var (
	// ErrClosedClient reports Submit called after the Dispatcher was closed.
	ErrClosedClient = errors.New("pipeline: client is closed")

	// ErrQueueOverflow reports the ingress channel full under the Error
	// backpressure policy.
	ErrQueueOverflow = errors.New("pipeline: ingress queue overflow")

	// ErrBroken reports a submission whose batch's connection failed before
	// (or while) the reply was read. Per spec.md §4.5, reconnect does not
	// preserve pending submissions — the caller must resubmit an
	// idempotent command itself.
	ErrBroken = errors.New("pipeline: connection broken before a reply arrived")

	// ErrCancelled reports a submission whose context was cancelled before
	// a reply arrived.
	ErrCancelled = errors.New("pipeline: submission cancelled")

	// ErrTimedOut reports a submission whose command_timeout elapsed before
	// a reply arrived.
	ErrTimedOut = errors.New("pipeline: submission timed out")

	// ErrHandleReused names the error for a Wait on a CompletionHandle that
	// has been recycled for a different submission. No code path in this
	// package returns it: handles do not check their version.
	ErrHandleReused = errors.New("pipeline: completion handle reused")
)

// TransportError wraps a connio/net-level I/O failure observed while
// writing or reading a batch.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return "pipeline: transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// ServerError wraps a RESP Error/BulkError reply, with the Redis-style
// error-code prefix split out the way xenking-redis.ServerError does.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Prefix returns the first space-delimited token of the error message
// (e.g. "WRONGTYPE" from "WRONGTYPE Operation against a key..."), grounded
// in xenking-redis.ServerError.Prefix.
func (e *ServerError) Prefix() string {
	for i := 0; i < len(e.Message); i++ {
		if e.Message[i] == ' ' {
			return e.Message[:i]
		}
	}
	return e.Message
}
