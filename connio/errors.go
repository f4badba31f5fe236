// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package connio wraps one transport connection (TCP or Unix-domain) in a
// pair of bounded read/write buffers with explicit batch-flush control, so a
// higher-level dispatcher can pipeline several commands onto one socket
// write and then drain their replies off one read fill.
package connio

import "errors"

var (
	// ErrInvalidArgument reports a nil connection or non-positive buffer size
	// passed to NewConn.
	ErrInvalidArgument = errors.New("connio: invalid argument")

	// ErrClosed reports an operation attempted after Close.
	ErrClosed = errors.New("connio: connection closed")

	// ErrBroken reports an operation attempted on a connection that has
	// already recorded a transport failure (state Failed). The caller must
	// obtain a new Conn; this one never recovers on its own (spec.md §4.5:
	// no self-reconnect).
	ErrBroken = errors.New("connio: connection is broken")

	// ErrNotBatching reports EndBatch called without a matching BeginBatch.
	// (WriteCommand outside a batch is not an error: it writes through.)
	ErrNotBatching = errors.New("connio: not in a batch")

	// ErrBatchInProgress reports BeginBatch called while already batching.
	ErrBatchInProgress = errors.New("connio: batch already in progress")

	// ErrReadBufferFull reports the read buffer reaching its configured cap
	// without yielding a complete frame — the caller (pipeline.Dispatcher)
	// should treat this the same as a malformed/oversize frame.
	ErrReadBufferFull = errors.New("connio: read buffer exceeded its cap with no complete frame")
)
