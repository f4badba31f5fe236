// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/respdrive/resp"
)

// CompletionHandle is a reusable, single-shot notification object
// correlating one submitted command to its eventual reply (spec.md §4.6).
// Handles are drawn from a sync.Pool and stamped with a fresh version on
// every acquire. Neither Wait nor resolve checks that version, so a caller
// holding a stale reference after the handle has been recycled for a
// different submission is not detected.
type CompletionHandle struct {
	version uint64
	done    chan struct{}

	value resp.Value
	err   error

	fireAndForget bool
}

var handlePool = sync.Pool{
	New: func() any { return &CompletionHandle{done: make(chan struct{}, 1)} },
}

var versionCounter atomic.Uint64

// acquireHandle takes a handle from the pool and stamps it with a fresh
// version, ready for one submission's lifetime.
func acquireHandle() *CompletionHandle {
	h := handlePool.Get().(*CompletionHandle)
	h.version = versionCounter.Add(1)
	h.value = resp.Value{}
	h.err = nil
	h.fireAndForget = false
	// Drain any stale signal from a previous use (should never fire, but a
	// handle must start empty).
	select {
	case <-h.done:
	default:
	}
	return h
}

// release returns h to the pool. It must only be called after h's result
// has been observed (or discarded, for fire-and-forget) — never while a
// Wait call might still be in flight on it.
func (h *CompletionHandle) release() {
	handlePool.Put(h)
}

// Version identifies this handle's current submission; it changes on every
// acquire. Nothing in this package compares it.
func (h *CompletionHandle) Version() uint64 { return h.version }

// resolve delivers the final result and wakes any Wait call. It must be
// called exactly once per acquireHandle.
func (h *CompletionHandle) resolve(v resp.Value, err error) {
	h.value = v
	h.err = err
	h.done <- struct{}{}
}

// Wait blocks until the command this handle was issued for completes, or
// ctx is cancelled first. A fire-and-forget handle's Wait still observes
// the real reply (spec.md's resolution of the fire-and-forget open
// question: command_timeout only bounds how long Submit waits, and is not
// applied to fire-and-forget handles; the dispatcher runs the command to
// completion on the wire regardless).
func (h *CompletionHandle) Wait(ctx context.Context) (resp.Value, error) {
	select {
	case <-h.done:
		v, err := h.value, h.err
		h.release()
		return v, err
	case <-ctx.Done():
		return resp.Value{}, ctx.Err()
	}
}
