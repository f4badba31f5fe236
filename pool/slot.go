// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"sync/atomic"

	"code.hybscloud.com/respdrive/connio"
)

// slot is one position in the Multiplexer's fixed-size connection table
// (spec.md §4.5: "a fixed set of connection slots, each independently
// leasable"). sem is the slot's acquire semaphore: capacity 1, so at most
// one dispatcher holds the slot's connio.Conn at a time (a Conn is
// single-writer/single-reader, see connio.Conn's doc comment).
type slot struct {
	index int

	sem chan struct{}

	conn atomic.Pointer[connio.Conn]

	live atomic.Bool

	reconnectAttempt atomic.Int32
}

func newSlot(index int) *slot {
	s := &slot{index: index, sem: make(chan struct{}, 1)}
	s.sem <- struct{}{}
	return s
}

// tryAcquire attempts a non-blocking lease; it reports whether it
// succeeded.
func (s *slot) tryAcquire() bool {
	select {
	case <-s.sem:
		return true
	default:
		return false
	}
}

func (s *slot) release() { s.sem <- struct{}{} }

func (s *slot) setConn(c *connio.Conn) {
	s.conn.Store(c)
	s.live.Store(c != nil && c.IsHealthy())
}

func (s *slot) Conn() *connio.Conn { return s.conn.Load() }

func (s *slot) isLive() bool {
	c := s.conn.Load()
	return c != nil && c.IsHealthy() && s.live.Load()
}

func (s *slot) markDead() { s.live.Store(false) }
