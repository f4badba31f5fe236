// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"code.hybscloud.com/respdrive/connio"
	"code.hybscloud.com/respdrive/resp"
	"github.com/jacobsa/syncutil"
	"github.com/sirupsen/logrus"
)

// Multiplexer owns a fixed set of connio.Conn slots to one address and
// hands out leases (spec.md §4.5). It never grows or shrinks the slot
// count after New; a Failed slot is reconnected in place on its own
// backoff schedule rather than removed.
type Multiplexer struct {
	addr    string
	network string

	opts Options
	log  *logrus.Entry

	// mu guards slots/closed/roundRobin together; checkInvariants verifies
	// that the slot count never changes after construction, matching the role
	// syncutil.InvariantMutex plays guarding jacobsa-fuse's inode state.
	mu     syncutil.InvariantMutex
	slots  []*slot
	closed bool

	roundRobin atomic.Uint64
	reconnects atomic.Uint64

	healthStop chan struct{}
	healthDone chan struct{}
}

// New dials Size connections (default runtime.NumCPU()) to addr and starts
// the health-check timer. addr may be a host:port (TCP) or a filesystem
// path (Unix-domain socket), normalized per normalizeAddr.
func New(addr string, opts ...Option) (*Multiplexer, error) {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.Size <= 0 {
		o.Size = runtime.NumCPU()
	}
	if o.Size <= 0 {
		return nil, ErrNoSlots
	}

	addr = normalizeAddr(addr)
	network := "tcp"
	if isUnixAddr(addr) {
		network = "unix"
	}

	mp := &Multiplexer{
		addr:       addr,
		network:    network,
		opts:       o,
		log:        logrus.WithField("component", "pool").WithField("addr", addr),
		slots:      make([]*slot, o.Size),
		healthStop: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
	mp.mu = syncutil.NewInvariantMutex(mp.checkInvariants)

	var lastErr error
	connected := 0
	for i := range mp.slots {
		s := newSlot(i)
		mp.slots[i] = s
		c, err := mp.dial()
		if err != nil {
			lastErr = err
			mp.log.WithError(err).WithField("slot", i).Warn("initial dial failed, will retry via reconnect loop")
			go mp.reconnectSlot(s)
			continue
		}
		s.setConn(c)
		connected++
	}
	if connected == 0 && lastErr != nil {
		mp.Close()
		return nil, errors.Join(ErrDialFailed, lastErr)
	}

	go mp.healthLoop()
	return mp, nil
}

func (mp *Multiplexer) checkInvariants() {
	// INVARIANT: slot count never changes after New.
	if len(mp.slots) != mp.opts.Size {
		panic("pool: slot count changed after construction")
	}
}

func (mp *Multiplexer) dial() (*connio.Conn, error) {
	d := net.Dialer{Timeout: mp.opts.ConnectTimeout}
	nc, err := d.Dial(mp.network, mp.addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	c, err := connio.NewConn(nc, mp.opts.ConnOptions...)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	if mp.opts.Handshake != nil {
		if err := mp.opts.Handshake(c); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Lease waits for a live, free slot and returns it. The caller must
// Release it (via the returned release func) when done, exactly once.
func (mp *Multiplexer) Lease(ctx context.Context) (*connio.Conn, func(), error) {
	mp.mu.Lock()
	if mp.closed {
		mp.mu.Unlock()
		return nil, nil, ErrClosed
	}
	n := len(mp.slots)
	start := int(mp.roundRobin.Add(1) % uint64(n))
	mp.mu.Unlock()

	// First pass: a quick non-blocking sweep starting from the optimistic
	// round-robin index, so the common case (some slot free) never
	// touches a channel select/timer.
	for i := 0; i < n; i++ {
		s := mp.slots[(start+i)%n]
		if !s.isLive() {
			continue
		}
		if s.tryAcquire() {
			if c := s.Conn(); c != nil && c.IsHealthy() {
				return c, func() { s.release() }, nil
			}
			s.release()
		}
	}

	// Slow path: every live slot is currently leased. Wait on whichever
	// becomes free first, honoring ctx.
	cases := make([]*slot, 0, n)
	for i := 0; i < n; i++ {
		s := mp.slots[(start+i)%n]
		if s.isLive() {
			cases = append(cases, s)
		}
	}
	if len(cases) == 0 {
		return nil, nil, ErrClosed
	}
	return mp.waitForFreeSlot(ctx, cases)
}

func (mp *Multiplexer) waitForFreeSlot(ctx context.Context, cases []*slot) (*connio.Conn, func(), error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, nil, errors.Join(ErrLeaseTimeout, ctx.Err())
		case <-ticker.C:
			for _, s := range cases {
				if !s.isLive() {
					continue
				}
				if s.tryAcquire() {
					if c := s.Conn(); c != nil && c.IsHealthy() {
						return c, func() { s.release() }, nil
					}
					s.release()
				}
			}
		}
	}
}

// healthLoop pings every live, currently-free slot on an interval, and
// kicks off reconnection for any slot observed Failed.
func (mp *Multiplexer) healthLoop() {
	defer close(mp.healthDone)
	interval := mp.opts.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	for {
		if !mp.clockSleep(interval, mp.healthStop) {
			return
		}
		mp.runHealthPass()
	}
}

// clockSleep waits for d to elapse as measured by mp.opts.Clock, waking on
// a fine real-time poll so a timeutil.SimulatedClock under test can make
// the wait resolve as soon as it is advanced past the deadline, instead of
// this goroutine actually blocking for d. Returns false if stop fires
// first.
func (mp *Multiplexer) clockSleep(d time.Duration, stop <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	deadline := mp.opts.Clock.Now().Add(d)
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return false
		case <-t.C:
			if !mp.opts.Clock.Now().Before(deadline) {
				return true
			}
		}
	}
}

func (mp *Multiplexer) runHealthPass() {
	for _, s := range mp.slots {
		c := s.Conn()
		if c == nil {
			continue
		}
		if c.State() == connio.Closed {
			continue // a reconnectSlot run already owns this slot, or has given up on it
		}
		if c.State() == connio.Failed {
			s.markDead()
			go mp.reconnectSlot(s)
			continue
		}
		if !s.tryAcquire() {
			continue // in active use; skip this round rather than block a dispatcher
		}
		err := mp.ping(c)
		s.release()
		if err != nil {
			mp.log.WithError(err).WithField("slot", s.index).Warn("health check ping failed")
			c.MarkFailed()
			s.markDead()
			go mp.reconnectSlot(s)
		}
	}
}

func (mp *Multiplexer) ping(c *connio.Conn) error {
	w := resp.NewWriter()
	cmd := w.WriteCommandStrings(nil, "PING")
	if err := c.BeginBatch(); err != nil {
		return err
	}
	if err := c.WriteCommand(cmd); err != nil {
		return err
	}
	if err := c.EndBatch(); err != nil {
		return err
	}

	cmdTimeout := mp.opts.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = 5 * time.Second
	}
	deadline := mp.opts.Clock.Now().Add(cmdTimeout)
	r := resp.NewReader()
	for {
		v, consumed, _, err := r.TryRead(c.View())
		if err == nil {
			c.Advance(consumed)
			if v.IsError() {
				return errors.New(v.ErrorMessage())
			}
			return nil
		}
		if !errors.Is(err, resp.ErrNeedMore) {
			return err
		}
		if err := c.Fill(deadline); err != nil {
			return err
		}
	}
}

// reconnectSlot retries dialing a replacement connection for s on the
// configured backoff policy until it succeeds or MaxReconnectAttempts is
// exhausted. Per spec.md §4.5, it never touches requests the old
// connection was holding — those were already resolved Broken when the
// slot transitioned to Failed (pipeline.Dispatcher's job, not the pool's).
func (mp *Multiplexer) reconnectSlot(s *slot) {
	if old := s.Conn(); old != nil {
		_ = old.Close()
	}
	attempt := int(s.reconnectAttempt.Add(1))
	for {
		mp.mu.Lock()
		closed := mp.closed
		mp.mu.Unlock()
		if closed {
			return
		}
		c, err := mp.dial()
		if err == nil {
			s.setConn(c)
			s.reconnectAttempt.Store(0)
			mp.reconnects.Add(1)
			return
		}
		mp.log.WithError(err).WithField("slot", s.index).WithField("attempt", attempt).
			Warn("reconnect attempt failed")
		if mp.opts.MaxReconnectAttempts > 0 && attempt >= mp.opts.MaxReconnectAttempts {
			mp.log.WithField("slot", s.index).Error("giving up reconnecting slot: max attempts exhausted")
			return
		}
		delay := mp.opts.Backoff.Delay(attempt)
		if !mp.clockSleep(delay, mp.healthStop) {
			return
		}
		attempt++
		s.reconnectAttempt.Store(int32(attempt))
	}
}

type snapshotSlot struct {
	connStats
}

type snapshot struct {
	connected  int
	total      int
	reconnects uint64
	slots      []snapshotSlot
}

func (mp *Multiplexer) snapshot() snapshot {
	out := snapshot{total: len(mp.slots), reconnects: mp.reconnects.Load()}
	out.slots = make([]snapshotSlot, len(mp.slots))
	for i, s := range mp.slots {
		if !s.isLive() {
			continue
		}
		out.connected++
		if c := s.Conn(); c != nil {
			if st, ok := probeTCPInfo(connFromConnio(c)); ok {
				out.slots[i] = snapshotSlot{connStats: st}
			}
		}
	}
	return out
}

// connFromConnio returns connio.Conn's wrapped net.Conn (via its exported
// NetConn accessor) for TCP_INFO probing.
func connFromConnio(c *connio.Conn) net.Conn { return c.NetConn() }

// Close stops the health-check timer and closes every slot's connection.
// Close is idempotent.
func (mp *Multiplexer) Close() error {
	mp.mu.Lock()
	if mp.closed {
		mp.mu.Unlock()
		return nil
	}
	mp.closed = true
	mp.mu.Unlock()

	close(mp.healthStop)
	<-mp.healthDone

	var firstErr error
	for _, s := range mp.slots {
		if c := s.Conn(); c != nil {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Size returns the configured slot count.
func (mp *Multiplexer) Size() int { return len(mp.slots) }
