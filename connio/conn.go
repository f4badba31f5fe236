// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package connio

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is one position in the connection state machine described in
// spec.md §4.4: Connecting -> Connected -> (Failed | Closed). A connection
// never transitions out of Failed or Closed on its own; the pool (C5) is
// the one that replaces a Failed slot with a freshly Dialed Conn.
type State uint32

const (
	Connecting State = iota
	Connected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn wraps one net.Conn with a sliding read buffer and a batched write
// buffer. It never reconnects itself (spec.md §4.5): a transport error
// marks it Failed and every subsequent call returns ErrBroken until the
// owner Close()s it and obtains a replacement from the pool.
//
// A Conn is single-writer: BeginBatch/WriteCommand/EndBatch must not be
// called concurrently by more than one goroutine. Read-side access
// (View/Advance) is likewise single-reader. This matches the pool's lease
// model (C5): exactly one dispatcher owns a leased Conn at a time.
type Conn struct {
	nc net.Conn

	opts Options

	state atomic.Uint32

	mu sync.Mutex

	// read side: rbuf[roff:rtail] holds unconsumed, already-read bytes.
	rbuf  []byte
	roff  int
	rtail int

	// write side: wbuf accumulates WriteCommand payloads between
	// BeginBatch and EndBatch. batching is false outside a batch, in
	// which case WriteCommand writes straight through to nc.
	wbuf     []byte
	batching bool

	lastActivity atomic.Int64 // unix nanos
	usage        atomic.Uint64
}

// NewConn wraps nc, an already-dialed transport connection, in read/write
// buffering. The returned Conn starts in the Connected state; callers
// performing a handshake (HELLO/AUTH/SELECT, spec.md §6) should do so
// before handing the Conn to the pool.
func NewConn(nc net.Conn, opts ...Option) (*Conn, error) {
	if nc == nil {
		return nil, ErrInvalidArgument
	}
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.ReadBufferSize <= 0 || o.WriteBufferSize <= 0 {
		return nil, ErrInvalidArgument
	}
	c := &Conn{
		nc:   nc,
		opts: o,
		rbuf: make([]byte, o.ReadBufferSize),
		wbuf: make([]byte, 0, o.WriteBufferSize),
	}
	c.state.Store(uint32(Connected))
	c.touch()
	return c, nil
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// IsHealthy reports whether the Conn is in the Connected state. It does
// not itself probe the socket; liveness probing (PING) is the pool's job
// (C5).
func (c *Conn) IsHealthy() bool { return c.State() == Connected }

// LastActivity returns the last time a read or write made progress.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// UsageCount returns the number of commands written on this Conn since
// construction. It is an observability counter; the pool's slot selection
// does not read it.
func (c *Conn) UsageCount() uint64 { return c.usage.Load() }

func (c *Conn) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// RemoteAddr exposes the wrapped net.Conn's remote address for logging.
func (c *Conn) RemoteAddr() net.Addr {
	if c.nc == nil {
		return nil
	}
	return c.nc.RemoteAddr()
}

// NetConn exposes the wrapped transport connection for callers that need
// socket-level access Conn doesn't itself provide (e.g. the pool's
// TCP_INFO metrics probe). Callers must not Read/Write it directly — doing
// so would desynchronize it from Conn's buffers.
func (c *Conn) NetConn() net.Conn { return c.nc }

// Fill reads up to one socket Read's worth of additional bytes into the
// read buffer, growing it (doubling, capped at ReadBufferMax) if the
// unconsumed region has no room left. It returns ErrReadBufferFull if
// growth would exceed ReadBufferMax without the buffer draining — a signal
// that whatever is arriving cannot be a well-formed frame under the
// configured caps.
func (c *Conn) Fill(deadline time.Time) error {
	if st := c.State(); st != Connected {
		return stateErr(st)
	}
	c.compact()
	if c.rtail == len(c.rbuf) {
		if err := c.grow(); err != nil {
			return err
		}
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		c.fail(err)
		return err
	}
	n, err := c.nc.Read(c.rbuf[c.rtail:])
	if n > 0 {
		c.rtail += n
		c.touch()
	}
	if err != nil {
		// A read deadline timeout is not a transport failure in the usual
		// sense, but it leaves the server's reply for whatever was already
		// written still unread on the wire: the connection can never be
		// trusted to start a fresh FIFO-correlated batch again, so a
		// timeout fails the Conn exactly like any other read error instead
		// of being handed back to the pool as still healthy.
		c.fail(err)
		return err
	}
	return nil
}

// compact shifts the unconsumed region to the front of rbuf so Fill always
// has room to grow into, instead of reallocating on every call once roff
// has drifted forward.
func (c *Conn) compact() {
	if c.roff == 0 {
		return
	}
	n := copy(c.rbuf, c.rbuf[c.roff:c.rtail])
	c.roff = 0
	c.rtail = n
}

func (c *Conn) grow() error {
	next := len(c.rbuf) * 2
	if next == 0 {
		next = c.opts.ReadBufferSize
	}
	if next > c.opts.ReadBufferMax {
		if len(c.rbuf) >= c.opts.ReadBufferMax {
			return ErrReadBufferFull
		}
		next = c.opts.ReadBufferMax
	}
	grown := make([]byte, next)
	copy(grown, c.rbuf[:c.rtail])
	c.rbuf = grown
	return nil
}

// View returns the currently buffered, unconsumed bytes. The codec (resp.Reader)
// decodes directly out of this slice; the caller must not retain it past
// the next Advance/Fill call.
func (c *Conn) View() []byte { return c.rbuf[c.roff:c.rtail] }

// Advance discards the first n bytes of View() — the portion a decode
// call consumed.
func (c *Conn) Advance(n int) {
	if n <= 0 {
		return
	}
	c.roff += n
	if c.roff > c.rtail {
		c.roff = c.rtail
	}
}

// BeginBatch starts accumulating WriteCommand payloads in memory instead of
// writing each one through to the socket immediately, so a dispatcher can
// coalesce an entire pipelined batch (spec.md §4.6) into one write(2) call.
func (c *Conn) BeginBatch() error {
	if st := c.State(); st != Connected {
		return stateErr(st)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batching {
		return ErrBatchInProgress
	}
	c.batching = true
	c.wbuf = c.wbuf[:0]
	return nil
}

// WriteCommand appends an already-encoded command to the current batch (if
// BeginBatch was called) or writes it straight through to the socket
// otherwise.
func (c *Conn) WriteCommand(b []byte) error {
	if st := c.State(); st != Connected {
		return stateErr(st)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(1)
	if c.batching {
		c.wbuf = append(c.wbuf, b...)
		return nil
	}
	return c.writeAll(b)
}

// EndBatch flushes everything accumulated since BeginBatch in one Write
// call and leaves batching mode.
func (c *Conn) EndBatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.batching {
		return ErrNotBatching
	}
	c.batching = false
	if len(c.wbuf) == 0 {
		return nil
	}
	payload := c.wbuf
	c.wbuf = nil
	return c.writeAll(payload)
}

// AbortBatch discards whatever has been accumulated since BeginBatch
// without writing it — used when a batch is cancelled before EndBatch
// (e.g. the dispatcher decided to fail the batch early).
func (c *Conn) AbortBatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batching = false
	c.wbuf = c.wbuf[:0]
}

func (c *Conn) writeAll(b []byte) error {
	if st := c.State(); st != Connected {
		return stateErr(st)
	}
	off := 0
	for off < len(b) {
		n, err := c.nc.Write(b[off:])
		if n > 0 {
			off += n
			c.touch()
		}
		if err != nil {
			c.fail(err)
			return err
		}
	}
	return nil
}

// fail transitions the connection to Failed. Per spec.md §4.5, a Conn never
// self-reconnects; the pool observes Failed and replaces the slot.
func (c *Conn) fail(_ error) {
	c.state.CompareAndSwap(uint32(Connected), uint32(Failed))
}

// MarkFailed lets an owner (e.g. a failed health-check ping) force the
// connection into the Failed state without having to provoke an actual
// I/O error first.
func (c *Conn) MarkFailed() { c.fail(nil) }

// Close closes the underlying transport and transitions to Closed. Close
// is idempotent.
func (c *Conn) Close() error {
	prev := State(c.state.Swap(uint32(Closed)))
	if prev == Closed {
		return nil
	}
	return c.nc.Close()
}

func stateErr(st State) error {
	switch st {
	case Closed:
		return ErrClosed
	case Failed:
		return ErrBroken
	default:
		return ErrBroken
	}
}
