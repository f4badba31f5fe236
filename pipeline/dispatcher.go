// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/respdrive/connio"
	"code.hybscloud.com/respdrive/pool"
	"code.hybscloud.com/respdrive/resp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// submission is one queued command awaiting a batch.
type submission struct {
	cmd    []byte
	handle *CompletionHandle
}

// Dispatcher implements the pipelined command queue (spec.md §4.6): one
// cooperative goroutine leases a connection from the pool, drains the
// ingress channel into a batch bounded by the active BatchProfile, writes
// the whole batch in one connio.Conn flush, then reads back replies in
// FIFO order and resolves each submission's CompletionHandle.
type Dispatcher struct {
	mp   *pool.Multiplexer
	opts Options

	writer resp.Writer
	reader *resp.Reader
	cache  *commandCache

	metrics *Metrics
	log     *logrus.Entry

	ingress chan *submission

	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New starts a Dispatcher fed by mp. The returned Dispatcher owns a
// background goroutine; call Close to stop it.
func New(mp *pool.Multiplexer, opts ...Option) *Dispatcher {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	d := &Dispatcher{
		mp:      mp,
		opts:    o,
		reader:  resp.NewReader(),
		cache:   newCommandCache(o.CacheCapacity),
		metrics: NewMetrics(o.MetricsNamespace),
		log:     logrus.WithField("component", "pipeline"),
		ingress: make(chan *submission, o.IngressCapacity),
		closeCh: make(chan struct{}),
	}
	d.metrics.setCacheSizeFunc(d.cache.size)
	d.wg.Add(1)
	go d.run()
	return d
}

// Metrics returns the Dispatcher's prometheus.Collector.
func (d *Dispatcher) Metrics() *Metrics { return d.metrics }

// encode returns the RESP-encoded command, serving zero-argument commands
// (PING, etc.) from the pre-encoded cache. Commands with arguments are
// encoded afresh on every call.
func (d *Dispatcher) encode(token string, args ...[]byte) []byte {
	if len(args) == 0 {
		key := []byte(token)
		if cached := d.cache.get(key); cached != nil {
			return cached
		}
		encoded := d.writer.WriteCommand(nil, token)
		d.cache.put(key, encoded)
		return encoded
	}
	return d.writer.WriteCommand(nil, token, args...)
}

// Submit encodes token/args as one RESP command, queues it, and blocks
// until its reply arrives, ctx is cancelled, or CommandTimeout elapses.
func (d *Dispatcher) Submit(ctx context.Context, token string, args ...[]byte) (resp.Value, error) {
	h, err := d.enqueue(ctx, token, args...)
	if err != nil {
		return resp.Value{}, err
	}
	waitCtx := ctx
	if d.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.opts.CommandTimeout)
		defer cancel()
	}
	v, err := h.Wait(waitCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return resp.Value{}, ErrTimedOut
	}
	if err != nil && errors.Is(err, context.Canceled) {
		return resp.Value{}, ErrCancelled
	}
	return v, err
}

// SubmitFireAndForget queues token/args and returns immediately with a
// handle the caller may optionally Wait on later. Per spec.md's
// resolution of the fire-and-forget open question, the dispatcher still
// writes the command and reads (and discards, if nobody waits) its reply
// exactly as for a regular submission. CommandTimeout is not applied to
// the returned handle: a later Wait is bounded only by the ctx passed to it.
func (d *Dispatcher) SubmitFireAndForget(ctx context.Context, token string, args ...[]byte) (*CompletionHandle, error) {
	h, err := d.enqueue(ctx, token, args...)
	if err != nil {
		return nil, err
	}
	h.fireAndForget = true
	return h, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, token string, args ...[]byte) (*CompletionHandle, error) {
	if d.closed.Load() {
		return nil, ErrClosedClient
	}
	h := acquireHandle()
	s := &submission{cmd: d.encode(token, args...), handle: h}

	switch d.opts.Overflow {
	case OverflowError:
		select {
		case d.ingress <- s:
		default:
			h.release()
			return nil, ErrQueueOverflow
		}
	case OverflowDropOldest:
		select {
		case d.ingress <- s:
		default:
			select {
			case old := <-d.ingress:
				old.handle.resolve(resp.Value{}, ErrQueueOverflow)
			default:
			}
			select {
			case d.ingress <- s:
			default:
				h.release()
				return nil, ErrQueueOverflow
			}
		}
	default: // OverflowWait
		select {
		case d.ingress <- s:
		case <-ctx.Done():
			h.release()
			return nil, ctx.Err()
		case <-d.closeCh:
			h.release()
			return nil, ErrClosedClient
		}
	}
	d.metrics.observeSubmitted()
	return h, nil
}

// Close stops accepting new submissions and waits for the in-flight batch
// (if any) to finish. Submissions already queued when Close is called are
// still batched and sent; any that reach the queue after the dispatcher has
// found it empty are resolved ErrClosedClient.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.closeCh)
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		batch := d.collectBatch()
		if batch == nil {
			d.drainRemaining()
			return
		}
		d.runBatch(batch)
	}
}

// drainRemaining resolves every submission still sitting in the ingress
// channel at shutdown with ErrClosedClient.
func (d *Dispatcher) drainRemaining() {
	for {
		select {
		case s := <-d.ingress:
			s.handle.resolve(resp.Value{}, ErrClosedClient)
		default:
			return
		}
	}
}

// collectBatch blocks for the first submission, then drains up to
// MaxBatch-1 more, waiting at most BatchTimeout past the first arrival —
// the standard "fill or flush" batching window (spec.md §4.6). Returns nil
// once Close has been called and the ingress channel is caught up.
func (d *Dispatcher) collectBatch() []*submission {
	var first *submission
	select {
	case first = <-d.ingress:
	case <-d.closeCh:
		select {
		case first = <-d.ingress:
		default:
			return nil
		}
	}

	batch := make([]*submission, 0, d.opts.Profile.MaxBatch)
	batch = append(batch, first)

	timer := time.NewTimer(d.opts.Profile.BatchTimeout)
	defer timer.Stop()
	for len(batch) < d.opts.Profile.MaxBatch {
		select {
		case s := <-d.ingress:
			batch = append(batch, s)
		case <-timer.C:
			return batch
		}
	}
	return batch
}

// runBatch leases a connection, writes the whole batch in one flush, reads
// back replies in FIFO order, and resolves each handle.
func (d *Dispatcher) runBatch(batch []*submission) {
	traceID := xid.New().String()
	log := d.log.WithField("trace_id", traceID).WithField("batch_size", len(batch))

	conn, release, err := d.mp.Lease(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to lease a connection for batch")
		d.resolveAllBroken(batch, err)
		return
	}
	defer release()

	if err := d.writeBatch(conn, batch); err != nil {
		log.WithError(err).Warn("batch write failed")
		d.resolveAllBroken(batch, &TransportError{Err: err})
		return
	}
	d.metrics.observeBatch(len(batch))

	d.readBatch(conn, batch, log)
}

func (d *Dispatcher) writeBatch(conn *connio.Conn, batch []*submission) error {
	if err := conn.BeginBatch(); err != nil {
		return err
	}
	for _, s := range batch {
		if err := conn.WriteCommand(s.cmd); err != nil {
			conn.AbortBatch()
			return err
		}
	}
	return conn.EndBatch()
}

func (d *Dispatcher) readBatch(conn *connio.Conn, batch []*submission, log *logrus.Entry) {
	deadline := time.Now().Add(30 * time.Second)
	for i, s := range batch {
		v, err := d.readOne(conn, deadline)
		if err != nil {
			log.WithError(err).WithField("batch_offset", i).Warn("batch read failed; resolving remainder broken")
			d.resolveAllBroken(batch[i:], &TransportError{Err: err})
			return
		}
		d.metrics.observeCompleted()
		if v.IsError() {
			s.handle.resolve(resp.Value{}, &ServerError{Message: v.ErrorMessage()})
			continue
		}
		s.handle.resolve(v, nil)
	}
}

// readOne decodes exactly one non-Push top-level frame, forwarding any
// Push frames to PushHandler without consuming a reply slot (spec.md §9
// open question resolution).
func (d *Dispatcher) readOne(conn *connio.Conn, deadline time.Time) (resp.Value, error) {
	for {
		v, consumed, _, err := d.reader.TryRead(conn.View())
		if err == nil {
			conn.Advance(consumed)
			if v.Kind == resp.KindPush {
				if d.opts.PushHandler != nil {
					d.opts.PushHandler(v)
				}
				continue
			}
			return v, nil
		}
		if !errors.Is(err, resp.ErrNeedMore) {
			return resp.Value{}, err
		}
		if err := conn.Fill(deadline); err != nil {
			return resp.Value{}, err
		}
	}
}

func (d *Dispatcher) resolveAllBroken(batch []*submission, cause error) {
	for _, s := range batch {
		s.handle.resolve(resp.Value{}, errors.Join(ErrBroken, cause))
	}
}
