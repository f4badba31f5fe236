// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/respdrive/pool"
	"code.hybscloud.com/respdrive/resp"
)

// startRespServer runs accept for every inbound connection on an ephemeral
// local TCP port, mirroring pool's startEchoServer but letting each test
// script its own server-side RESP behavior.
func startRespServer(t *testing.T, accept func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go accept(conn)
		}
	}()
	return ln.Addr().String()
}

// readCommand decodes one RESP command array of bulk strings off r/conn,
// blocking (reading more off conn) until a full frame arrives.
func readCommand(r *resp.Reader, conn net.Conn, buf []byte) ([]string, []byte, error) {
	tmp := make([]byte, 4096)
	for {
		v, consumed, _, err := r.TryRead(buf)
		if err == nil {
			out := make([]string, len(v.Items))
			for i, item := range v.Items {
				s, _ := item.AsString()
				out[i] = s
			}
			return out, buf[consumed:], nil
		}
		if !errors.Is(err, resp.ErrNeedMore) {
			return nil, nil, err
		}
		n, rerr := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return nil, nil, rerr
		}
	}
}

func newTestMultiplexer(t *testing.T, addr string, size int) *pool.Multiplexer {
	t.Helper()
	mp, err := pool.New(addr, pool.WithSize(size), pool.WithHealthCheckInterval(time.Hour))
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(func() { _ = mp.Close() })
	return mp
}

// TestDispatcher_SubmitFIFO verifies that concurrently-submitted commands
// are correlated with their own replies even when several share one batch.
func TestDispatcher_SubmitFIFO(t *testing.T) {
	addr := startRespServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := resp.NewReader()
		w := resp.NewWriter()
		var buf []byte
		for {
			args, rest, err := readCommand(r, conn, buf)
			if err != nil {
				return
			}
			buf = rest
			reply := w.WriteBulkString(nil, []byte(args[len(args)-1]))
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	})

	mp := newTestMultiplexer(t, addr, 1)
	d := New(mp, WithProfile(BatchProfile{MaxBatch: 8, BatchTimeout: 5 * time.Millisecond}))
	defer d.Close()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	vals := make([]resp.Value, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			vals[i], errs[i] = d.Submit(ctx, "ECHO", []byte(itoa(i)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Submit %d: %v", i, errs[i])
		}
		got, ok := vals[i].AsString()
		if !ok || got != itoa(i) {
			t.Fatalf("Submit %d: got %q, want %q", i, got, itoa(i))
		}
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b [20]byte
	p := len(b)
	for i > 0 {
		p--
		b[p] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		p--
		b[p] = '-'
	}
	return string(b[p:])
}

// TestDispatcher_BatchTimeoutFlushesPartial verifies a single submission
// (one that will never fill MaxBatch on its own) still completes promptly,
// bounded by BatchTimeout rather than waiting for more traffic.
func TestDispatcher_BatchTimeoutFlushesPartial(t *testing.T) {
	addr := startRespServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := resp.NewReader()
		var buf []byte
		for {
			_, rest, err := readCommand(r, conn, buf)
			if err != nil {
				return
			}
			buf = rest
			if _, err := conn.Write([]byte("+PONG\r\n")); err != nil {
				return
			}
		}
	})

	mp := newTestMultiplexer(t, addr, 1)
	d := New(mp, WithProfile(BatchProfile{MaxBatch: 100, BatchTimeout: 20 * time.Millisecond}))
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	v, err := d.Submit(ctx, "PING")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Submit took %v, batch timeout should have flushed it quickly", elapsed)
	}
	if s, _ := v.AsString(); s != "PONG" {
		t.Fatalf("reply=%q want PONG", s)
	}
}

// TestDispatcher_PushFrameDelivered verifies an out-of-band RESP3 push
// frame ahead of a command's reply reaches PushHandler and does not
// consume that command's own correlation slot.
func TestDispatcher_PushFrameDelivered(t *testing.T) {
	addr := startRespServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := resp.NewReader()
		var buf []byte
		for {
			_, rest, err := readCommand(r, conn, buf)
			if err != nil {
				return
			}
			buf = rest
			if _, err := conn.Write([]byte(">1\r\n+invalidate\r\n+OK\r\n")); err != nil {
				return
			}
		}
	})

	pushed := make(chan resp.Value, 1)
	mp := newTestMultiplexer(t, addr, 1)
	d := New(mp,
		WithProfile(BatchProfile{MaxBatch: 8, BatchTimeout: 5 * time.Millisecond}),
		func(o *Options) {
			o.PushHandler = func(v resp.Value) { pushed <- v }
		},
	)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := d.Submit(ctx, "SUBSCRIBE", []byte("ch"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s, _ := v.AsString(); s != "OK" {
		t.Fatalf("reply=%q want OK", s)
	}
	select {
	case pv := <-pushed:
		if pv.Kind != resp.KindPush || len(pv.Items) != 1 {
			t.Fatalf("push value malformed: %+v", pv)
		}
	case <-time.After(time.Second):
		t.Fatal("PushHandler was never invoked")
	}
}

// TestDispatcher_BrokenConnectionResolvesPending verifies that when the
// wire dies mid-batch, every handle still pending in that batch resolves
// with a Broken error rather than hanging forever.
func TestDispatcher_BrokenConnectionResolvesPending(t *testing.T) {
	addr := startRespServer(t, func(conn net.Conn) {
		// Accept the command bytes, then go silent and close — simulating a
		// server that died mid-reply.
		buf := bufio.NewReader(conn)
		_, _ = buf.ReadByte()
		_ = conn.Close()
	})

	mp := newTestMultiplexer(t, addr, 1)
	d := New(mp, WithProfile(BatchProfile{MaxBatch: 8, BatchTimeout: 5 * time.Millisecond}))
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := d.Submit(ctx, "GET", []byte("k"))
	if err == nil {
		t.Fatal("expected an error after the connection died mid-batch")
	}
	if !errors.Is(err, ErrBroken) {
		t.Fatalf("err=%v, want wrapping ErrBroken", err)
	}
}

// TestDispatcher_OverflowErrorRejectsWhenFull verifies OverflowError
// returns ErrQueueOverflow once the ingress queue and the in-flight batch
// are both occupied, instead of blocking the caller.
func TestDispatcher_OverflowErrorRejectsWhenFull(t *testing.T) {
	addr := startRespServer(t, func(conn net.Conn) {
		defer conn.Close()
		// Read the bytes but never reply, so the dispatcher's one batch
		// stays permanently in flight for the life of the test.
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	})

	mp := newTestMultiplexer(t, addr, 1)
	d := New(mp,
		WithProfile(BatchProfile{MaxBatch: 1, BatchTimeout: time.Millisecond}),
		WithIngressCapacity(1),
		WithOverflowPolicy(OverflowError),
	)
	defer d.Close()

	// Occupies the dispatcher's in-flight batch (the server never replies).
	if _, err := d.SubmitFireAndForget(context.Background(), "GET", []byte("a")); err != nil {
		t.Fatalf("first SubmitFireAndForget: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the dispatcher pull it off ingress

	// Fills the now-empty ingress channel (capacity 1).
	if _, err := d.SubmitFireAndForget(context.Background(), "GET", []byte("b")); err != nil {
		t.Fatalf("second SubmitFireAndForget: %v", err)
	}

	if _, err := d.SubmitFireAndForget(context.Background(), "GET", []byte("c")); !errors.Is(err, ErrQueueOverflow) {
		t.Fatalf("third SubmitFireAndForget: err=%v, want ErrQueueOverflow", err)
	}
}
