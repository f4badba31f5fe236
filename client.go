// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package respdrive is a low-overhead RESP2/RESP3 client: a fixed pool of
// long-lived connections (pool), a pipelined command queue that coalesces
// many in-flight commands onto one connection per flush (pipeline), and a
// thin command-surface facade (this package) translating named commands
// into writer invocations handed to the queue (spec.md §4.7).
package respdrive

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"code.hybscloud.com/respdrive/connio"
	"code.hybscloud.com/respdrive/middleware"
	"code.hybscloud.com/respdrive/pipeline"
	"code.hybscloud.com/respdrive/pool"
	"code.hybscloud.com/respdrive/resp"
)

// ServerError is a well-formed RESP error reply (e.g. "-WRONGTYPE ..."),
// re-exported so callers never need to import pipeline directly.
type ServerError = pipeline.ServerError

// ErrProtocolViolation reports a command wrapper (SET, etc.) receiving a
// reply shape other than the one the RESP protocol specifies for it —
// e.g. SET's wrapper expects the simple string OK (spec.md §4.7).
var ErrProtocolViolation = errors.New("respdrive: unexpected reply shape for command wrapper")

// Options configures a Client across the full surface spec.md §6 names.
type Options struct {
	Username string
	Password string
	DB       int
	UseRESP3 bool

	// ConnectionCount is the pool size; 0 resolves to runtime.NumCPU().
	ConnectionCount int

	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	Profile         pipeline.BatchProfile
	IngressCapacity int
	Overflow        pipeline.OverflowPolicy
	CacheCapacity   int

	Backoff              pool.BackoffPolicy
	MaxReconnectAttempts int
	HealthCheckInterval  time.Duration

	// AutoReconnect, if false, limits a failed slot to exactly one
	// replacement attempt instead of retrying indefinitely on Backoff.
	AutoReconnect bool

	Middleware []middleware.Middleware

	// MetricsRegisterer, if set, has the pool's and pipeline's
	// prometheus.Collectors registered against it at Dial time, so an
	// embedding application gets spec.md §6's observable counters without
	// having to call Client.Metrics() itself.
	MetricsRegisterer prometheus.Registerer

	// MetricsNamespace prefixes every collected metric name; defaults to
	// "respdrive".
	MetricsNamespace string
}

var defaultOptions = Options{
	UseRESP3:            true,
	ConnectTimeout:      5 * time.Second,
	Profile:             pipeline.DefaultProfile,
	IngressCapacity:     4096,
	Overflow:            pipeline.OverflowWait,
	CacheCapacity:       1000,
	Backoff:             pool.DefaultBackoff,
	HealthCheckInterval: 30 * time.Second,
	AutoReconnect:       true,
}

// Option configures a Client at Dial time.
type Option func(*Options)

func WithCredentials(username, password string) Option {
	return func(o *Options) { o.Username, o.Password = username, password }
}
func WithDB(n int) Option                  { return func(o *Options) { o.DB = n } }
func WithRESP3(enabled bool) Option        { return func(o *Options) { o.UseRESP3 = enabled } }
func WithConnectionCount(n int) Option     { return func(o *Options) { o.ConnectionCount = n } }
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}
func WithCommandTimeout(d time.Duration) Option {
	return func(o *Options) { o.CommandTimeout = d }
}
func WithBatchProfile(p pipeline.BatchProfile) Option { return func(o *Options) { o.Profile = p } }
func WithIngressCapacity(n int) Option                { return func(o *Options) { o.IngressCapacity = n } }
func WithOverflowPolicy(p pipeline.OverflowPolicy) Option {
	return func(o *Options) { o.Overflow = p }
}
func WithCacheCapacity(n int) Option { return func(o *Options) { o.CacheCapacity = n } }
func WithBackoff(b pool.BackoffPolicy) Option {
	return func(o *Options) { o.Backoff = b }
}
func WithMaxReconnectAttempts(n int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *Options) { o.HealthCheckInterval = d }
}
func WithAutoReconnect(enabled bool) Option { return func(o *Options) { o.AutoReconnect = enabled } }
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *Options) { o.Middleware = append(o.Middleware, mw...) }
}
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) { o.MetricsRegisterer = reg }
}
func WithMetricsNamespace(ns string) Option {
	return func(o *Options) { o.MetricsNamespace = ns }
}

// Client is a pooled, pipelined RESP connection with a command-shortcut
// surface. The zero value is not usable; construct with Dial.
type Client struct {
	mp          *pool.Multiplexer
	d           *pipeline.Dispatcher
	poolMetrics *pool.Metrics
	chain       *middleware.Chain
	opts        Options
}

// Dial opens (or lazily dials) ConnectionCount connections to addr,
// sequencing HELLO/AUTH/SELECT on each per the configured Options, and
// starts the pipelined dispatcher and health-check timer.
func Dial(addr string, opts ...Option) (*Client, error) {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.ConnectionCount <= 0 {
		o.ConnectionCount = runtime.NumCPU()
	}

	maxAttempts := o.MaxReconnectAttempts
	if !o.AutoReconnect {
		maxAttempts = 1
	}

	mp, err := pool.New(addr,
		pool.WithSize(o.ConnectionCount),
		pool.WithConnectTimeout(o.ConnectTimeout),
		pool.WithCommandTimeout(o.CommandTimeout),
		pool.WithHealthCheckInterval(o.HealthCheckInterval),
		pool.WithBackoff(o.Backoff),
		pool.WithMaxReconnectAttempts(maxAttempts),
		pool.WithHandshake(handshakeFor(o)),
	)
	if err != nil {
		return nil, err
	}

	d := pipeline.New(mp,
		pipeline.WithProfile(o.Profile),
		pipeline.WithIngressCapacity(o.IngressCapacity),
		pipeline.WithOverflowPolicy(o.Overflow),
		pipeline.WithCommandTimeout(o.CommandTimeout),
		pipeline.WithCacheCapacity(o.CacheCapacity),
		pipeline.WithMetricsNamespace(o.MetricsNamespace),
	)

	c := &Client{mp: mp, d: d, poolMetrics: pool.NewMetrics(o.MetricsNamespace, mp), opts: o}
	c.chain = middleware.New(c.submitTerminal)
	if len(o.Middleware) > 0 {
		c.chain.Use(o.Middleware...)
	}
	if o.MetricsRegisterer != nil {
		if err := o.MetricsRegisterer.Register(c.poolMetrics); err != nil {
			_ = c.Close()
			return nil, err
		}
		if err := o.MetricsRegisterer.Register(c.d.Metrics()); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Metrics returns the pool's and pipeline's prometheus.Collectors —
// spec.md §6's observable counters (connected-vs-total connections,
// reconnect count; submitted/completed/batches/average batch size/cache
// size) — for an embedding application to register itself, as an
// alternative to WithMetricsRegisterer.
func (c *Client) Metrics() (*pool.Metrics, *pipeline.Metrics) {
	return c.poolMetrics, c.d.Metrics()
}

// handshakeFor builds the HELLO/AUTH/SELECT sequence (spec.md §6) run once
// per newly dialed connection, before it is published into a pool slot.
func handshakeFor(o Options) func(*connio.Conn) error {
	if !o.UseRESP3 && o.Username == "" && o.Password == "" && o.DB == 0 {
		return nil
	}
	return func(c *connio.Conn) error {
		w := resp.NewWriter()
		r := resp.NewReader()

		if o.UseRESP3 {
			// A pre-RESP3 server replies with a protocol error to an
			// unrecognized command; that is not fatal to the connection —
			// spec.md §6 says to fall back to RESP2 and continue.
			_, _ = handshakeRoundTrip(c, w, r, "HELLO", []byte("3"))
		}

		if o.Password != "" {
			args := make([][]byte, 0, 2)
			if o.Username != "" {
				args = append(args, []byte(o.Username))
			}
			args = append(args, []byte(o.Password))
			v, err := handshakeRoundTrip(c, w, r, "AUTH", args...)
			if err != nil {
				return err
			}
			if v.IsError() {
				return &ServerError{Message: v.ErrorMessage()}
			}
		}

		if o.DB != 0 {
			v, err := handshakeRoundTrip(c, w, r, "SELECT", []byte(strconv.Itoa(o.DB)))
			if err != nil {
				return err
			}
			if v.IsError() {
				return &ServerError{Message: v.ErrorMessage()}
			}
		}
		return nil
	}
}

// handshakeRoundTrip writes one command and reads its reply synchronously,
// outside the batching machinery — the handshake runs before the
// connection is published into a slot, so there is nothing to pipeline
// against yet.
func handshakeRoundTrip(c *connio.Conn, w *resp.Writer, r *resp.Reader, token string, args ...[]byte) (resp.Value, error) {
	cmd := w.WriteCommand(nil, token, args...)
	if err := c.BeginBatch(); err != nil {
		return resp.Value{}, err
	}
	if err := c.WriteCommand(cmd); err != nil {
		c.AbortBatch()
		return resp.Value{}, err
	}
	if err := c.EndBatch(); err != nil {
		return resp.Value{}, err
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		v, consumed, _, err := r.TryRead(c.View())
		if err == nil {
			c.Advance(consumed)
			// A server error reply (e.g. "unknown command HELLO" from a
			// pre-RESP3 server) is a successful parse, not a transport
			// failure (spec.md §7) — the caller decides what to do with it.
			return v, nil
		}
		if !errors.Is(err, resp.ErrNeedMore) {
			return resp.Value{}, err
		}
		if err := c.Fill(deadline); err != nil {
			return resp.Value{}, err
		}
	}
}

// submitTerminal is the Chain's terminal Next: it hands the command to the
// pipelined dispatcher.
func (c *Client) submitTerminal(ctx *middleware.Context) (resp.Value, error) {
	return c.d.Submit(ctx.Ctx, ctx.Token, ctx.Args...)
}

// Do submits token/args through the middleware chain and the pipelined
// dispatcher, returning the raw Frame.
func (c *Client) Do(ctx context.Context, token string, args ...[]byte) (resp.Value, error) {
	mctx := &middleware.Context{Ctx: ctx, Token: token, Args: args}
	return c.chain.Run(mctx)
}

// Close stops the dispatcher and closes every pooled connection.
func (c *Client) Close() error {
	_ = c.d.Close()
	return c.mp.Close()
}

func bulk(s string) []byte { return []byte(s) }

// Ping issues PING and returns the server's reply string.
func (c *Client) Ping(ctx context.Context) (string, error) {
	v, err := c.Do(ctx, "PING")
	if err != nil {
		return "", err
	}
	s, _ := v.AsString()
	return s, nil
}

// Get returns the value for key, or a null Value if it does not exist.
func (c *Client) Get(ctx context.Context, key string) (resp.Value, error) {
	return c.Do(ctx, "GET", bulk(key))
}

// Set stores value under key, verifying the server's reply is the
// case-insensitive simple string OK (spec.md §4.7).
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	v, err := c.Do(ctx, "SET", bulk(key), value)
	if err != nil {
		return err
	}
	s, ok := v.AsString()
	if !ok || !strings.EqualFold(s, "OK") {
		return ErrProtocolViolation
	}
	return nil
}

// Del deletes the given keys, returning the number removed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	return c.doInteger(ctx, "DEL", keys...)
}

// Incr increments key by one and returns its new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.doInteger(ctx, "INCR", key)
}

// Exists reports how many of the given keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return c.doInteger(ctx, "EXISTS", keys...)
}

// TTL returns the remaining time to live for key, in seconds (-1 if the key
// has no expiry, -2 if it does not exist).
func (c *Client) TTL(ctx context.Context, key string) (int64, error) {
	return c.doInteger(ctx, "TTL", key)
}

// Expire sets key's time to live, in seconds, returning whether it was set.
func (c *Client) Expire(ctx context.Context, key string, seconds int64) (bool, error) {
	n, err := c.doInteger(ctx, "EXPIRE", key, strconv.FormatInt(seconds, 10))
	return n == 1, err
}

// HSet sets field to value within the hash stored at key.
func (c *Client) HSet(ctx context.Context, key, field string, value []byte) (int64, error) {
	v, err := c.Do(ctx, "HSET", bulk(key), bulk(field), value)
	if err != nil {
		return 0, err
	}
	return asInteger(v)
}

// HGet returns the value of field within the hash stored at key.
func (c *Client) HGet(ctx context.Context, key, field string) (resp.Value, error) {
	return c.Do(ctx, "HGET", bulk(key), bulk(field))
}

// LPush prepends values to the list stored at key, returning its new length.
func (c *Client) LPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	args := make([][]byte, 0, len(values)+1)
	args = append(args, bulk(key))
	args = append(args, values...)
	v, err := c.Do(ctx, "LPUSH", args...)
	if err != nil {
		return 0, err
	}
	return asInteger(v)
}

// RPop removes and returns the last element of the list stored at key.
func (c *Client) RPop(ctx context.Context, key string) (resp.Value, error) {
	return c.Do(ctx, "RPOP", bulk(key))
}

// SAdd adds members to the set stored at key, returning how many were new.
func (c *Client) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	args := make([][]byte, 0, len(members)+1)
	args = append(args, bulk(key))
	args = append(args, members...)
	v, err := c.Do(ctx, "SADD", args...)
	if err != nil {
		return 0, err
	}
	return asInteger(v)
}

// SRem removes members from the set stored at key, returning how many were
// actually removed.
func (c *Client) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	args := make([][]byte, 0, len(members)+1)
	args = append(args, bulk(key))
	args = append(args, members...)
	v, err := c.Do(ctx, "SREM", args...)
	if err != nil {
		return 0, err
	}
	return asInteger(v)
}

func (c *Client) doInteger(ctx context.Context, token string, strArgs ...string) (int64, error) {
	args := make([][]byte, len(strArgs))
	for i, s := range strArgs {
		args[i] = bulk(s)
	}
	v, err := c.Do(ctx, token, args...)
	if err != nil {
		return 0, err
	}
	return asInteger(v)
}

func asInteger(v resp.Value) (int64, error) {
	n, ok := v.AsInteger()
	if !ok {
		if v.IsError() {
			return 0, &ServerError{Message: v.ErrorMessage()}
		}
		return 0, ErrProtocolViolation
	}
	return n, nil
}
