// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"time"

	"code.hybscloud.com/respdrive/resp"
)

// BatchProfile bounds how many submissions the dispatcher coalesces into
// one connio.Conn batch, and how long it waits for the batch to fill
// before flushing a partial one (spec.md §4.6).
type BatchProfile struct {
	MaxBatch     int
	BatchTimeout time.Duration
}

var (
	// DefaultProfile balances latency and throughput for a mixed workload.
	DefaultProfile = BatchProfile{MaxBatch: 64, BatchTimeout: 500 * time.Microsecond}

	// HighThroughputProfile favors larger batches at the cost of per-command
	// latency — bulk loads, migrations, analytics scans.
	HighThroughputProfile = BatchProfile{MaxBatch: 1024, BatchTimeout: 2 * time.Millisecond}

	// LowLatencyProfile flushes almost immediately, coalescing only what
	// already queued up by the time the dispatcher looks — interactive,
	// latency-sensitive request paths.
	LowLatencyProfile = BatchProfile{MaxBatch: 8, BatchTimeout: 20 * time.Microsecond}
)

// OverflowPolicy governs Submit's behavior when the ingress queue is full.
type OverflowPolicy uint8

const (
	// OverflowWait blocks the caller (subject to ctx) until space frees up.
	OverflowWait OverflowPolicy = iota
	// OverflowError returns ErrQueueOverflow immediately.
	OverflowError
	// OverflowDropOldest evicts the oldest still-queued submission
	// (resolving it with ErrQueueOverflow) to make room for the new one.
	OverflowDropOldest
)

// Options configures a Dispatcher.
type Options struct {
	Profile BatchProfile

	// IngressCapacity bounds the submission queue depth.
	IngressCapacity int
	Overflow        OverflowPolicy

	// CommandTimeout bounds how long a Submit call awaits its reply before
	// resolving ErrTimedOut on the caller's side; zero means no timeout.
	CommandTimeout time.Duration

	// CacheCapacity bounds the pre-encoded command cache (0 -> default 1000).
	CacheCapacity int

	// PushHandler, if set, is invoked synchronously from the dispatcher's
	// read loop whenever a RESP3 Push frame arrives outside the context of
	// an expected reply (spec.md §9 open question resolution). Push frames
	// never consume a pending slot in the batch's correlation list.
	PushHandler func(value resp.Value)

	// MetricsNamespace prefixes the Dispatcher's collected metric names;
	// empty resolves to "respdrive" (see pipeline.Metrics).
	MetricsNamespace string
}

var defaultOptions = Options{
	Profile:         DefaultProfile,
	IngressCapacity: 4096,
	Overflow:        OverflowWait,
	CacheCapacity:   1000,
}

// Option configures a Dispatcher at construction time.
type Option func(*Options)

func WithProfile(p BatchProfile) Option        { return func(o *Options) { o.Profile = p } }
func WithIngressCapacity(n int) Option         { return func(o *Options) { o.IngressCapacity = n } }
func WithOverflowPolicy(p OverflowPolicy) Option { return func(o *Options) { o.Overflow = p } }
func WithCommandTimeout(d time.Duration) Option { return func(o *Options) { o.CommandTimeout = d } }
func WithCacheCapacity(n int) Option           { return func(o *Options) { o.CacheCapacity = n } }
func WithMetricsNamespace(ns string) Option    { return func(o *Options) { o.MetricsNamespace = ns } }
