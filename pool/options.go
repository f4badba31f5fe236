// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"net"
	"path/filepath"
	"strings"
	"time"

	"code.hybscloud.com/respdrive/connio"
	"github.com/jacobsa/timeutil"
)

// Options configures a Multiplexer. Built only via functional options
// (Option func(*Options)), the teacher's idiom throughout framer's
// options.go/netopts.go.
type Options struct {
	Size int

	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	HealthCheckInterval time.Duration
	Backoff             BackoffPolicy
	MaxReconnectAttempts int // 0 means unlimited

	// Handshake runs once per newly dialed connection, before it is
	// published into a slot — the place HELLO/AUTH/SELECT (spec.md §6)
	// is sequenced by the client facade (C7).
	Handshake func(*connio.Conn) error

	ConnOptions []connio.Option

	Clock timeutil.Clock
}

var defaultOptions = Options{
	Size:                 0, // caller must set; resolved to runtime.NumCPU() by New if left 0
	ConnectTimeout:       5 * time.Second,
	CommandTimeout:       0, // no default command deadline
	HealthCheckInterval:  30 * time.Second,
	Backoff:              DefaultBackoff,
	MaxReconnectAttempts: 0,
	Clock:                timeutil.RealClock(),
}

// Option configures a Multiplexer at construction time.
type Option func(*Options)

func WithSize(n int) Option                    { return func(o *Options) { o.Size = n } }
func WithConnectTimeout(d time.Duration) Option { return func(o *Options) { o.ConnectTimeout = d } }
func WithCommandTimeout(d time.Duration) Option { return func(o *Options) { o.CommandTimeout = d } }
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *Options) { o.HealthCheckInterval = d }
}
func WithBackoff(p BackoffPolicy) Option { return func(o *Options) { o.Backoff = p } }
func WithMaxReconnectAttempts(n int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}
func WithHandshake(fn func(*connio.Conn) error) Option {
	return func(o *Options) { o.Handshake = fn }
}
func WithConnOptions(opts ...connio.Option) Option {
	return func(o *Options) { o.ConnOptions = append(o.ConnOptions, opts...) }
}
func WithClock(c timeutil.Clock) Option { return func(o *Options) { o.Clock = c } }

// isUnixAddr reports whether addr names a Unix-domain socket path rather
// than a host:port — grounded in xenking-redis.isUnixAddr: an address is
// treated as a filesystem path once it contains a path separator.
func isUnixAddr(addr string) bool {
	return strings.ContainsRune(addr, '/')
}

// normalizeAddr defaults a bare or partially-specified TCP address the way
// xenking-redis.normalizeAddr does: empty host -> localhost, empty port ->
// 6379. Unix-domain paths pass through filepath.Clean unchanged.
func normalizeAddr(addr string) string {
	if isUnixAddr(addr) {
		return filepath.Clean(addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	return net.JoinHostPort(host, port)
}
