// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package connio

// Options configures a Conn. Constructed only via functional options
// (Option func(*Options)), the teacher's own idiom (framer's options.go) —
// no file-based config loader, consistent with spec.md's non-goal on
// configuration loaders.
type Options struct {
	// ReadBufferSize is the initial capacity of the read buffer. It grows
	// (doubling) up to ReadBufferMax when a single frame does not fit.
	ReadBufferSize int

	// ReadBufferMax bounds how large the read buffer may grow before a
	// non-draining frame is treated as ErrReadBufferFull.
	ReadBufferMax int

	// WriteBufferSize is the initial capacity of the batch write buffer.
	WriteBufferSize int
}

var defaultOptions = Options{
	ReadBufferSize:  64 << 10, // 64 KiB, spec.md §4.4 default
	ReadBufferMax:   16 << 20, // 16 MiB
	WriteBufferSize: 64 << 10,
}

// Option configures a Conn at construction time.
type Option func(*Options)

// WithReadBufferSize overrides the initial read buffer capacity.
func WithReadBufferSize(n int) Option {
	return func(o *Options) { o.ReadBufferSize = n }
}

// WithReadBufferMax overrides the read buffer's growth cap.
func WithReadBufferMax(n int) Option {
	return func(o *Options) { o.ReadBufferMax = n }
}

// WithWriteBufferSize overrides the initial write (batch) buffer capacity.
func WithWriteBufferSize(n int) Option {
	return func(o *Options) { o.WriteBufferSize = n }
}
