// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package middleware implements the interceptor chain (spec.md §4.8): an
// ordered list of wrappers around the terminal call into pipeline.Dispatcher,
// each able to observe or rewrite the outgoing command and the Frame that
// comes back, or short-circuit the chain entirely.
package middleware

import (
	"context"

	"code.hybscloud.com/respdrive/resp"
)

// Context carries one command through the chain. Args holds already
// bulk-string-ready argument bytes; Props is a free-form bag middleware uses
// to pass state to later links (a parsed deadline, a trace ID, a cache key).
// Ctx is the caller's context.Context, honored by the terminal submission
// for cancellation and deadlines.
type Context struct {
	Ctx   context.Context
	Token string
	Args  [][]byte
	Props map[string]any
}

// Set stores a property, allocating Props lazily.
func (c *Context) Set(key string, value any) {
	if c.Props == nil {
		c.Props = make(map[string]any)
	}
	c.Props[key] = value
}

// Get retrieves a property previously stored with Set.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Props[key]
	return v, ok
}

// Next is the continuation a Middleware calls to run the rest of the chain.
// The terminal Next issues the submission through pipeline.Dispatcher.
type Next func(ctx *Context) (resp.Value, error)

// Middleware wraps a Next. Returning without calling next short-circuits the
// chain with a synthesized Value/error (e.g. a circuit-open error Frame).
type Middleware func(ctx *Context, next Next) (resp.Value, error)

// Chain is an ordered, immutable list of Middleware wrapping a terminal Next.
// Built once at startup; ordering follows registration (first Use runs
// outermost, closest to the caller).
type Chain struct {
	links    []Middleware
	terminal Next
}

// New returns a Chain that, with no links registered, calls terminal
// directly.
func New(terminal Next) *Chain {
	return &Chain{terminal: terminal}
}

// Use appends one or more Middleware to the chain; links run in
// registration order, so the first-registered link is outermost.
func (c *Chain) Use(mw ...Middleware) *Chain {
	c.links = append(c.links, mw...)
	return c
}

// Run executes the chain for ctx, innermost link calling into terminal.
func (c *Chain) Run(ctx *Context) (resp.Value, error) {
	next := c.terminal
	for i := len(c.links) - 1; i >= 0; i-- {
		mw := c.links[i]
		prevNext := next
		next = func(ctx *Context) (resp.Value, error) { return mw(ctx, prevNext) }
	}
	return next(ctx)
}
