// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"context"
	"errors"
	"testing"

	"code.hybscloud.com/respdrive/resp"
)

func terminalFor(v resp.Value, err error) Next {
	return func(ctx *Context) (resp.Value, error) { return v, err }
}

func record(order *[]string, name string) Middleware {
	return func(ctx *Context, next Next) (resp.Value, error) {
		*order = append(*order, name+":in")
		v, err := next(ctx)
		*order = append(*order, name+":out")
		return v, err
	}
}

func TestChain_NoLinksCallsTerminalDirectly(t *testing.T) {
	want := resp.NewSimpleString([]byte("OK"))
	c := New(terminalFor(want, nil))
	got, err := c.Run(&Context{Ctx: context.Background(), Token: "PING"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s, _ := got.AsString(); s != "OK" {
		t.Fatalf("got %q, want OK", s)
	}
}

// TestChain_OrderingOutermostFirst verifies the first-registered Middleware
// runs outermost, so it sees the terminal's result last.
func TestChain_OrderingOutermostFirst(t *testing.T) {
	var order []string
	c := New(terminalFor(resp.NewSimpleString([]byte("OK")), nil))
	c.Use(record(&order, "a"), record(&order, "b"))

	if _, err := c.Run(&Context{Ctx: context.Background(), Token: "PING"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"a:in", "b:in", "b:out", "a:out"}
	if len(order) != len(want) {
		t.Fatalf("order=%v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v, want %v", order, want)
		}
	}
}

// TestChain_ShortCircuit verifies a Middleware that returns without calling
// next stops the chain: the terminal and any inner links never run.
func TestChain_ShortCircuit(t *testing.T) {
	var order []string
	terminalCalled := false
	c := New(func(ctx *Context) (resp.Value, error) {
		terminalCalled = true
		return resp.NewSimpleString([]byte("OK")), nil
	})
	sentinel := errors.New("circuit open")
	c.Use(
		record(&order, "outer"),
		func(ctx *Context, next Next) (resp.Value, error) {
			order = append(order, "blocker")
			return resp.Value{}, sentinel
		},
		record(&order, "inner"),
	)

	_, err := c.Run(&Context{Ctx: context.Background(), Token: "PING"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err=%v, want sentinel", err)
	}
	if terminalCalled {
		t.Fatal("terminal should not have been called")
	}
	want := []string{"outer:in", "blocker", "outer:out"}
	if len(order) != len(want) {
		t.Fatalf("order=%v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v, want %v", order, want)
		}
	}
}

func TestChain_ContextPropsRoundTrip(t *testing.T) {
	c := New(func(ctx *Context) (resp.Value, error) {
		v, ok := ctx.Get("traceID")
		if !ok || v != "abc" {
			t.Fatalf("traceID=%v,%v want abc,true", v, ok)
		}
		return resp.Value{}, nil
	})
	c.Use(func(ctx *Context, next Next) (resp.Value, error) {
		ctx.Set("traceID", "abc")
		return next(ctx)
	})
	if _, err := c.Run(&Context{Ctx: context.Background(), Token: "GET"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
