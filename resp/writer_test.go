// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resp

import "testing"

func TestWriter_Scalars(t *testing.T) {
	w := NewWriter()

	cases := []struct {
		name string
		buf  []byte
		want string
	}{
		{"array header", w.WriteArrayHeader(nil, 3), "*3\r\n"},
		{"bulk string", w.WriteBulkString(nil, []byte("hello")), "$5\r\nhello\r\n"},
		{"empty bulk string", w.WriteBulkString(nil, []byte{}), "$0\r\n\r\n"},
		{"null bulk string", w.WriteBulkStringNull(nil), "$-1\r\n"},
		{"integer", w.WriteInteger(nil, 42), ":42\r\n"},
		{"negative integer", w.WriteInteger(nil, -7), ":-7\r\n"},
		{"large integer", w.WriteInteger(nil, 1<<40), ":1099511627776\r\n"},
		{"simple string", w.WriteSimpleString(nil, "OK"), "+OK\r\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if string(c.buf) != c.want {
				t.Fatalf("got %q want %q", c.buf, c.want)
			}
		})
	}
}

func TestWriter_WriteCommand(t *testing.T) {
	w := NewWriter()
	got := w.WriteCommand(nil, "SET", []byte("key"), []byte("value"))
	want := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestWriter_WriteCommandStrings(t *testing.T) {
	w := NewWriter()
	got := w.WriteCommandStrings(nil, "GET", "key")
	want := "*2\r\n$3\r\nGET\r\n$3\r\nkey\r\n"
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestWriter_AppendsToExistingBuffer(t *testing.T) {
	w := NewWriter()
	buf := append([]byte(nil), "prefix:"...)
	buf = w.WriteSimpleString(buf, "PONG")
	if string(buf) != "prefix:+PONG\r\n" {
		t.Fatalf("got %q", buf)
	}
}

// TestWriter_RoundTrip verifies spec.md TESTABLE PROPERTIES #2: a command
// encoded by Writer decodes back via Reader to the equivalent array of
// bulk strings.
func TestWriter_RoundTrip(t *testing.T) {
	w := NewWriter()
	encoded := w.WriteCommand(nil, "MSET", []byte("a"), []byte("1"), []byte("b"), []byte("2"))

	r := NewReader()
	v, consumed, _, err := r.TryRead(encoded)
	if err != nil {
		t.Fatalf("TryRead: %v", err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed=%d want=%d", consumed, len(encoded))
	}
	want := []string{"MSET", "a", "1", "b", "2"}
	if len(v.Items) != len(want) {
		t.Fatalf("len(items)=%d want=%d", len(v.Items), len(want))
	}
	for i, w := range want {
		if s, _ := v.Items[i].AsString(); s != w {
			t.Fatalf("items[%d]=%q want=%q", i, s, w)
		}
	}
}

func TestAppendDecimal_SmallAndLarge(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1000"},
		{-1, "-1"},
		{-1000, "-1000"},
	}
	for _, c := range cases {
		got := string(appendDecimal(nil, c.n))
		if got != c.want {
			t.Fatalf("appendDecimal(%d)=%q want=%q", c.n, got, c.want)
		}
	}
}

func TestUnsafeBytes(t *testing.T) {
	s := "hello"
	b := unsafeBytes(s)
	if string(b) != s {
		t.Fatalf("unsafeBytes(%q)=%q", s, b)
	}
	if unsafeBytes("") != nil {
		t.Fatal("unsafeBytes(\"\") should be nil")
	}
}
