// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resp

import (
	"strconv"
	"unsafe"
)

// smallIntTable holds the decimal ASCII encoding of 0..999 so the writer
// never allocates (or calls strconv) for the overwhelmingly common case of
// small command argument counts and small integer arguments.
var smallIntTable [1000]string

func init() {
	for i := range smallIntTable {
		smallIntTable[i] = strconv.Itoa(i)
	}
}

func appendDecimal(dst []byte, n int64) []byte {
	if n >= 0 && n < int64(len(smallIntTable)) {
		return append(dst, smallIntTable[n]...)
	}
	var scratch [20]byte
	return append(dst, strconv.AppendInt(scratch[:0], n, 10)...)
}

// Writer appends RESP-encoded frames into a caller-supplied buffer. It
// holds no state of its own: every method takes the destination buffer and
// returns the grown buffer, the same calling convention append() uses, so
// callers can reuse one scratch buffer across an entire batch with no
// per-command allocation.
type Writer struct{}

// NewWriter returns a stateless Writer. A Writer has no fields; its
// existence is a stylistic anchor matching the Reader/Writer pairing the
// codec's teacher uses, and a place to hang future encode-side options.
func NewWriter() *Writer { return &Writer{} }

// WriteArrayHeader appends "*<n>\r\n".
func (Writer) WriteArrayHeader(dst []byte, n int) []byte {
	dst = append(dst, '*')
	dst = appendDecimal(dst, int64(n))
	return append(dst, '\r', '\n')
}

// WriteBulkString appends "$<len>\r\n<bytes>\r\n".
func (Writer) WriteBulkString(dst []byte, b []byte) []byte {
	dst = append(dst, '$')
	dst = appendDecimal(dst, int64(len(b)))
	dst = append(dst, '\r', '\n')
	dst = append(dst, b...)
	return append(dst, '\r', '\n')
}

// WriteBulkStringNull appends "$-1\r\n".
func (Writer) WriteBulkStringNull(dst []byte) []byte {
	return append(dst, '$', '-', '1', '\r', '\n')
}

// WriteInteger appends ":<n>\r\n".
func (Writer) WriteInteger(dst []byte, n int64) []byte {
	dst = append(dst, ':')
	dst = appendDecimal(dst, n)
	return append(dst, '\r', '\n')
}

// WriteSimpleString appends "+<s>\r\n". s must not contain CR or LF.
func (Writer) WriteSimpleString(dst []byte, s string) []byte {
	dst = append(dst, '+')
	dst = append(dst, s...)
	return append(dst, '\r', '\n')
}

// WriteCommand appends a full RESP command array: the token followed by
// each argument, all encoded as bulk strings. This is the shape every
// Redis-family server expects regardless of RESP2/RESP3 negotiation —
// "Commands are always sent as arrays of bulk strings" (spec.md §6).
func (w Writer) WriteCommand(dst []byte, token string, args ...[]byte) []byte {
	dst = w.WriteArrayHeader(dst, 1+len(args))
	dst = w.WriteBulkString(dst, unsafeBytes(token))
	for _, a := range args {
		dst = w.WriteBulkString(dst, a)
	}
	return dst
}

// WriteCommandStrings is a convenience wrapper for string arguments; it
// still encodes each as a bulk string with no intermediate allocation
// beyond the unavoidable string->[]byte view.
func (w Writer) WriteCommandStrings(dst []byte, token string, args ...string) []byte {
	dst = w.WriteArrayHeader(dst, 1+len(args))
	dst = w.WriteBulkString(dst, unsafeBytes(token))
	for _, a := range args {
		dst = w.WriteBulkString(dst, unsafeBytes(a))
	}
	return dst
}

// unsafeBytes views a string as []byte without copying. Safe here because
// every caller only ever reads from the returned slice (during the
// WriteBulkString append that immediately follows) and never retains or
// mutates it — command tokens and string arguments are never written back.
func unsafeBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
