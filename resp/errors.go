// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resp implements a zero-copy, incremental RESP2/RESP3 codec: a
// restartable reader (Value decoding) and an allocation-sparing writer
// (command encoding).
package resp

import "errors"

var (
	// ErrInvalidArgument reports a nil/invalid buffer passed to the codec.
	ErrInvalidArgument = errors.New("resp: invalid argument")

	// ErrTooLong reports a bulk string or aggregate count exceeding the
	// codec's configured caps.
	ErrTooLong = errors.New("resp: frame exceeds configured size limit")

	// ErrNeedMore means the buffer does not yet hold a complete frame.
	// It is a control-flow signal, not a failure: the caller should read
	// more bytes from the transport, append them, and call TryRead again.
	ErrNeedMore = errors.New("resp: need more input")

	// ErrDepthExceeded reports an aggregate nesting depth beyond the
	// configured cap (default 64).
	ErrDepthExceeded = errors.New("resp: nesting depth exceeded")

	// ErrInlineCommand reports a line not beginning with a RESP type byte.
	ErrInlineCommand = errors.New("resp: inline commands are not supported")

	// ErrBareLF reports a line terminator missing its CR byte.
	ErrBareLF = errors.New("resp: bare LF is not a valid terminator")

	// ErrUnknownPrefix reports a RESP3 boolean payload that is neither 't'
	// nor 'f'. (An unrecognized type byte is reported as ErrInlineCommand.)
	ErrUnknownPrefix = errors.New("resp: unknown type prefix")

	// ErrInvalidLength reports a negative-but-not-null or otherwise
	// malformed aggregate/bulk length header.
	ErrInvalidLength = errors.New("resp: invalid length header")

	// ErrNumberOverflow reports a decimal integer (an integer Frame or a
	// bulk/aggregate length header) with more digits than fit in an int64.
	ErrNumberOverflow = errors.New("resp: decimal integer overflows int64")
)

// ProtocolError wraps a decode failure with the offending byte position,
// so callers can log precisely what the server sent.
type ProtocolError struct {
	Reason error
	Offset int
}

func (e *ProtocolError) Error() string {
	return e.Reason.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Reason }

func protoErr(reason error, offset int) error {
	return &ProtocolError{Reason: reason, Offset: offset}
}
