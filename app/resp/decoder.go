package resp

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

const (
	arrayPrefix        = '*'
	bulkStringPrefix   = '$'
	simpleStringPrefix = '+'
)

// Protocol limits. A frame exceeding any of them is rejected as malformed
// instead of growing the connection buffer without bound.
const (
	MaxArrayLen = 1024 * 1024
	MaxBulkLen  = 512 * 1024 * 1024
	MaxLineLen  = 64 * 1024
	// Maximum array nesting. Client requests are flat arrays.
	MaxDepth    = 32
)

var (
	ErrProtocol   = errors.New("protocol error")
	ErrIncomplete = errors.New("incomplete frame")
)

var crlf = []byte("\r\n")

// Decode decodes a single RESP value starting at buf[*cursor].
//
// On success the cursor is moved past the consumed bytes. On failure it is
// left untouched. ErrIncomplete means buf ends before the frame does and the
// caller should retry once more bytes are available; any error wrapping
// ErrProtocol means the stream can no longer be trusted.
func Decode(buf []byte, cursor *int) (Value, error) {
	pos := *cursor

	value, err := decode(buf, &pos, 0)

	if err != nil {
		return Value{}, err
	}

	*cursor = pos

	return value, nil
}

func decode(buf []byte, pos *int, depth int) (Value, error) {
	if *pos >= len(buf) {
		return Value{}, ErrIncomplete
	}

	prefix := buf[*pos]

	switch prefix {
	case arrayPrefix:
		return decodeArray(buf, pos, depth+1)

	case bulkStringPrefix:
		return decodeBulkString(buf, pos)

	case simpleStringPrefix:
		return decodeSimpleString(buf, pos)

	default:
		return Value{}, fmt.Errorf("%w: unrecognized RESP type tag %q", ErrProtocol, prefix)
	}
}

func decodeArray(buf []byte, pos *int, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, fmt.Errorf("%w: arrays nested deeper than %d", ErrProtocol, MaxDepth)
	}

	*pos++

	length, err := readLength(buf, pos)

	if err != nil {
		return Value{}, fmt.Errorf("array header: %w", err)
	}

	if length < 0 {
		return Value{Kind: Array, Len: -1}, nil
	}

	if length > MaxArrayLen {
		return Value{}, fmt.Errorf("%w: array length %d exceeds limit %d", ErrProtocol, length, MaxArrayLen)
	}

	elems := make([]Value, 0, min(length, 16))

	for i := range length {
		elem, err := decode(buf, pos, depth)

		if errors.Is(err, ErrIncomplete) {
			return Value{}, err
		}

		if err != nil {
			return Value{}, fmt.Errorf("array element %d: %w", i, err)
		}

		elems = append(elems, elem)
	}

	return Value{Kind: Array, Elems: elems, Len: length}, nil
}

func decodeBulkString(buf []byte, pos *int) (Value, error) {
	*pos++

	length, err := readLength(buf, pos)

	if err != nil {
		return Value{}, fmt.Errorf("bulk string header: %w", err)
	}

	if length < 0 {
		return NewNullBulkString(), nil
	}

	if length > MaxBulkLen {
		return Value{}, fmt.Errorf("%w: bulk string length %d exceeds limit %d", ErrProtocol, length, MaxBulkLen)
	}

	end := *pos + length

	if end+len(crlf) > len(buf) {
		return Value{}, ErrIncomplete
	}

	if !bytes.Equal(buf[end:end+len(crlf)], crlf) {
		return Value{}, fmt.Errorf("%w: bulk string of length %d is not terminated by CRLF", ErrProtocol, length)
	}

	// The connection buffer is reused once a frame is consumed, so the
	// payload must not alias it.
	payload := bytes.Clone(buf[*pos:end])
	*pos = end + len(crlf)

	return Value{Kind: BulkString, Str: payload, Len: length}, nil
}

func decodeSimpleString(buf []byte, pos *int) (Value, error) {
	*pos++

	line, err := readLine(buf, pos)

	if err != nil {
		return Value{}, err
	}

	return Value{Kind: SimpleString, Str: bytes.Clone(line), Len: len(line)}, nil
}

// readLine returns the bytes between *pos and the next CRLF and moves pos
// past the delimiter.
func readLine(buf []byte, pos *int) ([]byte, error) {
	start := *pos
	idx := bytes.Index(buf[start:], crlf)

	if idx < 0 {
		if len(buf)-start > MaxLineLen {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrProtocol, MaxLineLen)
		}

		return nil, ErrIncomplete
	}

	if idx > MaxLineLen {
		return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrProtocol, MaxLineLen)
	}

	*pos = start + idx + len(crlf)

	return buf[start : start+idx], nil
}

func readLength(buf []byte, pos *int) (int, error) {
	line, err := readLine(buf, pos)

	if err != nil {
		return 0, err
	}

	length, ok := parseLength(line)

	if !ok {
		return 0, fmt.Errorf("%w: malformed length %q", ErrProtocol, line)
	}

	return length, nil
}

// parseLength accepts bare decimal digits, or a minus sign followed by a
// non-zero number for null values. Signs such as "+3" and "-0" are rejected.
func parseLength(line []byte) (int, bool) {
	negative := len(line) > 0 && line[0] == '-'

	if negative {
		line = line[1:]
	}

	if len(line) == 0 {
		return 0, false
	}

	n := 0

	for _, c := range line {
		if c < '0' || c > '9' {
			return 0, false
		}

		d := int(c - '0')

		if n > (math.MaxInt-d)/10 {
			return 0, false
		}

		n = n*10 + d
	}

	if negative {
		if n == 0 {
			return 0, false
		}

		return -n, true
	}

	return n, true
}
