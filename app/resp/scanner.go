package resp

import (
	"bytes"
	"fmt"
)

// Scanner finds the end of the next frame without decoding it. It remembers
// how far it got, so a frame arriving over many reads is walked once in
// total instead of once per read.
//
// Offsets are relative to the start of the frame: every call must pass a
// buffer that begins where the pending frame begins, holding at least the
// bytes passed on the previous call.
type Scanner struct {
	pos     int
	started bool
	// remaining holds the number of elements still expected by each open array,
	// outermost first.
	remaining []int
}

// Scan reports the length of the frame at the start of buf. It returns
// ErrIncomplete when more bytes are needed and an error wrapping ErrProtocol
// when the frame is malformed. The scanner resets itself after a complete
// frame.
func (s *Scanner) Scan(buf []byte) (int, error) {
	for {
		for len(s.remaining) > 0 && s.remaining[len(s.remaining)-1] == 0 {
			s.remaining = s.remaining[:len(s.remaining)-1]
		}

		if s.started && len(s.remaining) == 0 {
			end := s.pos
			s.Reset()

			return end, nil
		}

		elems, err := s.scanValue(buf)

		if err != nil {
			return 0, err
		}

		s.started = true

		if len(s.remaining) > 0 {
			s.remaining[len(s.remaining)-1]--
		}

		if elems > 0 {
			s.remaining = append(s.remaining, elems)
		}
	}
}

// Reset discards any partial progress.
func (s *Scanner) Reset() {
	s.pos = 0
	s.started = false
	s.remaining = s.remaining[:0]
}

// scanValue steps over one value at s.pos. For an array it steps over the
// header only and returns the element count. s.pos is left unchanged on error.
func (s *Scanner) scanValue(buf []byte) (int, error) {
	pos := s.pos

	if pos >= len(buf) {
		return 0, ErrIncomplete
	}

	prefix := buf[pos]
	pos++

	switch prefix {
	case arrayPrefix:
		if len(s.remaining)+1 > MaxDepth {
			return 0, fmt.Errorf("%w: arrays nested deeper than %d", ErrProtocol, MaxDepth)
		}

		length, err := readLength(buf, &pos)

		if err != nil {
			return 0, fmt.Errorf("array header: %w", err)
		}

		if length > MaxArrayLen {
			return 0, fmt.Errorf("%w: array length %d exceeds limit %d", ErrProtocol, length, MaxArrayLen)
		}

		s.pos = pos

		return max(length, 0), nil

	case bulkStringPrefix:
		length, err := readLength(buf, &pos)

		if err != nil {
			return 0, fmt.Errorf("bulk string header: %w", err)
		}

		if length > MaxBulkLen {
			return 0, fmt.Errorf("%w: bulk string length %d exceeds limit %d", ErrProtocol, length, MaxBulkLen)
		}

		if length >= 0 {
			end := pos + length

			if end+len(crlf) > len(buf) {
				return 0, ErrIncomplete
			}

			if !bytes.Equal(buf[end:end+len(crlf)], crlf) {
				return 0, fmt.Errorf("%w: bulk string of length %d is not terminated by CRLF", ErrProtocol, length)
			}

			pos = end + len(crlf)
		}

		s.pos = pos

		return 0, nil

	case simpleStringPrefix:
		if _, err := readLine(buf, &pos); err != nil {
			return 0, err
		}

		s.pos = pos

		return 0, nil

	default:
		return 0, fmt.Errorf("%w: unrecognized RESP type tag %q", ErrProtocol, prefix)
	}
}
