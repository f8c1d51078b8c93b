// Package rdb reads Redis RDB snapshot files.
//
// Only what a string key-value cache can restore is decoded: string values
// (raw, integer-encoded and LZF-compressed) and their expiry times. List, set
// and hash values are parsed so the stream stays aligned, then reported with
// their type and no payload.
package rdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/zhuyie/golzf"
)

const magic = "REDIS"

const (
	opAux          = 0xFA
	opResizeDB     = 0xFB
	opExpireTimeMs = 0xFC
	opExpireTime   = 0xFD
	opSelectDB     = 0xFE
	opEOF          = 0xFF
)

// Two most significant bits of a length byte.
const (
	len6Bit = iota
	len14Bit
	lenWide
	lenSpecial
)

// Formats selected by a lenSpecial byte.
const (
	specialInt8 = iota
	specialInt16
	specialInt32
	specialLZF
)

type ValueType byte

const (
	TypeString ValueType = 0
	TypeList   ValueType = 1
	TypeSet    ValueType = 2
	TypeHash   ValueType = 4
)

var (
	ErrInvalidSyntax    = errors.New("invalid rdb file")
	ErrUnsupportedValue = errors.New("unsupported rdb value type")
)

// Entry is one key read from a snapshot. Value is set only for TypeString.
type Entry struct {
	Database int
	Type     ValueType
	Key      string
	Value    []byte
	Expiry   time.Time
}

type decoder struct {
	r *bufio.Reader
}

// ReadFile parses the snapshot at path.
func ReadFile(path string) ([]Entry, error) {
	fd, err := os.Open(path)

	if err != nil {
		return nil, fmt.Errorf("failed to open \"%s\": %w", path, err)
	}

	defer fd.Close()

	return Read(fd)
}

// Read parses a snapshot stream up to its EOF marker.
func Read(r io.Reader) ([]Entry, error) {
	d := &decoder{r: bufio.NewReader(r)}

	if err := d.header(); err != nil {
		return nil, err
	}

	entries := []Entry{}
	database := 0

	for {
		opCode, err := d.r.ReadByte()

		if err != nil {
			return nil, fmt.Errorf("failed to read op code: %w", err)
		}

		switch opCode {
		case opAux:
			// Metadata such as redis-ver; nothing here affects the keyspace.
			if _, err := d.readString(); err != nil {
				return nil, fmt.Errorf("aux field name: %w", err)
			}

			if _, err := d.readString(); err != nil {
				return nil, fmt.Errorf("aux field value: %w", err)
			}

		case opSelectDB:
			index, err := d.readSize()

			if err != nil {
				return nil, fmt.Errorf("database selector: %w", err)
			}

			database = index

		case opResizeDB:
			if _, err := d.readSize(); err != nil {
				return nil, fmt.Errorf("hash table size: %w", err)
			}

			if _, err := d.readSize(); err != nil {
				return nil, fmt.Errorf("expire hash table size: %w", err)
			}

		case opExpireTime, opExpireTimeMs:
			expiry, err := d.expiry(opCode)

			if err != nil {
				return nil, err
			}

			valueType, err := d.r.ReadByte()

			if err != nil {
				return nil, fmt.Errorf("value type: %w", err)
			}

			entry, err := d.entry(database, ValueType(valueType))

			if err != nil {
				return nil, err
			}

			entry.Expiry = expiry
			entries = append(entries, entry)

		case opEOF:
			// An 8 byte checksum may follow; it is not verified.
			return entries, nil

		default:
			entry, err := d.entry(database, ValueType(opCode))

			if err != nil {
				return nil, err
			}

			entries = append(entries, entry)
		}
	}
}

func (d *decoder) header() error {
	buf := make([]byte, len(magic)+4)

	if _, err := io.ReadFull(d.r, buf); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	if !bytes.Equal(buf[:len(magic)], []byte(magic)) {
		return fmt.Errorf("%w: file must begin with \"%s\"", ErrInvalidSyntax, magic)
	}

	if _, err := strconv.Atoi(string(buf[len(magic):])); err != nil {
		return fmt.Errorf("%w: version \"%s\" is not a number", ErrInvalidSyntax, buf[len(magic):])
	}

	return nil
}

func (d *decoder) entry(database int, valueType ValueType) (Entry, error) {
	key, err := d.readString()

	if err != nil {
		return Entry{}, fmt.Errorf("key: %w", err)
	}

	entry := Entry{Database: database, Type: valueType, Key: string(key)}

	switch valueType {
	case TypeString:
		value, err := d.readString()

		if err != nil {
			return Entry{}, fmt.Errorf("value of \"%s\": %w", key, err)
		}

		entry.Value = value

	case TypeList, TypeSet:
		if err := d.skipStrings(1); err != nil {
			return Entry{}, fmt.Errorf("value of \"%s\": %w", key, err)
		}

	case TypeHash:
		if err := d.skipStrings(2); err != nil {
			return Entry{}, fmt.Errorf("value of \"%s\": %w", key, err)
		}

	default:
		return Entry{}, fmt.Errorf("%w: %d for key \"%s\"", ErrUnsupportedValue, valueType, key)
	}

	return entry, nil
}

// skipStrings reads a size n and discards n*per strings.
func (d *decoder) skipStrings(per int) error {
	n, err := d.readSize()

	if err != nil {
		return err
	}

	for range n * per {
		if _, err := d.readString(); err != nil {
			return err
		}
	}

	return nil
}

func (d *decoder) expiry(opCode byte) (time.Time, error) {
	if opCode == opExpireTime {
		buf := make([]byte, 4)

		if _, err := io.ReadFull(d.r, buf); err != nil {
			return time.Time{}, fmt.Errorf("expire time: %w", err)
		}

		return time.Unix(int64(binary.LittleEndian.Uint32(buf)), 0), nil
	}

	buf := make([]byte, 8)

	if _, err := io.ReadFull(d.r, buf); err != nil {
		return time.Time{}, fmt.Errorf("expire time: %w", err)
	}

	return time.UnixMilli(int64(binary.LittleEndian.Uint64(buf))), nil
}

// readLength decodes a length prefix. When special is true, n selects a string
// format instead of being a length.
func (d *decoder) readLength() (n int, special bool, err error) {
	first, err := d.r.ReadByte()

	if err != nil {
		return 0, false, err
	}

	low := int(first & 0x3F)

	switch first >> 6 {
	case len6Bit:
		return low, false, nil

	case len14Bit:
		next, err := d.r.ReadByte()

		if err != nil {
			return 0, false, err
		}

		return low<<8 | int(next), false, nil

	case lenWide:
		switch first {
		case 0x80:
			buf := make([]byte, 4)

			if _, err := io.ReadFull(d.r, buf); err != nil {
				return 0, false, err
			}

			return int(binary.BigEndian.Uint32(buf)), false, nil

		case 0x81:
			buf := make([]byte, 8)

			if _, err := io.ReadFull(d.r, buf); err != nil {
				return 0, false, err
			}

			return int(binary.BigEndian.Uint64(buf)), false, nil

		default:
			return 0, false, fmt.Errorf("%w: unknown length prefix 0x%x", ErrInvalidSyntax, first)
		}

	default:
		return low, true, nil
	}
}

func (d *decoder) readSize() (int, error) {
	n, special, err := d.readLength()

	if err != nil {
		return 0, err
	}

	if special || n < 0 {
		return 0, fmt.Errorf("%w: expected a length", ErrInvalidSyntax)
	}

	return n, nil
}

func (d *decoder) readString() ([]byte, error) {
	n, special, err := d.readLength()

	if err != nil {
		return nil, err
	}

	if !special {
		if n < 0 {
			return nil, fmt.Errorf("%w: negative string length", ErrInvalidSyntax)
		}

		buf := make([]byte, n)

		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}

		return buf, nil
	}

	switch n {
	case specialInt8:
		b, err := d.r.ReadByte()

		if err != nil {
			return nil, err
		}

		return strconv.AppendInt(nil, int64(int8(b)), 10), nil

	case specialInt16:
		buf := make([]byte, 2)

		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}

		return strconv.AppendInt(nil, int64(int16(binary.LittleEndian.Uint16(buf))), 10), nil

	case specialInt32:
		buf := make([]byte, 4)

		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}

		return strconv.AppendInt(nil, int64(int32(binary.LittleEndian.Uint32(buf))), 10), nil

	case specialLZF:
		return d.compressedString()

	default:
		return nil, fmt.Errorf("%w: unknown string format %d", ErrInvalidSyntax, n)
	}
}

func (d *decoder) compressedString() ([]byte, error) {
	compressedLen, err := d.readSize()

	if err != nil {
		return nil, fmt.Errorf("compressed length: %w", err)
	}

	uncompressedLen, err := d.readSize()

	if err != nil {
		return nil, fmt.Errorf("uncompressed length: %w", err)
	}

	input := make([]byte, compressedLen)

	if _, err := io.ReadFull(d.r, input); err != nil {
		return nil, fmt.Errorf("compressed string: %w", err)
	}

	output := make([]byte, uncompressedLen)
	n, err := lzf.Decompress(input, output)

	if err != nil {
		return nil, fmt.Errorf("%w: failed to decompress string: %v", ErrInvalidSyntax, err)
	}

	if n != uncompressedLen {
		return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", ErrInvalidSyntax, n, uncompressedLen)
	}

	return output, nil
}
