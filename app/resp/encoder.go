package resp

import (
	"bytes"
	"fmt"
)

// EncodeArray frames already encoded entries as a RESP array.
func EncodeArray(entries [][]byte) []byte {
	return fmt.Appendf(nil, "*%d\r\n%s", len(entries), bytes.Join(entries, nil))
}

func EncodeBulkString(b []byte) []byte {
	return fmt.Appendf(nil, "$%d\r\n%s\r\n", len(b), b)
}

func EncodeNull() []byte {
	return []byte("$-1\r\n")
}

func EncodeSimpleString(str string) []byte {
	return fmt.Appendf(nil, "+%s\r\n", str)
}

// Encode serializes any Value tree.
func Encode(v Value) []byte {
	switch v.Kind {
	case SimpleString:
		return EncodeSimpleString(string(v.Str))

	case BulkString:
		if v.IsNull() {
			return EncodeNull()
		}

		return EncodeBulkString(v.Str)

	case Array:
		if v.IsNull() {
			return []byte("*-1\r\n")
		}

		entries := make([][]byte, len(v.Elems))

		for i, elem := range v.Elems {
			entries[i] = Encode(elem)
		}

		return EncodeArray(entries)

	default:
		return nil
	}
}
