package resp

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDecode_Values(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Value
	}{
		{
			name:  "simple string",
			input: "+OK\r\n",
			want:  NewSimpleString("OK"),
		},
		{
			name:  "bulk string",
			input: "$5\r\nhello\r\n",
			want:  NewBulkString([]byte("hello")),
		},
		{
			name:  "empty bulk string",
			input: "$0\r\n\r\n",
			want:  NewBulkString([]byte{}),
		},
		{
			name:  "bulk string containing CRLF",
			input: "$4\r\na\r\nb\r\n",
			want:  NewBulkString([]byte("a\r\nb")),
		},
		{
			name:  "null bulk string",
			input: "$-1\r\n",
			want:  NewNullBulkString(),
		},
		{
			name:  "command array",
			input: "*2\r\n$4\r\nECHO\r\n$3\r\nhey\r\n",
			want:  NewArray(NewBulkString([]byte("ECHO")), NewBulkString([]byte("hey"))),
		},
		{
			name:  "nested array",
			input: "*2\r\n*1\r\n+a\r\n$1\r\nb\r\n",
			want:  NewArray(NewArray(NewSimpleString("a")), NewBulkString([]byte("b"))),
		},
		{
			name:  "empty array",
			input: "*0\r\n",
			want:  NewArray(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor := 0
			got, err := Decode([]byte(tt.input), &cursor)

			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if cursor != len(tt.input) {
				t.Errorf("cursor = %d, want %d", cursor, len(tt.input))
			}

			assertValue(t, got, tt.want)
		})
	}
}

func TestDecode_AdvancesCursorPerFrame(t *testing.T) {
	input := []byte("*1\r\n$4\r\nPING\r\n*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n")
	cursor := 0

	first, err := Decode(input, &cursor)

	if err != nil {
		t.Fatalf("first Decode() error = %v", err)
	}

	if cursor != len("*1\r\n$4\r\nPING\r\n") {
		t.Fatalf("cursor after first frame = %d", cursor)
	}

	second, err := Decode(input, &cursor)

	if err != nil {
		t.Fatalf("second Decode() error = %v", err)
	}

	if cursor != len(input) {
		t.Errorf("cursor after second frame = %d, want %d", cursor, len(input))
	}

	assertValue(t, first, NewArray(NewBulkString([]byte("PING"))))
	assertValue(t, second, NewArray(NewBulkString([]byte("ECHO")), NewBulkString([]byte("hello"))))
}

func TestDecode_Incomplete(t *testing.T) {
	full := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"

	for i := 0; i < len(full); i++ {
		cursor := 0
		_, err := Decode([]byte(full[:i]), &cursor)

		if !errors.Is(err, ErrIncomplete) {
			t.Fatalf("prefix of %d bytes: error = %v, want ErrIncomplete", i, err)
		}

		if cursor != 0 {
			t.Fatalf("prefix of %d bytes: cursor moved to %d", i, cursor)
		}
	}
}

func TestDecode_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown type tag", input: "?oops\r\n"},
		{name: "integer is not part of the subset", input: ":1\r\n"},
		{name: "non numeric array length", input: "*x\r\n"},
		{name: "non numeric bulk length", input: "$abc\r\n"},
		{name: "bulk payload longer than declared", input: "$3\r\nhello\r\n"},
		{name: "unknown tag inside array", input: "*1\r\n-ERR\r\n"},
		{name: "array over limit", input: "*99999999\r\n"},
		{name: "header line over limit", input: "+" + strings.Repeat("a", MaxLineLen+1)},
		{name: "nesting one level too deep", input: strings.Repeat("*1\r\n", MaxDepth+1) + "$1\r\na\r\n"},
		{name: "deeply nested partial frame", input: strings.Repeat("*1\r\n", 1000000)},
		{name: "plus signed length", input: "$+3\r\nabc\r\n"},
		{name: "negative zero array length", input: "*-0\r\n"},
		{name: "empty length", input: "$\r\n"},
		{name: "lone minus length", input: "*-\r\n"},
		{name: "length overflows int", input: "$99999999999999999999999\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor := 0
			_, err := Decode([]byte(tt.input), &cursor)

			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("error = %v, want ErrProtocol", err)
			}

			if cursor != 0 {
				t.Errorf("cursor moved to %d on error", cursor)
			}
		})
	}
}

func TestDecode_NestingAtDepthLimit(t *testing.T) {
	input := strings.Repeat("*1\r\n", MaxDepth) + "$1\r\na\r\n"
	cursor := 0

	got, err := Decode([]byte(input), &cursor)

	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if cursor != len(input) {
		t.Errorf("cursor = %d, want %d", cursor, len(input))
	}

	for range MaxDepth {
		if got.Kind != Array || len(got.Elems) != 1 {
			t.Fatalf("got %v with %d elements, want a single element array", got.Kind, len(got.Elems))
		}

		got = got.Elems[0]
	}

	assertValue(t, got, NewBulkString([]byte("a")))
}

func TestDecode_NegativeLengthsAreNull(t *testing.T) {
	cursor := 0
	got, err := Decode([]byte("*-1\r\n$-1\r\n"), &cursor)

	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if got.Kind != Array || !got.IsNull() {
		t.Errorf("got %v with length %d, want a null array", got.Kind, got.Len)
	}

	got, err = Decode([]byte("*-1\r\n$-1\r\n"), &cursor)

	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	assertValue(t, got, NewNullBulkString())
}

func TestDecode_PayloadDoesNotAliasBuffer(t *testing.T) {
	buf := []byte("$3\r\nabc\r\n")
	cursor := 0

	got, err := Decode(buf, &cursor)

	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	copy(buf, bytes.Repeat([]byte("x"), len(buf)))

	if string(got.Str) != "abc" {
		t.Errorf("payload = %q after buffer reuse, want %q", got.Str, "abc")
	}
}

func assertValue(t *testing.T, got, want Value) {
	t.Helper()

	if got.Kind != want.Kind {
		t.Fatalf("kind = %v, want %v", got.Kind, want.Kind)
	}

	if got.Len != want.Len {
		t.Fatalf("len = %d, want %d", got.Len, want.Len)
	}

	if !bytes.Equal(got.Str, want.Str) {
		t.Fatalf("str = %q, want %q", got.Str, want.Str)
	}

	if len(got.Elems) != len(want.Elems) {
		t.Fatalf("elems = %d, want %d", len(got.Elems), len(want.Elems))
	}

	for i := range got.Elems {
		assertValue(t, got.Elems[i], want.Elems[i])
	}
}
