package resp

// Kind identifies the RESP type carried by a Value.
type Kind int

const (
	SimpleString Kind = iota
	BulkString
	Array
)

func (k Kind) String() string {
	switch k {
	case SimpleString:
		return "simple string"
	case BulkString:
		return "bulk string"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a decoded RESP message.
//
// Str holds the payload of simple and bulk strings. Len is the declared
// length of a bulk string or array; -1 marks a null bulk string or null array.
type Value struct {
	Kind  Kind
	Str   []byte
	Len   int
	Elems []Value
}

func NewSimpleString(text string) Value {
	return Value{Kind: SimpleString, Str: []byte(text), Len: len(text)}
}

func NewBulkString(b []byte) Value {
	return Value{Kind: BulkString, Str: b, Len: len(b)}
}

func NewNullBulkString() Value {
	return Value{Kind: BulkString, Len: -1}
}

func NewArray(elems ...Value) Value {
	return Value{Kind: Array, Elems: elems, Len: len(elems)}
}

// IsNull reports whether v is a null bulk string or a null array.
func (v Value) IsNull() bool {
	return v.Kind != SimpleString && v.Len < 0
}
