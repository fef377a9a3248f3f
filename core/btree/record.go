package btree

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/FocuswithJustin/pagekit/core/errors"
	"github.com/FocuswithJustin/pagekit/core/format"
)

// SQLite record format
//
// A record consists of:
// 1. Header: varint header_size, followed by varint type codes for each column
// 2. Body: column values in sequence
//
// Serial type codes:
//   0: NULL
//   1..6: big-endian signed integer of 1, 2, 3, 4, 6 or 8 bytes
//   7: IEEE 754 float64 (big-endian)
//   8, 9: integer constants 0 and 1 (no data stored)
//   10, 11: reserved
//   N>=12 (even): BLOB of (N-12)/2 bytes
//   N>=13 (odd): TEXT of (N-13)/2 bytes

// SerialType represents a SQLite serial type code
type SerialType uint64

const (
	SerialTypeNull    SerialType = 0
	SerialTypeInt8    SerialType = 1
	SerialTypeInt16   SerialType = 2
	SerialTypeInt24   SerialType = 3
	SerialTypeInt32   SerialType = 4
	SerialTypeInt48   SerialType = 5
	SerialTypeInt64   SerialType = 6
	SerialTypeFloat64 SerialType = 7
	SerialTypeZero    SerialType = 8
	SerialTypeOne     SerialType = 9
)

// Len returns the number of body bytes a value of this serial type occupies.
// Reserved types 10 and 11 report -1.
func (s SerialType) Len() int {
	switch s {
	case SerialTypeNull, SerialTypeZero, SerialTypeOne:
		return 0
	case SerialTypeInt8:
		return 1
	case SerialTypeInt16:
		return 2
	case SerialTypeInt24:
		return 3
	case SerialTypeInt32:
		return 4
	case SerialTypeInt48:
		return 6
	case SerialTypeInt64, SerialTypeFloat64:
		return 8
	case 10, 11:
		return -1
	}
	return int((s - 12) / 2)
}

// ValueType represents the type of a value
type ValueType int

const (
	TypeNull ValueType = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBlob
)

// Value is one decoded record column.
type Value struct {
	Type   ValueType
	Serial SerialType
	Int    int64
	Float  float64
	Text   string
	Blob   []byte
}

// String renders the value the way the page dump tools print cell content.
func (v Value) String() string {
	switch v.Type {
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeText:
		return strconv.Quote(v.Text)
	case TypeBlob:
		if len(v.Blob) > 16 {
			return fmt.Sprintf("x'%x'...(%d bytes)", v.Blob[:16], len(v.Blob))
		}
		return fmt.Sprintf("x'%x'", v.Blob)
	}
	return "NULL"
}

// FormatRecord renders values as a parenthesised, comma separated list.
func FormatRecord(values []Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// ParseRecord decodes a complete record payload. enc is the database text
// encoding from the file header; 0 is treated as UTF-8.
func ParseRecord(payload []byte, enc uint32) ([]Value, error) {
	hdrSize, n := GetVarint(payload)
	if n == 0 {
		return nil, errors.NewTruncated(0, 0, "record header size")
	}
	if hdrSize < uint64(n) || hdrSize > uint64(len(payload)) {
		return nil, errors.NewPage(0, 0, "record header size %d outside payload of %d bytes", hdrSize, len(payload))
	}

	var values []Value
	pos := n
	body := int(hdrSize)
	for pos < int(hdrSize) {
		st, m := GetVarint(payload[pos:hdrSize])
		if m == 0 {
			return values, errors.NewTruncated(0, pos, "serial type")
		}
		pos += m

		serial := SerialType(st)
		size := serial.Len()
		if size < 0 {
			return values, errors.NewPage(0, pos-m, "reserved serial type %d", st)
		}
		if uint64(size) > uint64(len(payload)-body) {
			return values, errors.NewTruncated(0, body, fmt.Sprintf("column %d", len(values)))
		}

		v, err := decodeValue(serial, payload[body:body+size], enc)
		if err != nil {
			return values, err
		}
		values = append(values, v)
		body += size
	}
	return values, nil
}

func decodeValue(serial SerialType, data []byte, enc uint32) (Value, error) {
	v := Value{Serial: serial}
	switch serial {
	case SerialTypeNull:
		v.Type = TypeNull
	case SerialTypeZero, SerialTypeOne:
		v.Type = TypeInteger
		v.Int = int64(serial - SerialTypeZero)
	case SerialTypeInt8, SerialTypeInt16, SerialTypeInt24, SerialTypeInt32, SerialTypeInt48, SerialTypeInt64:
		v.Type = TypeInteger
		v.Int = decodeInt(data)
	case SerialTypeFloat64:
		v.Type = TypeFloat
		v.Float = math.Float64frombits(binary.BigEndian.Uint64(data))
	default:
		if serial%2 == 0 {
			v.Type = TypeBlob
			v.Blob = append([]byte(nil), data...)
			break
		}
		v.Type = TypeText
		text, err := decodeText(data, enc)
		if err != nil {
			return v, err
		}
		v.Text = text
	}
	return v, nil
}

// decodeInt sign-extends a big-endian integer of 1 to 8 bytes.
func decodeInt(data []byte) int64 {
	var u uint64
	for _, b := range data {
		u = u<<8 | uint64(b)
	}
	shift := 64 - 8*uint(len(data))
	return int64(u<<shift) >> shift
}

func decodeText(data []byte, enc uint32) (string, error) {
	var e encoding.Encoding
	switch enc {
	case format.EncodingUTF16LE:
		e = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case format.EncodingUTF16BE:
		e = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	default:
		return string(data), nil
	}
	out, err := e.NewDecoder().Bytes(data)
	if err != nil {
		return "", errors.Wrap(err, "decode utf-16 text")
	}
	return string(out), nil
}

// MakeRecord encodes values into the record format. Integers use the
// smallest serial type that holds them; text is written as UTF-8.
func MakeRecord(values []Value) []byte {
	var header, body []byte
	for _, v := range values {
		st := serialTypeFor(v)
		header = AppendVarint(header, uint64(st))
		switch v.Type {
		case TypeInteger:
			size := st.Len()
			for i := size - 1; i >= 0; i-- {
				body = append(body, byte(v.Int>>(8*uint(i))))
			}
		case TypeFloat:
			body = binary.BigEndian.AppendUint64(body, math.Float64bits(v.Float))
		case TypeText:
			body = append(body, v.Text...)
		case TypeBlob:
			body = append(body, v.Blob...)
		}
	}

	// The header size varint counts itself.
	hdrLen := len(header) + 1
	if VarintLen(uint64(hdrLen)) > 1 {
		hdrLen = len(header) + VarintLen(uint64(len(header)+2))
	}
	out := AppendVarint(nil, uint64(hdrLen))
	out = append(out, header...)
	return append(out, body...)
}

func serialTypeFor(v Value) SerialType {
	switch v.Type {
	case TypeInteger:
		i := v.Int
		switch {
		case i == 0:
			return SerialTypeZero
		case i == 1:
			return SerialTypeOne
		case i >= -128 && i <= 127:
			return SerialTypeInt8
		case i >= -32768 && i <= 32767:
			return SerialTypeInt16
		case i >= -8388608 && i <= 8388607:
			return SerialTypeInt24
		case i >= -2147483648 && i <= 2147483647:
			return SerialTypeInt32
		case i >= -140737488355328 && i <= 140737488355327:
			return SerialTypeInt48
		}
		return SerialTypeInt64
	case TypeFloat:
		return SerialTypeFloat64
	case TypeText:
		return SerialType(13 + 2*len(v.Text))
	case TypeBlob:
		return SerialType(12 + 2*len(v.Blob))
	}
	return SerialTypeNull
}

// Int returns an integer Value.
func Int(i int64) Value { return Value{Type: TypeInteger, Int: i} }

// Text returns a text Value.
func Text(s string) Value { return Value{Type: TypeText, Text: s} }

// Blob returns a blob Value.
func Blob(b []byte) Value { return Value{Type: TypeBlob, Blob: b} }

// Null returns a NULL Value.
func Null() Value { return Value{} }
