package storage

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"mit.edu/dsg/heapdb/common"
)

// Field is a single typed value inside a Tuple. Fields are immutable, comparable, and safe to use as map keys.
//
// On disk an INT is 4 bytes of big-endian two's complement. A STRING is a 4-byte big-endian
// length followed by common.StringLength payload bytes, zero-padded.
type Field struct {
	t           common.Type
	intValue    int32
	stringValue string
}

// NewIntField creates a new INT Field.
func NewIntField(v int32) Field {
	return Field{t: common.IntType, intValue: v}
}

// NewStringField creates a new STRING Field. Strings longer than common.StringLength bytes are truncated.
func NewStringField(v string) Field {
	if len(v) > common.StringLength {
		v = v[:common.StringLength]
	}
	return Field{t: common.StringType, stringValue: v}
}

// IsNil returns true if the Field is uninitialized.
func (f Field) IsNil() bool {
	return f.t == common.DefaultType
}

// Type returns the type of the Field.
func (f Field) Type() common.Type {
	return f.t
}

// IntValue returns the underlying integer.
func (f Field) IntValue() int32 {
	common.Assert(f.t == common.IntType, "type mismatch in IntValue")
	return f.intValue
}

// StringValue returns the underlying string.
func (f Field) StringValue() string {
	common.Assert(f.t == common.StringType, "type mismatch in StringValue")
	return f.stringValue
}

// WriteTo serializes the Field into storage format. data must hold at least f.Type().Size() bytes.
func (f Field) WriteTo(data []byte) {
	common.Assert(len(data) >= f.t.Size(), "buffer too small")
	switch f.t {
	case common.IntType:
		binary.BigEndian.PutUint32(data, uint32(f.intValue))
	case common.StringType:
		binary.BigEndian.PutUint32(data, uint32(len(f.stringValue)))
		payload := data[common.StringLengthPrefix : common.StringLengthPrefix+common.StringLength]
		n := copy(payload, f.stringValue)
		clear(payload[n:])
	default:
		panic("unknown type")
	}
}

// ReadField deserializes a Field of type t from data.
func ReadField(t common.Type, data []byte) (Field, error) {
	if len(data) < t.Size() {
		return Field{}, common.Errorf(common.MalformedPageError, "need %d bytes for %s field, have %d", t.Size(), t, len(data))
	}
	switch t {
	case common.IntType:
		return NewIntField(int32(binary.BigEndian.Uint32(data))), nil
	case common.StringType:
		n := binary.BigEndian.Uint32(data)
		if n > uint32(common.StringLength) {
			return Field{}, common.Errorf(common.MalformedPageError, "string length %d exceeds maximum %d", n, common.StringLength)
		}
		start := common.StringLengthPrefix
		return Field{t: common.StringType, stringValue: string(data[start : start+int(n)])}, nil
	}
	return Field{}, common.Errorf(common.TypeMismatchError, "cannot read field of type %s", t)
}

// Compare compares two Fields of the same type.
// Returns -1 if f < other, 0 if f == other, 1 if f > other.
func (f Field) Compare(other Field) int {
	common.Assert(f.t == other.t, "type mismatch in comparison")
	switch f.t {
	case common.IntType:
		if f.intValue < other.intValue {
			return -1
		}
		if f.intValue > other.intValue {
			return 1
		}
		return 0
	case common.StringType:
		if f.stringValue < other.stringValue {
			return -1
		}
		if f.stringValue > other.stringValue {
			return 1
		}
		return 0
	}
	panic("unreachable")
}

func (f Field) String() string {
	switch f.t {
	case common.IntType:
		return strconv.FormatInt(int64(f.intValue), 10)
	case common.StringType:
		return f.stringValue
	}
	return "<nil>"
}

// ParseField parses s as a Field of type t.
func ParseField(t common.Type, s string) (Field, error) {
	switch t {
	case common.IntType:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Field{}, fmt.Errorf("parse int field %q: %w", s, err)
		}
		return NewIntField(int32(v)), nil
	case common.StringType:
		return NewStringField(s), nil
	}
	return Field{}, common.Errorf(common.TypeMismatchError, "cannot parse field of type %s", t)
}
