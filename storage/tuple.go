package storage

import (
	"fmt"
	"strings"

	"mit.edu/dsg/heapdb/common"
)

// TDItem is one column of a TupleDesc.
type TDItem struct {
	Name string
	Type common.Type
}

// TupleDesc describes the schema of a tuple: an ordered list of typed, optionally named columns.
// Two descriptors are Equal when their types match positionally; names are ignored.
type TupleDesc struct {
	items   []TDItem
	offsets []int // column_id => offset of its first byte in the serialized tuple
	size    int
}

// NewTupleDesc creates a descriptor for the given field types. names may be nil or shorter than types;
// missing names are left empty.
func NewTupleDesc(types []common.Type, names []string) *TupleDesc {
	common.Assert(len(types) > 0, "tuple desc must have at least one field")
	items := make([]TDItem, len(types))
	for i, t := range types {
		items[i].Type = t
		if i < len(names) {
			items[i].Name = names[i]
		}
	}
	return newTupleDesc(items)
}

func newTupleDesc(items []TDItem) *TupleDesc {
	offsets := make([]int, len(items))
	size := 0
	for i, item := range items {
		offsets[i] = size
		size += item.Type.Size()
	}
	common.Assert(size*8+1 <= common.PageSize*8, "tuple size %d does not fit in a page", size)
	return &TupleDesc{items: items, offsets: offsets, size: size}
}

// NumFields returns the number of columns.
func (desc *TupleDesc) NumFields() int {
	return len(desc.items)
}

// FieldType returns the type of column i.
func (desc *TupleDesc) FieldType(i int) common.Type {
	return desc.items[i].Type
}

// FieldName returns the (possibly empty) name of column i.
func (desc *TupleDesc) FieldName(i int) string {
	return desc.items[i].Name
}

func (desc *TupleDesc) Types() []common.Type {
	types := make([]common.Type, len(desc.items))
	for i, item := range desc.items {
		types[i] = item.Type
	}
	return types
}

// IndexOf returns the position of the first column named name.
func (desc *TupleDesc) IndexOf(name string) (int, error) {
	for i, item := range desc.items {
		if item.Name == name {
			return i, nil
		}
	}
	return -1, common.Errorf(common.NoSuchObjectError, "no field named %q in %s", name, desc)
}

// Size returns the fixed number of bytes a tuple with this schema occupies on a page.
func (desc *TupleDesc) Size() int {
	return desc.size
}

// Equals reports whether both descriptors have the same field types in the same order.
func (desc *TupleDesc) Equals(other *TupleDesc) bool {
	if desc == other {
		return true
	}
	if other == nil || len(desc.items) != len(other.items) {
		return false
	}
	for i := range desc.items {
		if desc.items[i].Type != other.items[i].Type {
			return false
		}
	}
	return true
}

// WithPrefix returns a copy of the descriptor whose field names are qualified as "prefix.name".
func (desc *TupleDesc) WithPrefix(prefix string) *TupleDesc {
	items := make([]TDItem, len(desc.items))
	for i, item := range desc.items {
		items[i] = TDItem{Name: prefix + "." + item.Name, Type: item.Type}
	}
	return &TupleDesc{items: items, offsets: desc.offsets, size: desc.size}
}

func (desc *TupleDesc) String() string {
	parts := make([]string, len(desc.items))
	for i, item := range desc.items {
		parts[i] = fmt.Sprintf("%s(%s)", item.Type, item.Name)
	}
	return strings.Join(parts, ", ")
}

// Tuple is a row: a TupleDesc, one Field per column, and the RecordID of the slot it occupies, if any.
//
// Tuples handed out by pages and iterators are copies; mutating one never changes a cached page.
type Tuple struct {
	desc   *TupleDesc
	fields []Field
	rid    *common.RecordID
}

// NewTuple creates a Tuple with no location. The fields must match desc.
func NewTuple(desc *TupleDesc, fields ...Field) *Tuple {
	common.Assert(len(fields) == desc.NumFields(), "expected %d fields, got %d", desc.NumFields(), len(fields))
	for i, f := range fields {
		common.Assert(f.Type() == desc.FieldType(i), "field %d: expected %s, got %s", i, desc.FieldType(i), f.Type())
	}
	return &Tuple{desc: desc, fields: fields}
}

// Desc returns the schema of the tuple.
func (t *Tuple) Desc() *TupleDesc {
	return t.desc
}

// NumFields returns the number of columns.
func (t *Tuple) NumFields() int {
	return len(t.fields)
}

// Field returns the value of column i.
func (t *Tuple) Field(i int) Field {
	return t.fields[i]
}

// SetField replaces the value of column i.
func (t *Tuple) SetField(i int, f Field) {
	common.Assert(f.Type() == t.desc.FieldType(i), "type mismatch in SetField")
	t.fields[i] = f
}

func (t *Tuple) Fields() []Field {
	return t.fields
}

// RID returns the location of the tuple, or nil if it has not been placed on a page.
func (t *Tuple) RID() *common.RecordID {
	return t.rid
}

// SetRID binds (or, with nil, unbinds) the tuple to a location.
func (t *Tuple) SetRID(rid *common.RecordID) {
	t.rid = rid
}

// Copy returns a deep copy of the tuple, including its RecordID.
func (t *Tuple) Copy() *Tuple {
	fields := make([]Field, len(t.fields))
	copy(fields, t.fields)
	var rid *common.RecordID
	if t.rid != nil {
		r := *t.rid
		rid = &r
	}
	return &Tuple{desc: t.desc, fields: fields, rid: rid}
}

// Equals reports whether both tuples have equal schemas and field values. Locations are ignored.
func (t *Tuple) Equals(other *Tuple) bool {
	if !t.desc.Equals(other.desc) {
		return false
	}
	for i := range t.fields {
		if t.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// WriteTo serializes the tuple's fields, in order, into data.
func (t *Tuple) WriteTo(data []byte) {
	common.Assert(len(data) >= t.desc.Size(), "buffer too small")
	for i, f := range t.fields {
		f.WriteTo(data[t.desc.offsets[i]:])
	}
}

// ReadTuple deserializes a tuple with the given schema from data.
func ReadTuple(desc *TupleDesc, data []byte) (*Tuple, error) {
	if len(data) < desc.Size() {
		return nil, common.Errorf(common.MalformedPageError, "need %d bytes for tuple, have %d", desc.Size(), len(data))
	}
	fields := make([]Field, desc.NumFields())
	for i := range fields {
		f, err := ReadField(desc.FieldType(i), data[desc.offsets[i]:])
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return &Tuple{desc: desc, fields: fields}, nil
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, "\t")
}
