package common

import (
	"fmt"
	"sync/atomic"
)

const (
	// PageSize is the size of every page on disk and in the buffer pool.
	PageSize int = 4096
	// IntSize is the on-disk width of an INT field.
	IntSize int = 4
	// StringLength is the maximum number of payload bytes in a STRING field. Longer strings are truncated.
	StringLength int = 32
	// StringLengthPrefix is the width of the length prefix written before every STRING payload.
	StringLengthPrefix int = 4
)

type Type int8

const (
	// For uninitialized Fields
	DefaultType Type = iota
	IntType
	StringType
)

// Size returns the fixed-width storage size of the type in bytes
func (t Type) Size() int {
	switch t {
	case IntType:
		return IntSize
	case StringType:
		return StringLengthPrefix + StringLength
	default:
		panic("unknown type")
	}
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// ParseType maps a schema type name ("int", "string") to a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "int":
		return IntType, nil
	case "string":
		return StringType, nil
	}
	return DefaultType, DBError{Code: TypeMismatchError, ErrString: fmt.Sprintf("unknown type %q", name)}
}

// TableID is a unique identifier for a table (and its backing file) in the database.
type TableID uint32

const InvalidTableID TableID = 0

// PageID uniquely identifies a page within the database. It is comparable and used directly as a map key.
type PageID struct {
	Table   TableID
	PageNum int32
}

func (p PageID) String() string {
	return fmt.Sprintf("Page(%d, %d)", p.Table, p.PageNum)
}

// Less orders PageIDs by table, then by page number.
func (p PageID) Less(other PageID) bool {
	if p.Table != other.Table {
		return p.Table < other.Table
	}
	return p.PageNum < other.PageNum
}

// RecordID identifies a specific tuple (row) in the database via its PageID and Slot index.
type RecordID struct {
	PageID
	Slot int32
}

func (r RecordID) String() string {
	return fmt.Sprintf("rid(%s, %d)", r.PageID.String(), r.Slot)
}

type TransactionID uint64

const InvalidTransactionID TransactionID = 0

var nextTransactionID atomic.Uint64

// NewTransactionID returns a process-wide unique, never-invalid TransactionID.
func NewTransactionID() TransactionID {
	return TransactionID(nextTransactionID.Add(1))
}

func (tid TransactionID) String() string {
	return fmt.Sprintf("txn-%d", uint64(tid))
}

// Permission is the access a caller requests on a page. ReadOnly maps to a shared lock, ReadWrite to an exclusive one.
type Permission int8

const (
	ReadOnly Permission = iota
	ReadWrite
)

func (p Permission) String() string {
	if p == ReadWrite {
		return "READ_WRITE"
	}
	return "READ_ONLY"
}
