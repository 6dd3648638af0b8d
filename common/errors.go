package common

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	// NoSuchObjectError indicates a request for a table or field that does not exist.
	NoSuchObjectError ErrorCode = iota
	// DeadlockError is returned by the lock manager when it detects a cycle
	// in the waits-for graph, necessitating a transaction abort.
	DeadlockError
	// BufferPoolFullError means every cached page is dirty or exclusively locked, so nothing can be evicted.
	BufferPoolFullError
	// PageFullError means a heap page has no free slot left.
	PageFullError
	// TupleNotFoundError means a tuple is not stored where its RecordID says it is.
	TupleNotFoundError
	// TableMismatchError means a tuple was handed to a file it does not belong to.
	TableMismatchError
	// TypeMismatchError means a tuple's schema does not match the schema of its destination.
	TypeMismatchError
	// MalformedPageError means raw page bytes could not be decoded.
	MalformedPageError
	// IllegalOperationError covers requests that are invalid in the current state.
	IllegalOperationError
)

func (ec ErrorCode) String() string {
	switch ec {
	case NoSuchObjectError:
		return "NoSuchObjectError"
	case DeadlockError:
		return "DeadlockError"
	case BufferPoolFullError:
		return "BufferPoolFullError"
	case PageFullError:
		return "PageFullError"
	case TupleNotFoundError:
		return "TupleNotFoundError"
	case TableMismatchError:
		return "TableMismatchError"
	case TypeMismatchError:
		return "TypeMismatchError"
	case MalformedPageError:
		return "MalformedPageError"
	case IllegalOperationError:
		return "IllegalOperationError"
	}
	return "unknown"
}

// DBError is the custom error type for the database engine.
// It wraps a specific ErrorCode with a detailed message.
type DBError struct {
	Code      ErrorCode
	ErrString string
}

func (e DBError) Error() string {
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.ErrString)
}

// Errorf builds a DBError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) DBError {
	return DBError{Code: code, ErrString: fmt.Sprintf(format, args...)}
}

// IsErrorCode reports whether err, or any error it wraps, is a DBError with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var dbErr DBError
	if errors.As(err, &dbErr) {
		return dbErr.Code == code
	}
	return false
}
