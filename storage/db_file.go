package storage

import (
	"mit.edu/dsg/heapdb/common"
)

// DBFile abstracts the on-disk file that stores one table.
//
// ReadPage and WritePage do raw page I/O and never take locks. InsertTuple, DeleteTuple,
// and Iterator go through the buffer pool on behalf of a transaction and therefore lock pages.
type DBFile interface {
	// ID returns the table identifier derived from the file's location.
	ID() common.TableID
	// TupleDesc returns the schema of every tuple in the file.
	TupleDesc() *TupleDesc
	// NumPages returns the number of pages in the file.
	NumPages() (int, error)
	// ReadPage reads and decodes the page identified by pid from disk.
	ReadPage(pid common.PageID) (Page, error)
	// WritePage writes page to its position in the file. It may extend the file by exactly one page.
	WritePage(page Page) error
	// InsertTuple adds t to the file on behalf of tid and returns the pages it modified.
	InsertTuple(tid common.TransactionID, t *Tuple) ([]Page, error)
	// DeleteTuple removes t from the file on behalf of tid and returns the pages it modified.
	DeleteTuple(tid common.TransactionID, t *Tuple) ([]Page, error)
	// Iterator returns an iterator over every tuple in the file, read under shared locks held by tid.
	Iterator(tid common.TransactionID) TupleIterator
	// Close closes the underlying file handle.
	Close() error
}

// TupleIterator is a lazy, finite, restartable stream of tuples.
type TupleIterator interface {
	// Next advances the iterator. It returns false when the stream is exhausted or an error occurred.
	Next() bool
	// Current returns the tuple at the current position.
	Current() *Tuple
	// Error returns the error that stopped the iteration, if any.
	Error() error
	// Rewind restarts the stream from the beginning.
	Rewind() error
	// Close releases the iterator's resources.
	Close()
}

// TableFiles resolves table identifiers to their files. The catalog implements it.
type TableFiles interface {
	GetDatabaseFile(id common.TableID) (DBFile, error)
}
