package storage

import (
	"sync"

	"mit.edu/dsg/heapdb/common"
)

// Page is a fixed-size unit of storage as seen by the buffer pool.
//
// Page contents are protected by the page locks a transaction holds; only the
// dirty metadata is read by the buffer pool without a lock and carries its own mutex.
type Page interface {
	// ID returns the identity of the page.
	ID() common.PageID
	// IsDirty returns the transaction that last dirtied the page and whether it is dirty at all.
	IsDirty() (common.TransactionID, bool)
	// MarkDirty sets or clears the dirty flag. tid is recorded as the dirtier when dirty is true.
	MarkDirty(dirty bool, tid common.TransactionID)
	// PageData serializes the page to exactly common.PageSize bytes.
	PageData() ([]byte, error)
}

type pageMetadata struct {
	sync.Mutex
	dirty   bool
	dirtier common.TransactionID
}

func (m *pageMetadata) IsDirty() (common.TransactionID, bool) {
	m.Lock()
	defer m.Unlock()
	return m.dirtier, m.dirty
}

func (m *pageMetadata) MarkDirty(dirty bool, tid common.TransactionID) {
	m.Lock()
	defer m.Unlock()
	m.dirty = dirty
	if dirty {
		m.dirtier = tid
	} else {
		m.dirtier = common.InvalidTransactionID
	}
}

// touch marks the page dirty without changing which transaction it is attributed to.
func (m *pageMetadata) touch() {
	m.Lock()
	defer m.Unlock()
	m.dirty = true
}

// isDirtiedBy reports whether p is dirty and was last dirtied by tid.
func isDirtiedBy(p Page, tid common.TransactionID) bool {
	dirtier, dirty := p.IsDirty()
	return dirty && dirtier == tid
}
