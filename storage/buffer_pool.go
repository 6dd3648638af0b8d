package storage

import (
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/transaction"
)

type pageFrame struct {
	page   Page
	refBit bool
}

// BufferPool caches a fixed number of pages and is the only path through which transactions reach page contents.
//
// Every GetPage first acquires the page lock that matches the requested permission, so callers inherit strict
// two-phase locking from the pool. The pool never writes a page that an uncommitted transaction dirtied (no-steal):
// dirty pages are not eviction candidates, and are instead written at commit (force) or dropped at abort. Pages
// exclusively locked by some transaction are not evicted either, since the holder may be about to modify them.
// Among the remaining pages the victim is picked with a clock sweep.
type BufferPool struct {
	files       TableFiles
	lockManager *transaction.LockManager

	// mu guards frames, clockHand, and the structure of pageTable.
	mu        sync.Mutex
	frames    []pageFrame
	clockHand int
	pageTable *xsync.MapOf[common.PageID, int]

	// dirtied maps each running transaction to the pages it has write-locked through the pool, in page order.
	dirtied *xsync.MapOf[common.TransactionID, *btree.BTreeG[common.PageID]]
	logger  *slog.Logger
}

// NewBufferPool creates a new BufferPool with a fixed capacity of numPages pages. files resolves table ids to
// the files pages are read from and written to; lockManager provides the page locks.
func NewBufferPool(numPages int, files TableFiles, lockManager *transaction.LockManager) *BufferPool {
	common.Assert(numPages > 0, "buffer pool needs at least one frame")
	return &BufferPool{
		files:       files,
		lockManager: lockManager,
		frames:      make([]pageFrame, numPages),
		pageTable:   xsync.NewMapOf[common.PageID, int](),
		dirtied:     xsync.NewMapOf[common.TransactionID, *btree.BTreeG[common.PageID]](),
		logger:      common.Logger("bufferpool"),
	}
}

// LockManager returns the lock manager guarding the pool's pages.
func (bp *BufferPool) LockManager() *transaction.LockManager {
	return bp.lockManager
}

// Capacity returns the number of frames in the pool.
func (bp *BufferPool) Capacity() int {
	return len(bp.frames)
}

// NumCached returns the number of pages currently cached.
func (bp *BufferPool) NumCached() int {
	return bp.pageTable.Size()
}

// IsCached reports whether pid is currently in the pool.
func (bp *BufferPool) IsCached(pid common.PageID) bool {
	_, ok := bp.pageTable.Load(pid)
	return ok
}

func (bp *BufferPool) recordWriteLock(tid common.TransactionID, pid common.PageID) {
	set, _ := bp.dirtied.LoadOrCompute(tid, func() *btree.BTreeG[common.PageID] {
		return btree.NewBTreeG[common.PageID](func(a, b common.PageID) bool { return a.Less(b) })
	})
	set.Set(pid)
}

// findVictim returns the index of a frame that may be reused: an empty one, or one holding a clean page nobody
// holds an exclusive lock on. Must be called with bp.mu held.
func (bp *BufferPool) findVictim() (int, error) {
	numFrames := len(bp.frames)
	// two sweeps: the first may only be clearing reference bits
	for i := 0; i < 2*numFrames; i++ {
		idx := bp.clockHand
		bp.clockHand = (bp.clockHand + 1) % numFrames

		frame := &bp.frames[idx]
		if frame.page == nil {
			return idx, nil
		}
		if _, dirty := frame.page.IsDirty(); dirty {
			continue
		}
		if bp.lockManager.IsExclusivelyLocked(frame.page.ID()) {
			continue
		}
		if frame.refBit {
			frame.refBit = false
			continue
		}
		return idx, nil
	}
	return -1, common.Errorf(common.BufferPoolFullError, "all %d pages are dirty or exclusively locked", numFrames)
}

// installAt places page into frame idx, evicting whatever the frame held. Must be called with bp.mu held.
func (bp *BufferPool) installAt(idx int, page Page) {
	frame := &bp.frames[idx]
	if frame.page != nil {
		bp.logger.Debug("evicting page", "page", frame.page.ID(), "for", page.ID())
		bp.pageTable.Delete(frame.page.ID())
	}
	frame.page = page
	// only a second access marks a page as hot
	frame.refBit = false
	bp.pageTable.Store(page.ID(), idx)
}

// GetPage returns the page identified by pid on behalf of tid, first acquiring a shared lock (ReadOnly) or an
// exclusive lock (ReadWrite). It blocks while the lock is unavailable and fails with DeadlockError if waiting
// would deadlock. On a cache miss the page is read from its file, evicting a clean page if the pool is full;
// if every cached page is dirty or exclusively locked, it fails with BufferPoolFullError.
//
// Locks acquired here are held until TransactionComplete, even when GetPage itself fails afterwards.
func (bp *BufferPool) GetPage(tid common.TransactionID, pid common.PageID, perm common.Permission) (Page, error) {
	if err := bp.lockManager.Lock(tid, pid, transaction.LockModeFor(perm)); err != nil {
		return nil, err
	}
	if perm == common.ReadWrite {
		bp.recordWriteLock(tid, pid)
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	if idx, ok := bp.pageTable.Load(pid); ok {
		frame := &bp.frames[idx]
		frame.refBit = true
		return frame.page, nil
	}

	file, err := bp.files.GetDatabaseFile(pid.Table)
	if err != nil {
		return nil, err
	}
	idx, err := bp.findVictim()
	if err != nil {
		return nil, err
	}
	page, err := file.ReadPage(pid)
	if err != nil {
		return nil, err
	}
	bp.installAt(idx, page)
	return page, nil
}

// ReleasePage releases every lock tid holds on pid. This breaks two-phase locking and is only safe for pages
// tid has not modified.
func (bp *BufferPool) ReleasePage(tid common.TransactionID, pid common.PageID) {
	bp.lockManager.ReleaseLock(tid, pid)
}

// HoldsLock reports whether tid holds a lock on pid.
func (bp *BufferPool) HoldsLock(tid common.TransactionID, pid common.PageID) bool {
	return bp.lockManager.HoldsLock(tid, pid)
}

// InsertTuple adds t to the table tableID on behalf of tid, locking pages as needed, and marks every page
// the insert modified as dirtied by tid.
func (bp *BufferPool) InsertTuple(tid common.TransactionID, tableID common.TableID, t *Tuple) error {
	file, err := bp.files.GetDatabaseFile(tableID)
	if err != nil {
		return err
	}
	pages, err := file.InsertTuple(tid, t)
	if err != nil {
		return err
	}
	return bp.markDirty(tid, pages)
}

// DeleteTuple removes t from the table named by its RecordID on behalf of tid and marks the modified page
// as dirtied by tid.
func (bp *BufferPool) DeleteTuple(tid common.TransactionID, t *Tuple) error {
	rid := t.RID()
	if rid == nil {
		return common.Errorf(common.TupleNotFoundError, "tuple has no record id")
	}
	file, err := bp.files.GetDatabaseFile(rid.Table)
	if err != nil {
		return err
	}
	pages, err := file.DeleteTuple(tid, t)
	if err != nil {
		return err
	}
	return bp.markDirty(tid, pages)
}

func (bp *BufferPool) markDirty(tid common.TransactionID, pages []Page) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, page := range pages {
		page.MarkDirty(true, tid)
		bp.recordWriteLock(tid, page.ID())
		// the modified copy must be the cached one, or the change is lost at commit
		if idx, ok := bp.pageTable.Load(page.ID()); ok {
			bp.frames[idx].page = page
			continue
		}
		idx, err := bp.findVictim()
		if err != nil {
			return err
		}
		bp.installAt(idx, page)
	}
	return nil
}

// TransactionComplete ends tid. On commit every page tid dirtied is written to disk and marked clean; on abort
// those pages are dropped from the cache so the next reader sees the on-disk version. Either way, all of tid's
// locks are released afterwards. If a commit write fails, tid's remaining dirty pages are dropped and the
// error is returned.
func (bp *BufferPool) TransactionComplete(tid common.TransactionID, commit bool) error {
	defer bp.lockManager.ReleaseAllLocks(tid)

	set, ok := bp.dirtied.LoadAndDelete(tid)
	if !ok {
		return nil
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	var err error
	flushed, discarded := 0, 0
	set.Scan(func(pid common.PageID) bool {
		idx, ok := bp.pageTable.Load(pid)
		if !ok || !isDirtiedBy(bp.frames[idx].page, tid) {
			return true
		}
		if commit && err == nil {
			if err = bp.flushFrame(idx); err == nil {
				flushed++
				return true
			}
		}
		bp.discardFrame(idx)
		discarded++
		return true
	})
	bp.logger.Debug("transaction complete", "txn", tid, "commit", commit, "flushed", flushed, "discarded", discarded)
	return err
}

// flushFrame writes the page in frame idx to its file and marks it clean. Must be called with bp.mu held.
func (bp *BufferPool) flushFrame(idx int) error {
	page := bp.frames[idx].page
	file, err := bp.files.GetDatabaseFile(page.ID().Table)
	if err != nil {
		return err
	}
	if err := file.WritePage(page); err != nil {
		return err
	}
	page.MarkDirty(false, common.InvalidTransactionID)
	return nil
}

// discardFrame drops the page in frame idx without writing it. Must be called with bp.mu held.
func (bp *BufferPool) discardFrame(idx int) {
	bp.pageTable.Delete(bp.frames[idx].page.ID())
	bp.frames[idx] = pageFrame{}
}

// FlushPage writes pid to disk if it is cached and dirty.
func (bp *BufferPool) FlushPage(pid common.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	idx, ok := bp.pageTable.Load(pid)
	if !ok {
		return nil
	}
	if _, dirty := bp.frames[idx].page.IsDirty(); !dirty {
		return nil
	}
	return bp.flushFrame(idx)
}

// DiscardPage removes pid from the cache without writing it back.
func (bp *BufferPool) DiscardPage(pid common.PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if idx, ok := bp.pageTable.Load(pid); ok {
		bp.discardFrame(idx)
	}
}

// FlushPages writes every cached page dirtied by tid to disk without ending the transaction.
func (bp *BufferPool) FlushPages(tid common.TransactionID) error {
	set, ok := bp.dirtied.Load(tid)
	if !ok {
		return nil
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	var err error
	set.Scan(func(pid common.PageID) bool {
		idx, ok := bp.pageTable.Load(pid)
		if !ok || !isDirtiedBy(bp.frames[idx].page, tid) {
			return true
		}
		err = bp.flushFrame(idx)
		return err == nil
	})
	return err
}

// FlushAllPages writes every dirty page in the pool to disk, regardless of which transaction dirtied it.
// It breaks no-steal if transactions are running and is meant for shutdown and tests.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for idx := range bp.frames {
		page := bp.frames[idx].page
		if page == nil {
			continue
		}
		if _, dirty := page.IsDirty(); !dirty {
			continue
		}
		if err := bp.flushFrame(idx); err != nil {
			return err
		}
	}
	return nil
}

// DirtyPages returns a snapshot of the dirty pages in the pool and the transaction that dirtied each.
func (bp *BufferPool) DirtyPages() map[common.PageID]common.TransactionID {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	dirtyPages := make(map[common.PageID]common.TransactionID)
	for _, frame := range bp.frames {
		if frame.page == nil {
			continue
		}
		if tid, dirty := frame.page.IsDirty(); dirty {
			dirtyPages[frame.page.ID()] = tid
		}
	}
	return dirtyPages
}
