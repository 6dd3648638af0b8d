package transaction

import (
	"fmt"
	"log/slog"
	"sync"

	"mit.edu/dsg/heapdb/common"
)

// DBLockMode represents the type of access a transaction is requesting on a page.
type DBLockMode int

const (
	// LockModeS (Shared) allows reading a page. Multiple transactions can hold S locks simultaneously.
	LockModeS DBLockMode = iota
	// LockModeX (Exclusive) allows modification. It is incompatible with every lock held by another transaction.
	LockModeX
)

func (m DBLockMode) String() string {
	switch m {
	case LockModeS:
		return "LockModeS"
	case LockModeX:
		return "LockModeX"
	}
	return "unknown"
}

// LockModeFor maps a page access permission to the lock mode that protects it.
func LockModeFor(perm common.Permission) DBLockMode {
	if perm == common.ReadWrite {
		return LockModeX
	}
	return LockModeS
}

// lockKey identifies the lock units one transaction holds on one page.
type lockKey struct {
	tid common.TransactionID
	pid common.PageID
}

// lockCount is the number of units of each mode held under a lockKey. Both counts are re-entrant.
type lockCount struct {
	read  int
	write int
}

type txnSet map[common.TransactionID]struct{}

// dbLock is the lock table entry of one page.
type dbLock struct {
	pid            common.PageID
	readers        txnSet
	writer         common.TransactionID
	waitingReaders txnSet
	waitingWriters txnSet
	// cond shares the lock table mutex; it is broadcast on every release of this page.
	cond *sync.Cond
}

func (l *dbLock) initialize(pid common.PageID) {
	l.pid = pid
	l.writer = common.InvalidTransactionID
	clear(l.readers)
	clear(l.waitingReaders)
	clear(l.waitingWriters)
}

func (l *dbLock) outOfScope() bool {
	return len(l.readers) == 0 && l.writer == common.InvalidTransactionID &&
		len(l.waitingReaders) == 0 && len(l.waitingWriters) == 0
}

// canGrant applies the compatibility rule. Locks held by tid itself never conflict with its own request,
// so an S holder can upgrade to X once it is the only holder.
func (l *dbLock) canGrant(tid common.TransactionID, mode DBLockMode) bool {
	if l.writer != common.InvalidTransactionID && l.writer != tid {
		return false
	}
	if mode == LockModeS {
		return true
	}
	for r := range l.readers {
		if r != tid {
			return false
		}
	}
	return true
}

func (l *dbLock) enqueue(tid common.TransactionID, mode DBLockMode) {
	if mode == LockModeS {
		l.waitingReaders[tid] = struct{}{}
	} else {
		l.waitingWriters[tid] = struct{}{}
	}
}

func (l *dbLock) dequeue(tid common.TransactionID) {
	delete(l.waitingReaders, tid)
	delete(l.waitingWriters, tid)
}

// blockers calls fn for every transaction that keeps the waiting transaction tid from being granted this page.
// A pending reader waits only for the writer; a pending writer waits for the writer and every reader.
func (l *dbLock) blockers(tid common.TransactionID, fn func(common.TransactionID)) {
	_, isWriter := l.waitingWriters[tid]
	if _, isReader := l.waitingReaders[tid]; !isReader && !isWriter {
		return
	}
	if l.writer != common.InvalidTransactionID && l.writer != tid {
		fn(l.writer)
	}
	if !isWriter {
		return
	}
	for r := range l.readers {
		if r != tid {
			fn(r)
		}
	}
}

// LockManager grants, releases, and queues page-level shared and exclusive locks for strict two-phase locking.
//
// Every request that cannot be granted immediately runs a breadth-first search over the waits-for graph before
// blocking. If the requester can reach itself, it is the one aborted with DeadlockError; the transactions it
// would have waited on are left alone.
//
// All bookkeeping lives behind one mutex. Each page entry's condition variable shares that mutex, so a waiter's
// re-check, enqueue, cycle search, and wait are atomic with respect to every other request.
type LockManager struct {
	mu        sync.Mutex
	lockTable map[common.PageID]*dbLock
	counts    map[lockKey]*lockCount
	// touched indexes, per transaction, the pages it holds units on.
	touched map[common.TransactionID]map[common.PageID]struct{}
	// waitsOn indexes, per transaction, the pages it is queued on.
	waitsOn    map[common.TransactionID]map[common.PageID]struct{}
	dbLockPool sync.Pool
	logger     *slog.Logger
}

// NewLockManager initializes a new LockManager.
func NewLockManager() *LockManager {
	lm := &LockManager{
		lockTable: make(map[common.PageID]*dbLock),
		counts:    make(map[lockKey]*lockCount),
		touched:   make(map[common.TransactionID]map[common.PageID]struct{}),
		waitsOn:   make(map[common.TransactionID]map[common.PageID]struct{}),
		logger:    common.Logger("lockmanager"),
	}
	lm.dbLockPool.New = func() any {
		return &dbLock{
			readers:        make(txnSet),
			waitingReaders: make(txnSet),
			waitingWriters: make(txnSet),
			cond:           sync.NewCond(&lm.mu),
		}
	}
	return lm
}

func (lm *LockManager) getLock(pid common.PageID) *dbLock {
	if l, ok := lm.lockTable[pid]; ok {
		return l
	}
	l := lm.dbLockPool.Get().(*dbLock)
	l.initialize(pid)
	lm.lockTable[pid] = l
	return l
}

func (lm *LockManager) maybeRecycle(l *dbLock) {
	if !l.outOfScope() || lm.lockTable[l.pid] != l {
		return
	}
	delete(lm.lockTable, l.pid)
	lm.dbLockPool.Put(l)
}

func addToIndex(index map[common.TransactionID]map[common.PageID]struct{}, tid common.TransactionID, pid common.PageID) {
	pages, ok := index[tid]
	if !ok {
		pages = make(map[common.PageID]struct{})
		index[tid] = pages
	}
	pages[pid] = struct{}{}
}

func removeFromIndex(index map[common.TransactionID]map[common.PageID]struct{}, tid common.TransactionID, pid common.PageID) {
	if pages, ok := index[tid]; ok {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(index, tid)
		}
	}
}

// Lock acquires one unit of a lock on pid in the requested mode. If the lock cannot be granted immediately, the
// caller blocks until it is. It returns nil once the lock is held, or DBError(DeadlockError) if waiting would close
// a cycle in the waits-for graph; in that case tid is no longer queued anywhere and holds nothing new.
func (lm *LockManager) Lock(tid common.TransactionID, pid common.PageID, mode DBLockMode) error {
	common.Assert(tid != common.InvalidTransactionID, "locking with an invalid transaction id")
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l := lm.getLock(pid)
	for !l.canGrant(tid, mode) {
		l.enqueue(tid, mode)
		addToIndex(lm.waitsOn, tid, pid)
		if lm.detectCycle(tid) {
			l.dequeue(tid)
			removeFromIndex(lm.waitsOn, tid, pid)
			lm.maybeRecycle(l)
			lm.logger.Debug("deadlock detected", "txn", tid, "page", pid, "mode", mode)
			return common.DBError{
				Code:      common.DeadlockError,
				ErrString: fmt.Sprintf("deadlock: %s waiting for %s on %s", tid, mode, pid),
			}
		}
		l.cond.Wait()
		// the entry is recycled if another goroutine withdrew our request while we slept
		l = lm.getLock(pid)
	}
	l.dequeue(tid)
	removeFromIndex(lm.waitsOn, tid, pid)

	key := lockKey{tid, pid}
	c, ok := lm.counts[key]
	if !ok {
		c = &lockCount{}
		lm.counts[key] = c
		addToIndex(lm.touched, tid, pid)
	}
	if mode == LockModeS {
		c.read++
		l.readers[tid] = struct{}{}
	} else {
		c.write++
		l.writer = tid
	}
	return nil
}

// detectCycle walks the waits-for graph breadth first from tid and reports whether tid is reachable again.
// Must be called with lm.mu held.
func (lm *LockManager) detectCycle(tid common.TransactionID) bool {
	visited := txnSet{tid: {}}
	frontier := []common.TransactionID{tid}
	found := false
	for len(frontier) > 0 && !found {
		var next []common.TransactionID
		for _, waiter := range frontier {
			for pid := range lm.waitsOn[waiter] {
				lm.lockTable[pid].blockers(waiter, func(b common.TransactionID) {
					if b == tid {
						found = true
						return
					}
					if _, seen := visited[b]; !seen {
						visited[b] = struct{}{}
						next = append(next, b)
					}
				})
			}
		}
		frontier = next
	}
	return found
}

// Unlock releases one unit of the given mode that tid holds on pid. Releasing a unit that is not held is a no-op.
func (lm *LockManager) Unlock(tid common.TransactionID, pid common.PageID, mode DBLockMode) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	key := lockKey{tid, pid}
	c, ok := lm.counts[key]
	if !ok {
		return
	}
	if mode == LockModeS {
		if c.read == 0 {
			return
		}
		c.read--
	} else {
		if c.write == 0 {
			return
		}
		c.write--
	}
	lm.settle(key, c)
}

// ReleaseLock releases every unit tid holds on pid and withdraws any request tid has queued on it.
func (lm *LockManager) ReleaseLock(tid common.TransactionID, pid common.PageID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.releaseLocked(tid, pid)
}

// ReleaseAllLocks releases every lock tid holds and withdraws every request it has queued.
func (lm *LockManager) ReleaseAllLocks(tid common.TransactionID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pages := make([]common.PageID, 0, len(lm.touched[tid])+len(lm.waitsOn[tid]))
	for pid := range lm.touched[tid] {
		pages = append(pages, pid)
	}
	for pid := range lm.waitsOn[tid] {
		pages = append(pages, pid)
	}
	for _, pid := range pages {
		lm.releaseLocked(tid, pid)
	}
}

func (lm *LockManager) releaseLocked(tid common.TransactionID, pid common.PageID) {
	key := lockKey{tid, pid}
	if c, ok := lm.counts[key]; ok {
		c.read, c.write = 0, 0
		lm.settle(key, c)
	}
	if _, waiting := lm.waitsOn[tid][pid]; waiting {
		removeFromIndex(lm.waitsOn, tid, pid)
		if l, ok := lm.lockTable[pid]; ok {
			l.dequeue(tid)
			l.cond.Broadcast()
			lm.maybeRecycle(l)
		}
	}
}

// settle reflects the counts of key in its page entry, wakes the page's waiters, and prunes empty state.
func (lm *LockManager) settle(key lockKey, c *lockCount) {
	l, ok := lm.lockTable[key.pid]
	common.Assert(ok, "held lock on %s has no lock table entry", key.pid)
	if c.read == 0 {
		delete(l.readers, key.tid)
	}
	if c.write == 0 && l.writer == key.tid {
		l.writer = common.InvalidTransactionID
	}
	if c.read == 0 && c.write == 0 {
		delete(lm.counts, key)
		removeFromIndex(lm.touched, key.tid, key.pid)
	}
	l.cond.Broadcast()
	lm.maybeRecycle(l)
}

// HoldsLock reports whether tid holds any unit of any mode on pid.
func (lm *LockManager) HoldsLock(tid common.TransactionID, pid common.PageID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	_, ok := lm.counts[lockKey{tid, pid}]
	return ok
}

// HoldsExclusive reports whether tid holds an exclusive unit on pid.
func (lm *LockManager) HoldsExclusive(tid common.TransactionID, pid common.PageID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	c, ok := lm.counts[lockKey{tid, pid}]
	return ok && c.write > 0
}

// IsExclusivelyLocked reports whether any transaction holds an exclusive lock on pid.
func (lm *LockManager) IsExclusivelyLocked(pid common.PageID) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.lockTable[pid]
	return ok && l.writer != common.InvalidTransactionID
}

// LockedPages returns the pages on which tid currently holds at least one unit.
func (lm *LockManager) LockedPages(tid common.TransactionID) []common.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pages := make([]common.PageID, 0, len(lm.touched[tid]))
	for pid := range lm.touched[tid] {
		pages = append(pages, pid)
	}
	return pages
}

// WaitingPages returns the pages on which tid currently has a queued request.
func (lm *LockManager) WaitingPages(tid common.TransactionID) []common.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pages := make([]common.PageID, 0, len(lm.waitsOn[tid]))
	for pid := range lm.waitsOn[tid] {
		pages = append(pages, pid)
	}
	return pages
}
