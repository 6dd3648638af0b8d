package transaction

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/heapdb/common"
)

var (
	pageA = common.PageID{Table: 1, PageNum: 0}
	pageB = common.PageID{Table: 1, PageNum: 1}
)

// lockAsync issues a Lock call on its own goroutine and returns a channel carrying its result.
func lockAsync(lm *LockManager, tid common.TransactionID, pid common.PageID, mode DBLockMode) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- lm.Lock(tid, pid, mode)
	}()
	return done
}

func waitUntilQueued(t *testing.T, lm *LockManager, tid common.TransactionID, pid common.PageID) {
	require.Eventually(t, func() bool {
		for _, waiting := range lm.WaitingPages(tid) {
			if waiting == pid {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "%s never queued on %s", tid, pid)
}

func assertBlocked(t *testing.T, done <-chan error) {
	select {
	case err := <-done:
		t.Fatalf("lock request should block, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func assertGranted(t *testing.T, done <-chan error) {
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lock request was never granted")
	}
}

func TestLockManager_SharedLocksAreCompatible(t *testing.T) {
	lm := NewLockManager()
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	require.NoError(t, lm.Lock(t1, pageA, LockModeS))
	require.NoError(t, lm.Lock(t2, pageA, LockModeS))
	assert.True(t, lm.HoldsLock(t1, pageA))
	assert.True(t, lm.HoldsLock(t2, pageA))
	assert.False(t, lm.IsExclusivelyLocked(pageA))
}

func TestLockManager_ExclusiveBlocksOthers(t *testing.T) {
	lm := NewLockManager()
	t1, t2, t3 := common.NewTransactionID(), common.NewTransactionID(), common.NewTransactionID()

	require.NoError(t, lm.Lock(t1, pageA, LockModeX))
	assert.True(t, lm.IsExclusivelyLocked(pageA))

	reader := lockAsync(lm, t2, pageA, LockModeS)
	writer := lockAsync(lm, t3, pageA, LockModeX)
	assertBlocked(t, reader)
	assertBlocked(t, writer)

	lm.ReleaseAllLocks(t1)
	// whichever of the two gets the page first, the other follows once it is released
	select {
	case err := <-reader:
		require.NoError(t, err)
		lm.ReleaseAllLocks(t2)
		assertGranted(t, writer)
	case err := <-writer:
		require.NoError(t, err)
		lm.ReleaseAllLocks(t3)
		assertGranted(t, reader)
	case <-time.After(2 * time.Second):
		t.Fatal("no waiter was granted after release")
	}
}

func TestLockManager_Reentrancy(t *testing.T) {
	lm := NewLockManager()
	tid := common.NewTransactionID()

	require.NoError(t, lm.Lock(tid, pageA, LockModeS))
	require.NoError(t, lm.Lock(tid, pageA, LockModeS))
	lm.Unlock(tid, pageA, LockModeS)
	assert.True(t, lm.HoldsLock(tid, pageA), "one unit should still be held")
	lm.Unlock(tid, pageA, LockModeS)
	assert.False(t, lm.HoldsLock(tid, pageA))

	// unlocking something not held is harmless
	lm.Unlock(tid, pageA, LockModeX)
	assert.False(t, lm.HoldsLock(tid, pageA))

	require.NoError(t, lm.Lock(tid, pageA, LockModeX))
	require.NoError(t, lm.Lock(tid, pageA, LockModeX))
	require.NoError(t, lm.Lock(tid, pageA, LockModeS), "exclusive holder may also read")
	lm.ReleaseLock(tid, pageA)
	assert.False(t, lm.HoldsLock(tid, pageA))
	assert.False(t, lm.IsExclusivelyLocked(pageA))
}

func TestLockManager_UpgradeWhenSoleHolder(t *testing.T) {
	lm := NewLockManager()
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	require.NoError(t, lm.Lock(t1, pageA, LockModeS))
	require.NoError(t, lm.Lock(t1, pageA, LockModeX))
	assert.True(t, lm.HoldsExclusive(t1, pageA))

	reader := lockAsync(lm, t2, pageA, LockModeS)
	assertBlocked(t, reader)
	lm.ReleaseAllLocks(t1)
	assertGranted(t, reader)
}

func TestLockManager_UpgradeWaitsForOtherReaders(t *testing.T) {
	lm := NewLockManager()
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	require.NoError(t, lm.Lock(t1, pageA, LockModeS))
	require.NoError(t, lm.Lock(t2, pageA, LockModeS))

	upgrade := lockAsync(lm, t1, pageA, LockModeX)
	assertBlocked(t, upgrade)

	lm.Unlock(t2, pageA, LockModeS)
	assertGranted(t, upgrade)
	assert.True(t, lm.IsExclusivelyLocked(pageA))
}

// TestLockManager_Deadlock builds the classic cycle: t1 holds A and wants B, t2 holds B and wants A.
// Exactly the second requester must be told to abort, and t1 must proceed once t2 releases.
func TestLockManager_Deadlock(t *testing.T) {
	lm := NewLockManager()
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	require.NoError(t, lm.Lock(t1, pageA, LockModeX))
	require.NoError(t, lm.Lock(t2, pageB, LockModeX))

	t1WantsB := lockAsync(lm, t1, pageB, LockModeX)
	waitUntilQueued(t, lm, t1, pageB)

	err := lm.Lock(t2, pageA, LockModeS)
	require.Error(t, err)
	assert.True(t, common.IsErrorCode(err, common.DeadlockError), "expected deadlock, got %v", err)
	assert.False(t, lm.HoldsLock(t2, pageA))
	assertBlocked(t, t1WantsB)

	lm.ReleaseAllLocks(t2)
	assertGranted(t, t1WantsB)
	assert.True(t, lm.HoldsExclusive(t1, pageB))
}

func TestLockManager_UpgradeDeadlock(t *testing.T) {
	lm := NewLockManager()
	t1, t2 := common.NewTransactionID(), common.NewTransactionID()

	require.NoError(t, lm.Lock(t1, pageA, LockModeS))
	require.NoError(t, lm.Lock(t2, pageA, LockModeS))

	t1Upgrade := lockAsync(lm, t1, pageA, LockModeX)
	waitUntilQueued(t, lm, t1, pageA)

	err := lm.Lock(t2, pageA, LockModeX)
	assert.True(t, common.IsErrorCode(err, common.DeadlockError), "expected deadlock, got %v", err)

	lm.ReleaseAllLocks(t2)
	assertGranted(t, t1Upgrade)
}

func TestLockManager_ReadersDoNotWaitOnReaders(t *testing.T) {
	lm := NewLockManager()
	t1, t2, t3 := common.NewTransactionID(), common.NewTransactionID(), common.NewTransactionID()

	// t2 holds S on A and waits for t1's X on B; t3 waiting for S on A must not see t2 as a blocker.
	require.NoError(t, lm.Lock(t1, pageB, LockModeX))
	require.NoError(t, lm.Lock(t2, pageA, LockModeS))
	t2WantsB := lockAsync(lm, t2, pageB, LockModeS)
	waitUntilQueued(t, lm, t2, pageB)

	require.NoError(t, lm.Lock(t3, pageA, LockModeS))
	lm.ReleaseAllLocks(t1)
	assertGranted(t, t2WantsB)
}

func TestLockManager_ReleaseAllLocks(t *testing.T) {
	lm := NewLockManager()
	tid := common.NewTransactionID()
	require.NoError(t, lm.Lock(tid, pageA, LockModeS))
	require.NoError(t, lm.Lock(tid, pageB, LockModeX))
	assert.ElementsMatch(t, []common.PageID{pageA, pageB}, lm.LockedPages(tid))

	lm.ReleaseAllLocks(tid)
	assert.Empty(t, lm.LockedPages(tid))
	assert.False(t, lm.HoldsLock(tid, pageA))
	assert.False(t, lm.HoldsLock(tid, pageB))

	lm.mu.Lock()
	defer lm.mu.Unlock()
	assert.Empty(t, lm.lockTable, "released entries should be pruned")
	assert.Empty(t, lm.counts)
}

// TestLockManager_MutualExclusion hammers one page with exclusive lockers and checks that no two of them
// are ever inside the critical section together.
func TestLockManager_MutualExclusion(t *testing.T) {
	lm := NewLockManager()
	const workers = 8
	const iterations = 200

	var inside atomic.Int32
	var violations atomic.Int32
	counter := 0

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				tid := common.NewTransactionID()
				if err := lm.Lock(tid, pageA, LockModeX); err != nil {
					violations.Add(1)
					return
				}
				if inside.Add(1) != 1 {
					violations.Add(1)
				}
				counter++
				inside.Add(-1)
				lm.ReleaseAllLocks(tid)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), violations.Load())
	assert.Equal(t, workers*iterations, counter)
}
