package storage

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/transaction"
)

// Wrappers around normal DBFile for testing purposes
type StatsDBFile struct {
	DBFile
	ReadCnt, WriteCnt atomic.Int64
}

func (f *StatsDBFile) ReadPage(pid common.PageID) (Page, error) {
	f.ReadCnt.Add(1)
	return f.DBFile.ReadPage(pid)
}

func (f *StatsDBFile) WritePage(page Page) error {
	f.WriteCnt.Add(1)
	return f.DBFile.WritePage(page)
}

func (f *StatsDBFile) resetStats() {
	f.ReadCnt.Store(0)
	f.WriteCnt.Store(0)
}

type testTableFiles struct {
	Files *xsync.MapOf[common.TableID, *StatsDBFile]
}

func newTestTableFiles() *testTableFiles {
	return &testTableFiles{Files: xsync.NewMapOf[common.TableID, *StatsDBFile]()}
}

func (m *testTableFiles) GetDatabaseFile(id common.TableID) (DBFile, error) {
	if f, ok := m.Files.Load(id); ok {
		return f, nil
	}
	return nil, common.Errorf(common.NoSuchObjectError, "no table %d", id)
}

type testEnv struct {
	dir   string
	files *testTableFiles
	lm    *transaction.LockManager
	bp    *BufferPool
}

func setupBufferPool(t *testing.T, numPages int) *testEnv {
	files := newTestTableFiles()
	lm := transaction.NewLockManager()
	return &testEnv{
		dir:   t.TempDir(),
		files: files,
		lm:    lm,
		bp:    NewBufferPool(numPages, files, lm),
	}
}

// openTable opens (or reopens) the heap file called name in the environment's directory and registers it.
func (env *testEnv) openTable(t *testing.T, name string, desc *TupleDesc) (*HeapFile, *StatsDBFile) {
	hf, err := NewHeapFile(filepath.Join(env.dir, name), desc, env.bp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hf.Close() })
	stats := &StatsDBFile{DBFile: hf}
	env.files.Files.Store(hf.ID(), stats)
	return hf, stats
}

// reopen builds a fresh pool and lock manager over the same directory, as after a restart.
func (env *testEnv) reopen(numPages int) *testEnv {
	files := newTestTableFiles()
	lm := transaction.NewLockManager()
	return &testEnv{dir: env.dir, files: files, lm: lm, bp: NewBufferPool(numPages, files, lm)}
}

func createEmptyPages(t *testing.T, hf *HeapFile, numPages int) {
	for i := 0; i < numPages; i++ {
		_, err := hf.appendEmptyPage()
		require.NoError(t, err)
	}
}

func scanAll(t *testing.T, file DBFile, tid common.TransactionID) []*Tuple {
	it := file.Iterator(tid)
	defer it.Close()
	var out []*Tuple
	for it.Next() {
		out = append(out, it.Current())
	}
	require.NoError(t, it.Error())
	return out
}

func intsOf(tuples []*Tuple) []int32 {
	out := make([]int32, len(tuples))
	for i, tup := range tuples {
		out[i] = tup.Field(0).IntValue()
	}
	return out
}

func TestBufferPool_CachesPages(t *testing.T) {
	env := setupBufferPool(t, 4)
	hf, stats := env.openTable(t, "t.dat", intStringDesc())
	createEmptyPages(t, hf, 2)
	stats.resetStats()

	tid := common.NewTransactionID()
	pid0 := common.PageID{Table: hf.ID(), PageNum: 0}
	p1, err := env.bp.GetPage(tid, pid0, common.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ReadCnt.Load(), "First access should read from disk")
	p2, err := env.bp.GetPage(tid, pid0, common.ReadOnly)
	require.NoError(t, err)
	assert.Same(t, p1, p2, "Second access should return the cached page")
	assert.Equal(t, int64(1), stats.ReadCnt.Load(), "Second access should be cached")
	assert.True(t, env.bp.HoldsLock(tid, pid0))

	require.NoError(t, env.bp.TransactionComplete(tid, true))
	assert.False(t, env.bp.HoldsLock(tid, pid0), "locks are released at transaction end")
	assert.Equal(t, int64(0), stats.WriteCnt.Load(), "clean pages are never written")
}

func TestBufferPool_EvictsCleanPages(t *testing.T) {
	env := setupBufferPool(t, 2)
	hf, stats := env.openTable(t, "t.dat", intStringDesc())
	createEmptyPages(t, hf, 4)
	stats.resetStats()

	tid := common.NewTransactionID()
	for i := int32(0); i < 4; i++ {
		_, err := env.bp.GetPage(tid, common.PageID{Table: hf.ID(), PageNum: i}, common.ReadOnly)
		require.NoError(t, err, "reading page %d should evict a clean page", i)
		assert.LessOrEqual(t, env.bp.NumCached(), 2)
	}
	assert.Equal(t, int64(4), stats.ReadCnt.Load())
	assert.Equal(t, int64(0), stats.WriteCnt.Load())
	require.NoError(t, env.bp.TransactionComplete(tid, true))
}

// TestBufferPool_NoSteal fills a one-page pool with a page dirtied by a running transaction. Nothing may be
// evicted or written until that transaction commits.
func TestBufferPool_NoSteal(t *testing.T) {
	env := setupBufferPool(t, 1)
	desc := intStringDesc()
	hfA, statsA := env.openTable(t, "a.dat", desc)
	hfB, _ := env.openTable(t, "b.dat", desc)
	createEmptyPages(t, hfA, 1)
	createEmptyPages(t, hfB, 1)
	statsA.resetStats()

	t1 := common.NewTransactionID()
	require.NoError(t, env.bp.InsertTuple(t1, hfA.ID(), makeTuple(desc, 1)))
	assert.Equal(t, map[common.PageID]common.TransactionID{{Table: hfA.ID(), PageNum: 0}: t1}, env.bp.DirtyPages())

	t2 := common.NewTransactionID()
	_, err := env.bp.GetPage(t2, common.PageID{Table: hfB.ID(), PageNum: 0}, common.ReadOnly)
	assert.True(t, common.IsErrorCode(err, common.BufferPoolFullError), "expected BufferPoolFullError, got %v", err)
	assert.Equal(t, int64(0), statsA.WriteCnt.Load(), "dirty page must not be written before commit")

	require.NoError(t, env.bp.TransactionComplete(t1, true))
	assert.Equal(t, int64(1), statsA.WriteCnt.Load(), "commit forces the dirty page")
	assert.Empty(t, env.bp.DirtyPages())

	_, err = env.bp.GetPage(t2, common.PageID{Table: hfB.ID(), PageNum: 0}, common.ReadOnly)
	require.NoError(t, err, "the committed page is clean and can now be evicted")
	require.NoError(t, env.bp.TransactionComplete(t2, true))
}

func TestBufferPool_CommitDurability(t *testing.T) {
	env := setupBufferPool(t, 10)
	desc := intStringDesc()
	hf, _ := env.openTable(t, "t.dat", desc)

	tid := common.NewTransactionID()
	for i := 0; i < 10; i++ {
		require.NoError(t, env.bp.InsertTuple(tid, hf.ID(), makeTuple(desc, i)))
	}
	require.NoError(t, env.bp.TransactionComplete(tid, true))

	restarted := env.reopen(10)
	reopened, _ := restarted.openTable(t, "t.dat", desc)
	assert.Equal(t, hf.ID(), reopened.ID(), "same path gives the same table id")

	reader := common.NewTransactionID()
	tuples := scanAll(t, reopened, reader)
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, intsOf(tuples))
	require.NoError(t, restarted.bp.TransactionComplete(reader, true))
}

func TestBufferPool_AbortAtomicity(t *testing.T) {
	env := setupBufferPool(t, 10)
	desc := intStringDesc()
	hf, stats := env.openTable(t, "t.dat", desc)

	setup := common.NewTransactionID()
	for i := 0; i < 3; i++ {
		require.NoError(t, env.bp.InsertTuple(setup, hf.ID(), makeTuple(desc, i)))
	}
	require.NoError(t, env.bp.TransactionComplete(setup, true))
	stats.resetStats()

	t2 := common.NewTransactionID()
	require.NoError(t, env.bp.InsertTuple(t2, hf.ID(), makeTuple(desc, 100)))
	require.NoError(t, env.bp.InsertTuple(t2, hf.ID(), makeTuple(desc, 101)))
	existing := scanAll(t, hf, t2)
	require.Len(t, existing, 5)
	require.NoError(t, env.bp.DeleteTuple(t2, existing[0]))
	assert.Len(t, scanAll(t, hf, t2), 4, "a transaction sees its own changes")

	require.NoError(t, env.bp.TransactionComplete(t2, false))
	assert.Equal(t, int64(0), stats.WriteCnt.Load(), "abort must not write anything")
	assert.Empty(t, env.bp.DirtyPages())

	t3 := common.NewTransactionID()
	assert.Equal(t, []int32{0, 1, 2}, intsOf(scanAll(t, hf, t3)))
	require.NoError(t, env.bp.TransactionComplete(t3, true))
}

// TestBufferPool_TwoTransactionScenario runs an insert-commit, delete-abort sequence through a two-page pool.
func TestBufferPool_TwoTransactionScenario(t *testing.T) {
	env := setupBufferPool(t, 2)
	desc := intStringDesc()
	hf, _ := env.openTable(t, "x.dat", desc)

	t1 := common.NewTransactionID()
	require.NoError(t, env.bp.InsertTuple(t1, hf.ID(), NewTuple(desc, NewIntField(1), NewStringField("a"))))
	require.NoError(t, env.bp.TransactionComplete(t1, true))

	t2 := common.NewTransactionID()
	rows := scanAll(t, hf, t2)
	require.Len(t, rows, 1)
	require.NoError(t, env.bp.DeleteTuple(t2, rows[0]))
	assert.Empty(t, scanAll(t, hf, t2))
	require.NoError(t, env.bp.TransactionComplete(t2, false))

	t3 := common.NewTransactionID()
	rows = scanAll(t, hf, t3)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(1), rows[0].Field(0).IntValue())
	assert.Equal(t, "a", rows[0].Field(1).StringValue())
	require.NoError(t, env.bp.TransactionComplete(t3, true))
}

func TestBufferPool_ExclusiveBlocksReaders(t *testing.T) {
	env := setupBufferPool(t, 4)
	desc := intStringDesc()
	hf, _ := env.openTable(t, "t.dat", desc)
	createEmptyPages(t, hf, 1)
	pid := common.PageID{Table: hf.ID(), PageNum: 0}

	writer := common.NewTransactionID()
	_, err := env.bp.GetPage(writer, pid, common.ReadWrite)
	require.NoError(t, err)

	reader := common.NewTransactionID()
	done := make(chan error, 1)
	go func() {
		_, err := env.bp.GetPage(reader, pid, common.ReadOnly)
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("reader should block behind the writer, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, env.bp.TransactionComplete(writer, true))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader never acquired the page")
	}
	require.NoError(t, env.bp.TransactionComplete(reader, true))
}

func TestBufferPool_DeadlockAbortReleasesLocks(t *testing.T) {
	env := setupBufferPool(t, 4)
	desc := intStringDesc()
	hf, _ := env.openTable(t, "t.dat", desc)
	createEmptyPages(t, hf, 2)
	p0 := common.PageID{Table: hf.ID(), PageNum: 0}
	p1 := common.PageID{Table: hf.ID(), PageNum: 1}

	t1, t2 := common.NewTransactionID(), common.NewTransactionID()
	_, err := env.bp.GetPage(t1, p0, common.ReadWrite)
	require.NoError(t, err)
	_, err = env.bp.GetPage(t2, p1, common.ReadWrite)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := env.bp.GetPage(t1, p1, common.ReadWrite)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return len(env.lm.WaitingPages(t1)) == 1
	}, 2*time.Second, time.Millisecond, "t1 should queue on p1")

	_, err = env.bp.GetPage(t2, p0, common.ReadOnly)
	assert.True(t, common.IsErrorCode(err, common.DeadlockError), "expected deadlock, got %v", err)

	require.NoError(t, env.bp.TransactionComplete(t2, false))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("t1 never acquired p1 after t2 aborted")
	}
	require.NoError(t, env.bp.TransactionComplete(t1, true))
}

func TestBufferPool_FlushAndDiscard(t *testing.T) {
	env := setupBufferPool(t, 4)
	desc := intStringDesc()
	hf, stats := env.openTable(t, "t.dat", desc)
	createEmptyPages(t, hf, 1)
	stats.resetStats()

	tid := common.NewTransactionID()
	require.NoError(t, env.bp.InsertTuple(tid, hf.ID(), makeTuple(desc, 7)))
	pid := common.PageID{Table: hf.ID(), PageNum: 0}

	require.NoError(t, env.bp.FlushPages(tid))
	assert.Equal(t, int64(1), stats.WriteCnt.Load())
	require.NoError(t, env.bp.FlushPage(pid), "flushing a clean page is a no-op")
	assert.Equal(t, int64(1), stats.WriteCnt.Load())

	env.bp.DiscardPage(pid)
	assert.False(t, env.bp.IsCached(pid))
	require.NoError(t, env.bp.FlushAllPages())
	require.NoError(t, env.bp.TransactionComplete(tid, true))

	reader := common.NewTransactionID()
	assert.Equal(t, []int32{7}, intsOf(scanAll(t, hf, reader)))
	require.NoError(t, env.bp.TransactionComplete(reader, true))
}

func TestBufferPool_ConcurrentInserts(t *testing.T) {
	env := setupBufferPool(t, 20)
	desc := intStringDesc()
	hf, _ := env.openTable(t, "t.dat", desc)

	const workers = 4
	const perWorker = 50
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			for i := 0; i < perWorker; {
				tid := common.NewTransactionID()
				err := env.bp.InsertTuple(tid, hf.ID(), makeTuple(desc, w*perWorker+i))
				if err != nil {
					_ = env.bp.TransactionComplete(tid, false)
					if common.IsErrorCode(err, common.DeadlockError) {
						continue
					}
					errs <- fmt.Errorf("worker %d: %w", w, err)
					return
				}
				if err := env.bp.TransactionComplete(tid, true); err != nil {
					errs <- err
					return
				}
				i++
			}
			errs <- nil
		}(w)
	}
	for w := 0; w < workers; w++ {
		require.NoError(t, <-errs)
	}

	reader := common.NewTransactionID()
	tuples := scanAll(t, hf, reader)
	assert.Len(t, tuples, workers*perWorker)
	require.NoError(t, env.bp.TransactionComplete(reader, true))
}
