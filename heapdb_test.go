package heapdb

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/config"
	"mit.edu/dsg/heapdb/execution"
	"mit.edu/dsg/heapdb/storage"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.SchemaFile = filepath.Join(dir, "schema.txt")
	cfg.BufferPool.NumPages = 10
	require.NoError(t, os.WriteFile(cfg.SchemaFile, []byte("users (id int pk, name string)\nitems (sku int, qty int)\n"), 0o600))
	return cfg
}

func openDB(t *testing.T, cfg *config.Config) *Database {
	db, err := Open(cfg)
	require.NoError(t, err)
	return db
}

func insertRows(t *testing.T, db *Database, tid common.TransactionID, table string, rows ...*storage.Tuple) {
	id, err := db.Catalog.GetTableID(table)
	require.NoError(t, err)
	desc, err := db.Catalog.GetTupleDesc(id)
	require.NoError(t, err)
	insert, err := execution.NewInsertExecutor(db.Catalog, id, execution.NewValuesExecutor(desc, rows...))
	require.NoError(t, err)
	_, err = db.Query(tid, insert)
	require.NoError(t, err)
}

func scanTable(t *testing.T, db *Database, tid common.TransactionID, table string) []*storage.Tuple {
	id, err := db.Catalog.GetTableID(table)
	require.NoError(t, err)
	scan, err := execution.NewSeqScanExecutor(db.Catalog, id, "")
	require.NoError(t, err)
	tuples, err := db.Query(tid, scan)
	require.NoError(t, err)
	return tuples
}

func user(db *Database, id int32, name string) *storage.Tuple {
	tableID, _ := db.Catalog.GetTableID("users")
	desc, _ := db.Catalog.GetTupleDesc(tableID)
	return storage.NewTuple(desc, storage.NewIntField(id), storage.NewStringField(name))
}

func TestOpenLoadsSchema(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)
	defer db.Close()

	assert.Len(t, db.Catalog.TableIDs(), 2)
	id, err := db.Catalog.GetTableID("users")
	require.NoError(t, err)
	pk, err := db.Catalog.GetPrimaryKey(id)
	require.NoError(t, err)
	assert.Equal(t, "id", pk)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "users.dat"))
	assert.Equal(t, 10, db.BufferPool.Capacity())
}

func TestOpenWithoutSchema(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested")
	cfg.SchemaFile = filepath.Join(cfg.DataDir, "schema.txt")
	db := openDB(t, cfg)
	defer db.Close()

	assert.Empty(t, db.Catalog.TableIDs())
	assert.DirExists(t, cfg.DataDir)
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)

	err := db.RunTransaction(func(tid common.TransactionID) error {
		insertRows(t, db, tid, "users", user(db, 1, "ada"), user(db, 2, "grace"))
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, db.BufferPool.DirtyPages())
	require.NoError(t, db.Close())

	reopened := openDB(t, cfg)
	defer reopened.Close()
	tid := reopened.Begin()
	rows := scanTable(t, reopened, tid, "users")
	require.Len(t, rows, 2)
	assert.Equal(t, "ada", rows[0].Field(1).StringValue())
	assert.Equal(t, "grace", rows[1].Field(1).StringValue())
	require.NoError(t, reopened.Commit(tid))
}

func TestRunTransactionAbortsOnError(t *testing.T) {
	db := openDB(t, testConfig(t))
	defer db.Close()

	boom := errors.New("boom")
	err := db.RunTransaction(func(tid common.TransactionID) error {
		insertRows(t, db, tid, "users", user(db, 1, "ada"))
		assert.Len(t, scanTable(t, db, tid, "users"), 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, db.ActiveTransactions())

	tid := db.Begin()
	assert.Empty(t, scanTable(t, db, tid, "users"))
	require.NoError(t, db.Commit(tid))
}

func TestTransactionBookkeeping(t *testing.T) {
	db := New(4)
	defer db.Close()

	t1 := db.Begin()
	t2 := db.Begin()
	assert.Equal(t, []common.TransactionID{t1, t2}, db.ActiveTransactions())

	require.NoError(t, db.Commit(t1))
	assert.Equal(t, []common.TransactionID{t2}, db.ActiveTransactions())

	err := db.Commit(t1)
	assert.True(t, common.IsErrorCode(err, common.IllegalOperationError))
	err = db.Abort(common.NewTransactionID())
	assert.True(t, common.IsErrorCode(err, common.IllegalOperationError))

	require.NoError(t, db.Abort(t2))
	assert.Empty(t, db.ActiveTransactions())
}

func TestCloseAbortsRunningTransactions(t *testing.T) {
	cfg := testConfig(t)
	db := openDB(t, cfg)

	tid := db.Begin()
	insertRows(t, db, tid, "users", user(db, 9, "left open"))
	require.NoError(t, db.Close())
	assert.Empty(t, db.ActiveTransactions())

	reopened := openDB(t, cfg)
	defer reopened.Close()
	tid = reopened.Begin()
	assert.Empty(t, scanTable(t, reopened, tid, "users"))
	require.NoError(t, reopened.Commit(tid))
}

// Each transaction reads one table and then writes the other. One of them must be chosen as the deadlock
// victim and roll back; the other commits.
func TestRunTransactionDeadlockVictim(t *testing.T) {
	db := openDB(t, testConfig(t))
	defer db.Close()

	itemsID, err := db.Catalog.GetTableID("items")
	require.NoError(t, err)
	itemsDesc, err := db.Catalog.GetTupleDesc(itemsID)
	require.NoError(t, err)
	item := func(sku, qty int32) *storage.Tuple {
		return storage.NewTuple(itemsDesc, storage.NewIntField(sku), storage.NewIntField(qty))
	}
	require.NoError(t, db.RunTransaction(func(tid common.TransactionID) error {
		insertRows(t, db, tid, "users", user(db, 1, "ada"))
		insertRows(t, db, tid, "items", item(1, 1))
		return nil
	}))

	var ready sync.WaitGroup
	ready.Add(2)
	run := func(readTable, writeTable string, row *storage.Tuple) error {
		return db.RunTransaction(func(tid common.TransactionID) error {
			scanTable(t, db, tid, readTable)
			ready.Done()
			ready.Wait()

			id, _ := db.Catalog.GetTableID(writeTable)
			return db.BufferPool.InsertTuple(tid, id, row)
		})
	}

	errs := make(chan error, 2)
	go func() { errs <- run("users", "items", item(2, 2)) }()
	go func() { errs <- run("items", "users", user(db, 2, "grace")) }()
	e1, e2 := <-errs, <-errs

	deadlocks := 0
	for _, e := range []error{e1, e2} {
		if e != nil {
			assert.True(t, common.IsErrorCode(e, common.DeadlockError), "unexpected error %v", e)
			deadlocks++
		}
	}
	assert.Equal(t, 1, deadlocks)
	assert.Empty(t, db.ActiveTransactions())

	tid := db.Begin()
	total := len(scanTable(t, db, tid, "users")) + len(scanTable(t, db, tid, "items"))
	assert.Equal(t, 3, total, "exactly one of the two inserts commits")
	require.NoError(t, db.Commit(tid))
}
