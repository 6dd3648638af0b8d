// Package heapdb ties the catalog, lock manager and buffer pool together and manages the lifecycle of
// transactions running against them.
package heapdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/heapdb/catalog"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/config"
	"mit.edu/dsg/heapdb/execution"
	"mit.edu/dsg/heapdb/storage"
	"mit.edu/dsg/heapdb/transaction"
)

// Database is the top-level container for the database system.
type Database struct {
	Catalog     *catalog.Catalog
	BufferPool  *storage.BufferPool
	LockManager *transaction.LockManager

	// activeTxns maps running transactions to the time they began.
	activeTxns *xsync.MapOf[common.TransactionID, time.Time]
	logger     *slog.Logger
}

// New creates an empty database whose buffer pool holds numPages pages.
func New(numPages int) *Database {
	cat := catalog.NewCatalog()
	lockManager := transaction.NewLockManager()
	return &Database{
		Catalog:     cat,
		BufferPool:  storage.NewBufferPool(numPages, cat, lockManager),
		LockManager: lockManager,
		activeTxns:  xsync.NewMapOf[common.TransactionID, time.Time](),
		logger:      common.Logger("database"),
	}
}

// Open creates a database as configured by cfg. If cfg.SchemaFile exists, its tables are loaded.
func Open(cfg *config.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}

	db := New(cfg.BufferPool.NumPages)
	if _, err := os.Stat(cfg.SchemaFile); err == nil {
		if _, err := db.Catalog.LoadSchema(cfg.SchemaFile, db.BufferPool); err != nil {
			_ = db.Catalog.Close()
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	db.logger.Info("database opened", "data_dir", cfg.DataDir, "tables", len(db.Catalog.TableIDs()),
		"buffer_pool_pages", cfg.BufferPool.NumPages)
	return db, nil
}

// CreateTable registers a heap file at path as table name, creating the file if needed.
func (db *Database) CreateTable(path string, name string, desc *storage.TupleDesc, primaryKey string) (*catalog.Table, error) {
	hf, err := storage.NewHeapFile(path, desc, db.BufferPool)
	if err != nil {
		return nil, err
	}
	return db.Catalog.AddTable(hf, name, primaryKey), nil
}

// Begin starts a new transaction.
func (db *Database) Begin() common.TransactionID {
	tid := common.NewTransactionID()
	db.activeTxns.Store(tid, time.Now())
	db.logger.Debug("begin", "txn", tid)
	return tid
}

func (db *Database) complete(tid common.TransactionID, commit bool) error {
	started, ok := db.activeTxns.LoadAndDelete(tid)
	if !ok {
		return common.Errorf(common.IllegalOperationError, "%s is not active", tid)
	}
	err := db.BufferPool.TransactionComplete(tid, commit)
	db.logger.Debug("end", "txn", tid, "commit", commit, "elapsed", time.Since(started), "err", err)
	return err
}

// Commit makes tid's changes durable and releases its locks.
func (db *Database) Commit(tid common.TransactionID) error {
	return db.complete(tid, true)
}

// Abort discards tid's changes and releases its locks.
func (db *Database) Abort(tid common.TransactionID) error {
	return db.complete(tid, false)
}

// ActiveTransactions returns the running transactions in the order they began.
func (db *Database) ActiveTransactions() []common.TransactionID {
	tids := make([]common.TransactionID, 0, db.activeTxns.Size())
	db.activeTxns.Range(func(tid common.TransactionID, _ time.Time) bool {
		tids = append(tids, tid)
		return true
	})
	slices.Sort(tids)
	return tids
}

// RunTransaction runs fn in a new transaction. The transaction commits if fn succeeds and aborts if fn
// returns an error, which is then returned. A DeadlockError from fn therefore rolls the transaction back
// and can be retried by the caller.
func (db *Database) RunTransaction(fn func(tid common.TransactionID) error) error {
	tid := db.Begin()
	if err := fn(tid); err != nil {
		if abortErr := db.Abort(tid); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return err
	}
	return db.Commit(tid)
}

// ExecutorContext binds query operators to tid.
func (db *Database) ExecutorContext(tid common.TransactionID) *execution.ExecutorContext {
	return execution.NewExecutorContext(tid, db.Catalog, db.BufferPool)
}

// Query runs e to completion in tid and returns what it produced.
func (db *Database) Query(tid common.TransactionID, e execution.Executor) ([]*storage.Tuple, error) {
	return execution.Drain(db.ExecutorContext(tid), e)
}

// Close aborts any running transactions and closes every table file.
func (db *Database) Close() error {
	var errs []error
	for _, tid := range db.ActiveTransactions() {
		db.logger.Warn("aborting transaction on close", "txn", tid)
		if err := db.Abort(tid); err != nil {
			errs = append(errs, fmt.Errorf("abort %s: %w", tid, err))
		}
	}
	if err := db.Catalog.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
