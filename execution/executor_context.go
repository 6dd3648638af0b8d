package execution

import (
	"mit.edu/dsg/heapdb/catalog"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// ExecutorContext holds all the state and resources required for query execution.
// It is passed to every Executor on Init.
type ExecutorContext struct {
	tid        common.TransactionID
	catalog    *catalog.Catalog
	bufferPool *storage.BufferPool
}

func NewExecutorContext(tid common.TransactionID, cat *catalog.Catalog, bp *storage.BufferPool) *ExecutorContext {
	return &ExecutorContext{
		tid:        tid,
		catalog:    cat,
		bufferPool: bp,
	}
}

func (ctx *ExecutorContext) TransactionID() common.TransactionID {
	return ctx.tid
}

func (ctx *ExecutorContext) Catalog() *catalog.Catalog {
	return ctx.catalog
}

func (ctx *ExecutorContext) BufferPool() *storage.BufferPool {
	return ctx.bufferPool
}
