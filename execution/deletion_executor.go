package execution

import (
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// DeletionExecutor deletes every tuple produced by its child, then emits a single tuple holding the number
// of rows deleted. Child tuples must carry the RecordID they were read from.
type DeletionExecutor struct {
	child Executor

	// Runtime state
	executed bool
	emitted  bool
	cnt      int
	ctx      *ExecutorContext
	err      error
}

func NewDeleteExecutor(child Executor) *DeletionExecutor {
	return &DeletionExecutor{
		child: child,
	}
}

func (e *DeletionExecutor) TupleDesc() *storage.TupleDesc {
	return countDesc
}

func (e *DeletionExecutor) Init(ctx *ExecutorContext) error {
	e.ctx = ctx
	e.executed = false
	e.emitted = false
	e.cnt = 0
	e.err = nil
	return e.child.Init(ctx)
}

func (e *DeletionExecutor) Next() bool {
	if !e.executed {
		bp := e.ctx.BufferPool()
		for e.child.Next() {
			tuple := e.child.Current()
			common.Assert(tuple.RID() != nil, "RID to delete should not be nil")

			if err := bp.DeleteTuple(e.ctx.TransactionID(), tuple); err != nil {
				e.err = err
				return false
			}
			e.cnt++
		}
		if err := e.child.Error(); err != nil {
			e.err = err
			return false
		}
		e.executed = true
	}
	if e.emitted {
		return false
	}
	e.emitted = true
	return true
}

func (e *DeletionExecutor) Current() *storage.Tuple {
	return storage.NewTuple(countDesc, storage.NewIntField(int32(e.cnt)))
}

// Rewind replays the count tuple.
func (e *DeletionExecutor) Rewind() error {
	e.emitted = false
	return nil
}

func (e *DeletionExecutor) Close() error {
	return e.child.Close()
}

func (e *DeletionExecutor) Error() error {
	return e.err
}
