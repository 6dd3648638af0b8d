package execution

import (
	"mit.edu/dsg/heapdb/storage"
)

// LimitExecutor limits the number of tuples returned by the child executor.
type LimitExecutor struct {
	limit int
	child Executor

	numEmitted int
}

func NewLimitExecutor(limit int, child Executor) *LimitExecutor {
	return &LimitExecutor{
		limit: limit,
		child: child,
	}
}

func (e *LimitExecutor) TupleDesc() *storage.TupleDesc {
	return e.child.TupleDesc()
}

func (e *LimitExecutor) Init(ctx *ExecutorContext) error {
	e.numEmitted = 0
	return e.child.Init(ctx)
}

func (e *LimitExecutor) Next() bool {
	if e.numEmitted >= e.limit {
		return false
	}
	if e.child.Next() {
		e.numEmitted++
		return true
	}
	return false
}

func (e *LimitExecutor) Current() *storage.Tuple {
	return e.child.Current()
}

func (e *LimitExecutor) Error() error {
	return e.child.Error()
}

func (e *LimitExecutor) Rewind() error {
	e.numEmitted = 0
	return e.child.Rewind()
}

func (e *LimitExecutor) Close() error {
	return e.child.Close()
}
