package execution

import (
	"mit.edu/dsg/heapdb/catalog"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// countDesc is the schema of the single tuple emitted by Insert and Delete.
var countDesc = storage.NewTupleDesc([]common.Type{common.IntType}, []string{"count"})

// InsertExecutor inserts every tuple produced by its child into a table, then emits a single tuple holding
// the number of rows inserted.
type InsertExecutor struct {
	tableID   common.TableID
	tableDesc *storage.TupleDesc
	child     Executor

	// Runtime state
	executed bool
	emitted  bool
	cnt      int
	ctx      *ExecutorContext
	err      error
}

// NewInsertExecutor creates an insert into tableID. The child's output types must equal the table's.
func NewInsertExecutor(cat *catalog.Catalog, tableID common.TableID, child Executor) (*InsertExecutor, error) {
	desc, err := cat.GetTupleDesc(tableID)
	if err != nil {
		return nil, err
	}
	if !desc.Equals(child.TupleDesc()) {
		return nil, common.Errorf(common.TypeMismatchError, "cannot insert %s into table with schema %s", child.TupleDesc(), desc)
	}
	return &InsertExecutor{
		tableID:   tableID,
		tableDesc: desc,
		child:     child,
	}, nil
}

func (e *InsertExecutor) TupleDesc() *storage.TupleDesc {
	return countDesc
}

func (e *InsertExecutor) Init(ctx *ExecutorContext) error {
	e.executed = false
	e.emitted = false
	e.cnt = 0
	e.ctx = ctx
	e.err = nil
	return e.child.Init(ctx)
}

func (e *InsertExecutor) Next() bool {
	if !e.executed {
		bp := e.ctx.BufferPool()
		for e.child.Next() {
			row := storage.NewTuple(e.tableDesc, e.child.Current().Copy().Fields()...)
			if err := bp.InsertTuple(e.ctx.TransactionID(), e.tableID, row); err != nil {
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

func (e *InsertExecutor) Current() *storage.Tuple {
	return storage.NewTuple(countDesc, storage.NewIntField(int32(e.cnt)))
}

// Rewind replays the count tuple; rows are never inserted twice.
func (e *InsertExecutor) Rewind() error {
	e.emitted = false
	return nil
}

func (e *InsertExecutor) Close() error {
	return e.child.Close()
}

func (e *InsertExecutor) Error() error {
	return e.err
}
