package execution

import (
	"mit.edu/dsg/heapdb/catalog"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// UpdateExecutor sets some fields of every tuple produced by its child and emits the number of rows
// updated. A row is updated by deleting it and inserting the modified copy, so its RecordID may change.
type UpdateExecutor struct {
	tableID   common.TableID
	tableDesc *storage.TupleDesc
	child     Executor
	fields    []int
	values    []storage.Field

	executed bool
	emitted  bool
	cnt      int
	ctx      *ExecutorContext
	err      error
}

// NewUpdateExecutor creates an update of tableID assigning values[i] to field fields[i]. The child must
// produce tuples of the table.
func NewUpdateExecutor(cat *catalog.Catalog, tableID common.TableID, fields []int, values []storage.Field, child Executor) (*UpdateExecutor, error) {
	common.Assert(len(fields) == len(values), "update needs one value per field")
	desc, err := cat.GetTupleDesc(tableID)
	if err != nil {
		return nil, err
	}
	if !desc.Equals(child.TupleDesc()) {
		return nil, common.Errorf(common.TypeMismatchError, "cannot update %s rows from %s", desc, child.TupleDesc())
	}
	for i, f := range fields {
		if f < 0 || f >= desc.NumFields() {
			return nil, common.Errorf(common.NoSuchObjectError, "update field %d out of range for %s", f, desc)
		}
		if desc.FieldType(f) != values[i].Type() {
			return nil, common.Errorf(common.TypeMismatchError, "cannot assign %s to %s field %q",
				values[i].Type(), desc.FieldType(f), desc.FieldName(f))
		}
	}
	return &UpdateExecutor{
		tableID:   tableID,
		tableDesc: desc,
		child:     child,
		fields:    fields,
		values:    values,
	}, nil
}

func (e *UpdateExecutor) TupleDesc() *storage.TupleDesc {
	return countDesc
}

func (e *UpdateExecutor) Init(ctx *ExecutorContext) error {
	e.executed = false
	e.emitted = false
	e.cnt = 0
	e.ctx = ctx
	e.err = nil
	return e.child.Init(ctx)
}

func (e *UpdateExecutor) Next() bool {
	if !e.executed {
		// Read every target first so reinserted rows are never seen by the child scan.
		var targets []*storage.Tuple
		for e.child.Next() {
			targets = append(targets, e.child.Current().Copy())
		}
		if err := e.child.Error(); err != nil {
			e.err = err
			return false
		}

		bp := e.ctx.BufferPool()
		tid := e.ctx.TransactionID()
		for _, old := range targets {
			common.Assert(old.RID() != nil, "RID to update should not be nil")
			if err := bp.DeleteTuple(tid, old); err != nil {
				e.err = err
				return false
			}
			updated := storage.NewTuple(e.tableDesc, old.Fields()...)
			for i, f := range e.fields {
				updated.SetField(f, e.values[i])
			}
			if err := bp.InsertTuple(tid, e.tableID, updated); err != nil {
				e.err = err
				return false
			}
			e.cnt++
		}
		e.executed = true
	}
	if e.emitted {
		return false
	}
	e.emitted = true
	return true
}

func (e *UpdateExecutor) Current() *storage.Tuple {
	return storage.NewTuple(countDesc, storage.NewIntField(int32(e.cnt)))
}

func (e *UpdateExecutor) Rewind() error {
	e.emitted = false
	return nil
}

func (e *UpdateExecutor) Close() error {
	return e.child.Close()
}

func (e *UpdateExecutor) Error() error {
	return e.err
}
