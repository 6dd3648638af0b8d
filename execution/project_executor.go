package execution

import (
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// ProjectExecutor keeps a subset of its child's fields, in the given order.
type ProjectExecutor struct {
	child  Executor
	fields []int
	desc   *storage.TupleDesc

	// Runtime state
	current *storage.Tuple
}

// NewProjectExecutor creates a projection of the child's fields at the given indexes.
func NewProjectExecutor(fields []int, child Executor) (*ProjectExecutor, error) {
	in := child.TupleDesc()
	types := make([]common.Type, len(fields))
	names := make([]string, len(fields))
	for i, f := range fields {
		if f < 0 || f >= in.NumFields() {
			return nil, common.Errorf(common.NoSuchObjectError, "projected field %d out of range for %s", f, in)
		}
		types[i] = in.FieldType(f)
		names[i] = in.FieldName(f)
	}
	return &ProjectExecutor{
		child:  child,
		fields: fields,
		desc:   storage.NewTupleDesc(types, names),
	}, nil
}

func (e *ProjectExecutor) TupleDesc() *storage.TupleDesc {
	return e.desc
}

func (e *ProjectExecutor) Init(ctx *ExecutorContext) error {
	e.current = nil
	return e.child.Init(ctx)
}

func (e *ProjectExecutor) Next() bool {
	if !e.child.Next() {
		e.current = nil
		return false
	}
	childTuple := e.child.Current()
	values := make([]storage.Field, len(e.fields))
	for i, f := range e.fields {
		values[i] = childTuple.Field(f)
	}
	e.current = storage.NewTuple(e.desc, values...)
	e.current.SetRID(childTuple.RID())
	return true
}

func (e *ProjectExecutor) Current() *storage.Tuple {
	return e.current
}

func (e *ProjectExecutor) Error() error {
	return e.child.Error()
}

func (e *ProjectExecutor) Rewind() error {
	e.current = nil
	return e.child.Rewind()
}

func (e *ProjectExecutor) Close() error {
	return e.child.Close()
}
