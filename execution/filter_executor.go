package execution

import (
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// FilterExecutor filters tuples from its child executor based on a predicate.
type FilterExecutor struct {
	predicate Predicate
	child     Executor
}

// NewFilter creates a new FilterExecutor. The predicate must name a field of the child's output whose type
// matches the operand.
func NewFilter(predicate Predicate, child Executor) (*FilterExecutor, error) {
	desc := child.TupleDesc()
	if predicate.Field < 0 || predicate.Field >= desc.NumFields() {
		return nil, common.Errorf(common.NoSuchObjectError, "predicate field %d out of range for %s", predicate.Field, desc)
	}
	if desc.FieldType(predicate.Field) != predicate.Operand.Type() {
		return nil, common.Errorf(common.TypeMismatchError, "cannot compare %s field %q with %s operand",
			desc.FieldType(predicate.Field), desc.FieldName(predicate.Field), predicate.Operand.Type())
	}
	return &FilterExecutor{
		predicate: predicate,
		child:     child,
	}, nil
}

func (e *FilterExecutor) Predicate() Predicate {
	return e.predicate
}

func (e *FilterExecutor) TupleDesc() *storage.TupleDesc {
	return e.child.TupleDesc()
}

// Init initializes the child.
func (e *FilterExecutor) Init(context *ExecutorContext) error {
	return e.child.Init(context)
}

func (e *FilterExecutor) Next() bool {
	for e.child.Next() {
		if e.predicate.Filter(e.child.Current()) {
			return true
		}
	}
	return false
}

func (e *FilterExecutor) Current() *storage.Tuple {
	return e.child.Current()
}

func (e *FilterExecutor) Error() error {
	return e.child.Error()
}

func (e *FilterExecutor) Rewind() error {
	return e.child.Rewind()
}

func (e *FilterExecutor) Close() error {
	return e.child.Close()
}
