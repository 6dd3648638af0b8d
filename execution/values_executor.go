package execution

import (
	"mit.edu/dsg/heapdb/storage"
)

// ValuesExecutor emits a fixed, in-memory list of tuples. It is the source for literal inserts.
type ValuesExecutor struct {
	desc   *storage.TupleDesc
	tuples []*storage.Tuple

	currentIndex int
}

func NewValuesExecutor(desc *storage.TupleDesc, tuples ...*storage.Tuple) *ValuesExecutor {
	return &ValuesExecutor{
		desc:         desc,
		tuples:       tuples,
		currentIndex: -1,
	}
}

func (e *ValuesExecutor) TupleDesc() *storage.TupleDesc {
	return e.desc
}

func (e *ValuesExecutor) Init(*ExecutorContext) error {
	e.currentIndex = -1
	return nil
}

func (e *ValuesExecutor) Next() bool {
	if e.currentIndex >= len(e.tuples) {
		return false
	}
	e.currentIndex++
	return e.currentIndex < len(e.tuples)
}

func (e *ValuesExecutor) Current() *storage.Tuple {
	return e.tuples[e.currentIndex]
}

func (e *ValuesExecutor) Error() error {
	return nil
}

func (e *ValuesExecutor) Rewind() error {
	e.currentIndex = -1
	return nil
}

func (e *ValuesExecutor) Close() error {
	return nil
}
