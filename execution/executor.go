package execution

import (
	"mit.edu/dsg/heapdb/storage"
)

// Executor is the interface that all physical execution nodes must implement.
type Executor interface {
	// Init binds the executor to a transaction and positions it before the first tuple.
	// Calling Init again restarts the executor.
	Init(ctx *ExecutorContext) error

	// Next retrieves the next tuple from the executor.
	Next() bool

	// Current returns the tuple most recently read by Next().
	Current() *storage.Tuple

	// Error returns the last error encountered by the executor, if any.
	Error() error

	// Rewind restarts the executor within the transaction it was initialized with.
	Rewind() error

	// TupleDesc describes the tuples this executor produces.
	TupleDesc() *storage.TupleDesc

	// Close cleans up any resources held by the executor.
	Close() error
}

// Drain runs e to completion under ctx and returns copies of every tuple it produced.
func Drain(ctx *ExecutorContext, e Executor) ([]*storage.Tuple, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	defer e.Close()

	var out []*storage.Tuple
	for e.Next() {
		out = append(out, e.Current().Copy())
	}
	return out, e.Error()
}
