package execution

import (
	"mit.edu/dsg/heapdb/catalog"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// SeqScanExecutor implements a sequential scan over a table. Output field names are qualified with the
// scan's alias.
type SeqScanExecutor struct {
	tableID common.TableID
	alias   string
	file    storage.DBFile
	desc    *storage.TupleDesc

	// Runtime state
	iterator storage.TupleIterator
	current  *storage.Tuple
}

// NewSeqScanExecutor creates a scan of tableID. An empty alias uses the table's name.
func NewSeqScanExecutor(cat *catalog.Catalog, tableID common.TableID, alias string) (*SeqScanExecutor, error) {
	table, err := cat.GetTable(tableID)
	if err != nil {
		return nil, err
	}
	if alias == "" {
		alias = table.Name
	}
	return &SeqScanExecutor{
		tableID: tableID,
		alias:   alias,
		file:    table.File,
		desc:    table.File.TupleDesc().WithPrefix(alias),
	}, nil
}

func (e *SeqScanExecutor) TableID() common.TableID {
	return e.tableID
}

func (e *SeqScanExecutor) Alias() string {
	return e.alias
}

func (e *SeqScanExecutor) TupleDesc() *storage.TupleDesc {
	return e.desc
}

func (e *SeqScanExecutor) Init(ctx *ExecutorContext) error {
	if e.iterator != nil {
		e.iterator.Close()
	}
	e.current = nil
	e.iterator = e.file.Iterator(ctx.TransactionID())
	return nil
}

func (e *SeqScanExecutor) Next() bool {
	common.Assert(e.iterator != nil, "SeqScanExecutor.Init() must be called before calling Next()")
	if !e.iterator.Next() {
		e.current = nil
		return false
	}
	// Same field values and record id, relabeled with the aliased schema.
	t := e.iterator.Current()
	e.current = storage.NewTuple(e.desc, t.Fields()...)
	e.current.SetRID(t.RID())
	return true
}

func (e *SeqScanExecutor) Current() *storage.Tuple {
	return e.current
}

func (e *SeqScanExecutor) Error() error {
	if e.iterator == nil {
		return nil
	}
	return e.iterator.Error()
}

func (e *SeqScanExecutor) Rewind() error {
	common.Assert(e.iterator != nil, "SeqScanExecutor.Init() must be called before calling Rewind()")
	e.current = nil
	return e.iterator.Rewind()
}

func (e *SeqScanExecutor) Close() error {
	if e.iterator != nil {
		e.iterator.Close()
		e.iterator = nil
	}
	return nil
}
