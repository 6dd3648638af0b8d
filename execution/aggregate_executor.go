package execution

import (
	"fmt"

	"github.com/tidwall/btree"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// NoGrouping is passed as the group field to aggregate over the whole input.
const NoGrouping = -1

type AggregateType int

const (
	AggMin AggregateType = iota
	AggMax
	AggSum
	AggAvg
	AggCount
)

func (a AggregateType) String() string {
	switch a {
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggSum:
		return "sum"
	case AggAvg:
		return "avg"
	case AggCount:
		return "count"
	}
	return "???"
}

// ParseAggregateType maps a name such as "sum" to its AggregateType.
func ParseAggregateType(s string) (AggregateType, error) {
	for a := AggMin; a <= AggCount; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, common.Errorf(common.IllegalOperationError, "unknown aggregate %q", s)
}

// aggGroup is the running state of one group.
type aggGroup struct {
	key   storage.Field
	count int32
	sum   int32
	min   int32
	max   int32
}

func (g *aggGroup) merge(v storage.Field) {
	g.count++
	if v.Type() != common.IntType {
		return
	}
	n := v.IntValue()
	if g.count == 1 {
		g.min, g.max = n, n
	} else {
		g.min = min(g.min, n)
		g.max = max(g.max, n)
	}
	g.sum += n
}

func (g *aggGroup) result(op AggregateType) int32 {
	switch op {
	case AggMin:
		return g.min
	case AggMax:
		return g.max
	case AggSum:
		return g.sum
	case AggAvg:
		return g.sum / g.count
	}
	return g.count
}

// AggregateExecutor computes one aggregate over a field of its child, optionally grouped by another field.
// Groups are emitted in ascending key order.
type AggregateExecutor struct {
	child      Executor
	aggField   int
	groupField int
	op         AggregateType
	desc       *storage.TupleDesc

	// Runtime state
	tuples       []*storage.Tuple
	currentIndex int
	ctx          *ExecutorContext
	err          error
}

// NewAggregateExecutor validates the field indexes against the child's schema. Only AggCount may be applied
// to a STRING field.
func NewAggregateExecutor(child Executor, aggField int, groupField int, op AggregateType) (*AggregateExecutor, error) {
	in := child.TupleDesc()
	if aggField < 0 || aggField >= in.NumFields() {
		return nil, common.Errorf(common.NoSuchObjectError, "aggregate field %d out of range for %s", aggField, in)
	}
	if groupField != NoGrouping && (groupField < 0 || groupField >= in.NumFields()) {
		return nil, common.Errorf(common.NoSuchObjectError, "group field %d out of range for %s", groupField, in)
	}
	if in.FieldType(aggField) == common.StringType && op != AggCount {
		return nil, common.Errorf(common.TypeMismatchError, "%s is not supported over string field %q", op, in.FieldName(aggField))
	}

	aggName := fmt.Sprintf("%s(%s)", op, in.FieldName(aggField))
	var desc *storage.TupleDesc
	if groupField == NoGrouping {
		desc = storage.NewTupleDesc([]common.Type{common.IntType}, []string{aggName})
	} else {
		desc = storage.NewTupleDesc(
			[]common.Type{in.FieldType(groupField), common.IntType},
			[]string{in.FieldName(groupField), aggName})
	}

	return &AggregateExecutor{
		child:        child,
		aggField:     aggField,
		groupField:   groupField,
		op:           op,
		desc:         desc,
		currentIndex: -1,
	}, nil
}

func (e *AggregateExecutor) TupleDesc() *storage.TupleDesc {
	return e.desc
}

func (e *AggregateExecutor) Init(ctx *ExecutorContext) error {
	e.tuples = nil
	e.currentIndex = -1
	e.ctx = ctx
	e.err = nil
	return e.child.Init(ctx)
}

func (e *AggregateExecutor) buildGroups() bool {
	groups := btree.NewBTreeG[*aggGroup](func(a, b *aggGroup) bool {
		return a.key.Compare(b.key) < 0
	})
	var global *aggGroup

	for e.child.Next() {
		tuple := e.child.Current()
		if e.groupField == NoGrouping {
			if global == nil {
				global = &aggGroup{}
			}
			global.merge(tuple.Field(e.aggField))
			continue
		}
		probe := &aggGroup{key: tuple.Field(e.groupField)}
		g, found := groups.Get(probe)
		if !found {
			g = probe
			groups.Set(g)
		}
		g.merge(tuple.Field(e.aggField))
	}

	if err := e.child.Error(); err != nil {
		e.err = err
		return false
	}

	e.tuples = make([]*storage.Tuple, 0, groups.Len()+1)
	if global != nil {
		e.tuples = append(e.tuples, storage.NewTuple(e.desc, storage.NewIntField(global.result(e.op))))
	}
	groups.Scan(func(g *aggGroup) bool {
		e.tuples = append(e.tuples, storage.NewTuple(e.desc, g.key, storage.NewIntField(g.result(e.op))))
		return true
	})
	return true
}

func (e *AggregateExecutor) Next() bool {
	if e.tuples == nil {
		if !e.buildGroups() {
			return false
		}
	}
	e.currentIndex++
	return e.currentIndex < len(e.tuples)
}

func (e *AggregateExecutor) Current() *storage.Tuple {
	return e.tuples[e.currentIndex]
}

func (e *AggregateExecutor) Error() error {
	return e.err
}

// Rewind replays the computed groups without rereading the child.
func (e *AggregateExecutor) Rewind() error {
	e.currentIndex = -1
	return nil
}

func (e *AggregateExecutor) Close() error {
	return e.child.Close()
}
