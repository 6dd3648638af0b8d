package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"mit.edu/dsg/heapdb"
	"mit.edu/dsg/heapdb/catalog"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/execution"
	"mit.edu/dsg/heapdb/storage"
)

const usage = `commands:
  tables                                    list tables and their schemas
  dump [table]                              print every row of one or all tables
  select <table> <f1,f2|*> [<field> <op> <value>] [limit <n>]
                                            print chosen fields of matching rows
  insert <table> <v1> <v2> ...              insert one row
  delete <table> <field> <op> <value>       delete rows where field op value
  update <table> <field> <value> [<wfield> <op> <wvalue>]
                                            set field on every (matching) row
  aggregate <table> <agg> <field> [group]   min|max|sum|avg|count of field, optionally grouped
  shell                                     interactive prompt (default)`

// runCommand executes one command in its own transaction and writes its output to w.
func runCommand(db *heapdb.Database, args []string, w io.Writer) error {
	switch args[0] {
	case "help":
		fmt.Fprintln(w, usage)
		return nil
	case "tables":
		return listTables(db, w)
	case "dump":
		if len(args) > 2 {
			return fmt.Errorf("usage: dump [table]")
		}
		return dump(db, args[1:], w)
	case "select":
		if len(args) < 3 {
			return fmt.Errorf("usage: select <table> <fields> [<field> <op> <value>] [limit <n>]")
		}
		return selectRows(db, args[1], args[2], args[3:], w)
	case "insert":
		if len(args) < 2 {
			return fmt.Errorf("usage: insert <table> <values...>")
		}
		return insert(db, args[1], args[2:], w)
	case "delete":
		if len(args) != 5 {
			return fmt.Errorf("usage: delete <table> <field> <op> <value>")
		}
		return deleteWhere(db, args[1], args[2], args[3], args[4], w)
	case "update":
		if len(args) != 4 && len(args) != 7 {
			return fmt.Errorf("usage: update <table> <field> <value> [<field> <op> <value>]")
		}
		return update(db, args[1], args[2], args[3], args[4:], w)
	case "aggregate":
		if len(args) != 4 && len(args) != 5 {
			return fmt.Errorf("usage: aggregate <table> <agg> <field> [group]")
		}
		group := ""
		if len(args) == 5 {
			group = args[4]
		}
		return aggregate(db, args[1], args[2], args[3], group, w)
	}
	return fmt.Errorf("unknown command %q (try help)", args[0])
}

func lookupTable(db *heapdb.Database, name string) (*catalog.Table, error) {
	id, err := db.Catalog.GetTableID(name)
	if err != nil {
		return nil, err
	}
	return db.Catalog.GetTable(id)
}

func fieldIndex(table *catalog.Table, name string) (int, error) {
	return table.File.TupleDesc().IndexOf(name)
}

func printTuples(w io.Writer, desc *storage.TupleDesc, tuples []*storage.Tuple) {
	names := make([]string, desc.NumFields())
	for i := range names {
		names[i] = desc.FieldName(i)
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, t := range tuples {
		fmt.Fprintln(w, t.String())
	}
	fmt.Fprintf(w, "(%d rows)\n", len(tuples))
}

func listTables(db *heapdb.Database, w io.Writer) error {
	for _, id := range db.Catalog.TableIDs() {
		table, err := db.Catalog.GetTable(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, table.String())
	}
	return nil
}

func dump(db *heapdb.Database, names []string, w io.Writer) error {
	if len(names) == 0 {
		for _, id := range db.Catalog.TableIDs() {
			name, err := db.Catalog.TableName(id)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
	}
	return db.RunTransaction(func(tid common.TransactionID) error {
		for _, name := range names {
			table, err := lookupTable(db, name)
			if err != nil {
				return err
			}
			scan, err := execution.NewSeqScanExecutor(db.Catalog, table.ID, "")
			if err != nil {
				return err
			}
			tuples, err := db.Query(tid, scan)
			if err != nil {
				return err
			}
			printTuples(w, scan.TupleDesc(), tuples)
		}
		return nil
	})
}

// selectRows builds scan -> [filter] -> project -> [limit] from the trailing clause tokens.
func selectRows(db *heapdb.Database, name, fieldList string, clauses []string, w io.Writer) error {
	table, err := lookupTable(db, name)
	if err != nil {
		return err
	}
	desc := table.File.TupleDesc()

	var fields []int
	if fieldList == "*" {
		for i := 0; i < desc.NumFields(); i++ {
			fields = append(fields, i)
		}
	} else {
		for _, f := range strings.Split(fieldList, ",") {
			idx, err := fieldIndex(table, f)
			if err != nil {
				return err
			}
			fields = append(fields, idx)
		}
	}

	var predicate *execution.Predicate
	if len(clauses) >= 3 && clauses[0] != "limit" {
		idx, err := fieldIndex(table, clauses[0])
		if err != nil {
			return err
		}
		op, err := execution.ParseComparison(clauses[1])
		if err != nil {
			return err
		}
		operand, err := storage.ParseField(desc.FieldType(idx), clauses[2])
		if err != nil {
			return err
		}
		p := execution.NewPredicate(idx, op, operand)
		predicate = &p
		clauses = clauses[3:]
	}
	limit := -1
	if len(clauses) == 2 && clauses[0] == "limit" {
		if limit, err = strconv.Atoi(clauses[1]); err != nil || limit < 0 {
			return fmt.Errorf("bad limit %q", clauses[1])
		}
		clauses = clauses[2:]
	}
	if len(clauses) != 0 {
		return fmt.Errorf("unexpected arguments %q", strings.Join(clauses, " "))
	}

	return db.RunTransaction(func(tid common.TransactionID) error {
		scan, err := execution.NewSeqScanExecutor(db.Catalog, table.ID, "")
		if err != nil {
			return err
		}
		var plan execution.Executor = scan
		if predicate != nil {
			if plan, err = execution.NewFilter(*predicate, plan); err != nil {
				return err
			}
		}
		if plan, err = execution.NewProjectExecutor(fields, plan); err != nil {
			return err
		}
		if limit >= 0 {
			plan = execution.NewLimitExecutor(limit, plan)
		}
		tuples, err := db.Query(tid, plan)
		if err != nil {
			return err
		}
		printTuples(w, plan.TupleDesc(), tuples)
		return nil
	})
}

func insert(db *heapdb.Database, name string, values []string, w io.Writer) error {
	table, err := lookupTable(db, name)
	if err != nil {
		return err
	}
	desc := table.File.TupleDesc()
	if len(values) != desc.NumFields() {
		return fmt.Errorf("%s has %d fields, got %d values", name, desc.NumFields(), len(values))
	}
	fields := make([]storage.Field, len(values))
	for i, v := range values {
		if fields[i], err = storage.ParseField(desc.FieldType(i), v); err != nil {
			return err
		}
	}

	return db.RunTransaction(func(tid common.TransactionID) error {
		e, err := execution.NewInsertExecutor(db.Catalog, table.ID,
			execution.NewValuesExecutor(desc, storage.NewTuple(desc, fields...)))
		if err != nil {
			return err
		}
		out, err := db.Query(tid, e)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "inserted %s\n", out[0].Field(0))
		return nil
	})
}

func deleteWhere(db *heapdb.Database, name, field, opToken, value string, w io.Writer) error {
	table, err := lookupTable(db, name)
	if err != nil {
		return err
	}
	idx, err := fieldIndex(table, field)
	if err != nil {
		return err
	}
	op, err := execution.ParseComparison(opToken)
	if err != nil {
		return err
	}
	operand, err := storage.ParseField(table.File.TupleDesc().FieldType(idx), value)
	if err != nil {
		return err
	}

	return db.RunTransaction(func(tid common.TransactionID) error {
		scan, err := execution.NewSeqScanExecutor(db.Catalog, table.ID, "")
		if err != nil {
			return err
		}
		filter, err := execution.NewFilter(execution.NewPredicate(idx, op, operand), scan)
		if err != nil {
			return err
		}
		out, err := db.Query(tid, execution.NewDeleteExecutor(filter))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "deleted %s\n", out[0].Field(0))
		return nil
	})
}

func update(db *heapdb.Database, name, field, value string, where []string, w io.Writer) error {
	table, err := lookupTable(db, name)
	if err != nil {
		return err
	}
	desc := table.File.TupleDesc()
	idx, err := fieldIndex(table, field)
	if err != nil {
		return err
	}
	newValue, err := storage.ParseField(desc.FieldType(idx), value)
	if err != nil {
		return err
	}

	var predicate *execution.Predicate
	if len(where) == 3 {
		widx, err := fieldIndex(table, where[0])
		if err != nil {
			return err
		}
		op, err := execution.ParseComparison(where[1])
		if err != nil {
			return err
		}
		operand, err := storage.ParseField(desc.FieldType(widx), where[2])
		if err != nil {
			return err
		}
		p := execution.NewPredicate(widx, op, operand)
		predicate = &p
	}

	return db.RunTransaction(func(tid common.TransactionID) error {
		scan, err := execution.NewSeqScanExecutor(db.Catalog, table.ID, "")
		if err != nil {
			return err
		}
		var source execution.Executor = scan
		if predicate != nil {
			if source, err = execution.NewFilter(*predicate, source); err != nil {
				return err
			}
		}
		e, err := execution.NewUpdateExecutor(db.Catalog, table.ID, []int{idx}, []storage.Field{newValue}, source)
		if err != nil {
			return err
		}
		out, err := db.Query(tid, e)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "updated %s\n", out[0].Field(0))
		return nil
	})
}

func aggregate(db *heapdb.Database, name, aggName, field, group string, w io.Writer) error {
	table, err := lookupTable(db, name)
	if err != nil {
		return err
	}
	op, err := execution.ParseAggregateType(strings.ToLower(aggName))
	if err != nil {
		return err
	}
	aggField, err := fieldIndex(table, field)
	if err != nil {
		return err
	}
	groupField := execution.NoGrouping
	if group != "" {
		if groupField, err = fieldIndex(table, group); err != nil {
			return err
		}
	}

	return db.RunTransaction(func(tid common.TransactionID) error {
		scan, err := execution.NewSeqScanExecutor(db.Catalog, table.ID, "")
		if err != nil {
			return err
		}
		agg, err := execution.NewAggregateExecutor(scan, aggField, groupField, op)
		if err != nil {
			return err
		}
		tuples, err := db.Query(tid, agg)
		if err != nil {
			return err
		}
		printTuples(w, agg.TupleDesc(), tuples)
		return nil
	})
}
