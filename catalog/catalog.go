package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

// Catalog tracks every table in the database: its name, the file that stores it, and its primary key.
//
// Lookups are lock-free. Registration is serialized so that a table's name and id always resolve to the
// same entry. Adding a table under a name or id that is already registered replaces the old entry; the
// catalog only lives in memory and is rebuilt on startup, typically from a schema file (see LoadSchema).
type Catalog struct {
	mu     sync.Mutex
	byName *xsync.MapOf[string, *Table]
	byID   *xsync.MapOf[common.TableID, *Table]
	// ids keeps the registered table ids in ascending order.
	ids    *btree.BTreeG[common.TableID]
	logger *slog.Logger
}

// Column represents the basic unit of a table schema.
type Column struct {
	Name string      `json:"name"`
	Type common.Type `json:"type"`
}

// Table is the catalog entry of one table.
type Table struct {
	ID         common.TableID `json:"id"`
	Name       string         `json:"name"`
	PrimaryKey string         `json:"primary_key,omitempty"`
	Columns    []Column       `json:"columns"`
	File       storage.DBFile `json:"-"`
}

func (t *Table) String() string {
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName: xsync.NewMapOf[string, *Table](),
		byID:   xsync.NewMapOf[common.TableID, *Table](),
		ids:    btree.NewBTreeG[common.TableID](func(a, b common.TableID) bool { return a < b }),
		logger: common.Logger("catalog"),
	}
}

func columnsOf(desc *storage.TupleDesc) []Column {
	columns := make([]Column, desc.NumFields())
	for i := range columns {
		columns[i] = Column{Name: desc.FieldName(i), Type: desc.FieldType(i)}
	}
	return columns
}

// AddTable registers file under name with the given primary key column (which may be empty). An empty name
// is replaced by a random UUID. Any table previously registered with the same name or the same id is
// replaced.
func (c *Catalog) AddTable(file storage.DBFile, name string, primaryKey string) *Table {
	if name == "" {
		name = uuid.NewString()
	}
	table := &Table{
		ID:         file.ID(),
		Name:       name,
		PrimaryKey: primaryKey,
		Columns:    columnsOf(file.TupleDesc()),
		File:       file,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byName.Load(name); ok {
		c.byID.Delete(old.ID)
		c.ids.Delete(old.ID)
	}
	if old, ok := c.byID.Load(table.ID); ok {
		c.byName.Delete(old.Name)
	}
	c.byName.Store(name, table)
	c.byID.Store(table.ID, table)
	c.ids.Set(table.ID)
	return table
}

// GetTableID returns the id of the table called name.
func (c *Catalog) GetTableID(name string) (common.TableID, error) {
	table, ok := c.byName.Load(name)
	if !ok {
		return common.InvalidTableID, common.Errorf(common.NoSuchObjectError, "table %q does not exist", name)
	}
	return table.ID, nil
}

// GetTable returns the catalog entry of table id.
func (c *Catalog) GetTable(id common.TableID) (*Table, error) {
	table, ok := c.byID.Load(id)
	if !ok {
		return nil, common.Errorf(common.NoSuchObjectError, "table %d does not exist", id)
	}
	return table, nil
}

// GetTupleDesc returns the schema of table id.
func (c *Catalog) GetTupleDesc(id common.TableID) (*storage.TupleDesc, error) {
	table, err := c.GetTable(id)
	if err != nil {
		return nil, err
	}
	return table.File.TupleDesc(), nil
}

// GetDatabaseFile returns the file that stores table id.
func (c *Catalog) GetDatabaseFile(id common.TableID) (storage.DBFile, error) {
	table, err := c.GetTable(id)
	if err != nil {
		return nil, err
	}
	return table.File, nil
}

// GetPrimaryKey returns the primary key column of table id, or "" if it has none.
func (c *Catalog) GetPrimaryKey(id common.TableID) (string, error) {
	table, err := c.GetTable(id)
	if err != nil {
		return "", err
	}
	return table.PrimaryKey, nil
}

// TableName returns the name of table id.
func (c *Catalog) TableName(id common.TableID) (string, error) {
	table, err := c.GetTable(id)
	if err != nil {
		return "", err
	}
	return table.Name, nil
}

// TableIDs returns the ids of every registered table in ascending order.
func (c *Catalog) TableIDs() []common.TableID {
	return c.ids.Items()
}

// FindTablesWithColumnName returns the tables that have a column called columnName.
func (c *Catalog) FindTablesWithColumnName(columnName string) []*Table {
	var tables []*Table
	c.ids.Scan(func(id common.TableID) bool {
		table, ok := c.byID.Load(id)
		if !ok {
			return true
		}
		for _, col := range table.Columns {
			if col.Name == columnName {
				tables = append(tables, table)
				break
			}
		}
		return true
	})
	return tables
}

// Clear removes every table from the catalog. The files are not closed.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName.Clear()
	c.byID.Clear()
	c.ids.Clear()
}

// Close closes the files of every registered table.
func (c *Catalog) Close() error {
	var firstErr error
	c.byID.Range(func(_ common.TableID, table *Table) bool {
		if err := table.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func (c *Catalog) String() string {
	var tables []*Table
	c.ids.Scan(func(id common.TableID) bool {
		if table, ok := c.byID.Load(id); ok {
			tables = append(tables, table)
		}
		return true
	})
	b, _ := json.MarshalIndent(tables, "", "  ")
	return string(b)
}

// LoadSchema reads a schema file and registers one heap file per line. Each line has the form
//
//	name (field type [pk], field type, ...)
//
// where type is "int" or "string" and "pk" marks the primary key. The file for table name is
// <schema dir>/name.dat and is created if it does not exist.
func (c *Catalog) LoadSchema(schemaFile string, bp *storage.BufferPool) ([]*Table, error) {
	abs, err := filepath.Abs(schemaFile)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	baseFolder := filepath.Dir(abs)

	var loaded []*Table
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, desc, primaryKey, err := ParseSchemaLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", schemaFile, lineNo, err)
		}
		hf, err := storage.NewHeapFile(filepath.Join(baseFolder, name+".dat"), desc, bp)
		if err != nil {
			return nil, err
		}
		table := c.AddTable(hf, name, primaryKey)
		c.logger.Info("added table", "name", name, "id", table.ID, "schema", desc.String())
		loaded = append(loaded, table)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return loaded, nil
}

// ParseSchemaLine parses one "name (field type [pk], ...)" schema line.
func ParseSchemaLine(line string) (name string, desc *storage.TupleDesc, primaryKey string, err error) {
	open, closing := strings.Index(line, "("), strings.LastIndex(line, ")")
	if open <= 0 || closing < open {
		return "", nil, "", fmt.Errorf("invalid catalog entry %q", line)
	}
	name = strings.TrimSpace(line[:open])
	if name == "" {
		return "", nil, "", fmt.Errorf("invalid catalog entry %q: missing table name", line)
	}
	var names []string
	var types []common.Type
	for _, field := range strings.Split(line[open+1:closing], ",") {
		parts := strings.Fields(field)
		if len(parts) < 2 || len(parts) > 3 {
			return "", nil, "", fmt.Errorf("invalid field %q in catalog entry %q", strings.TrimSpace(field), line)
		}
		t, err := common.ParseType(strings.ToLower(parts[1]))
		if err != nil {
			return "", nil, "", err
		}
		if len(parts) == 3 {
			if parts[2] != "pk" {
				return "", nil, "", fmt.Errorf("unknown annotation %q in catalog entry %q", parts[2], line)
			}
			primaryKey = parts[0]
		}
		names = append(names, parts[0])
		types = append(types, t)
	}
	return name, storage.NewTupleDesc(types, names), primaryKey, nil
}
