package service

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"dbsync/internal/db"
)

// fakeAdapter is an in-memory db.Adapter. It understands the two query
// shapes the data differ generates (key scans and IN selects) and records
// every mutation for assertions.
type fakeTable struct {
	pk         string
	cols       []db.ColumnDescriptor
	idx        []db.IndexDescriptor
	rows       []db.Row
	createStmt string
}

type fakeAdapter struct {
	mu sync.Mutex

	dialect  db.Dialect
	tables   map[string]*fakeTable
	order    []string
	procs    map[db.RoutineKind][]db.RoutineDescriptor
	triggers []db.RoutineDescriptor

	executed    []string
	deleteSizes []int
	truncates   int
	connected   bool
	connectErr  error
	closes      int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		dialect: db.DialectMySQL,
		tables:  make(map[string]*fakeTable),
		procs:   make(map[db.RoutineKind][]db.RoutineDescriptor),
	}
}

func (f *fakeAdapter) addTable(name, pk string, cols []db.ColumnDescriptor, rows ...db.Row) *fakeTable {
	t := &fakeTable{pk: pk, cols: cols, rows: rows,
		createStmt: fmt.Sprintf("CREATE TABLE `%s` (...)", name)}
	f.tables[name] = t
	f.order = append(f.order, name)
	return t
}

func (f *fakeAdapter) rowByKey(table string, key interface{}) db.Row {
	t := f.tables[table]
	for _, row := range t.rows {
		if fmt.Sprint(row[t.pk]) == fmt.Sprint(key) {
			return row
		}
	}
	return nil
}

func (f *fakeAdapter) Dialect() db.Dialect { return f.dialect }

func (f *fakeAdapter) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closes++
	return nil
}

func (f *fakeAdapter) IsConnected() bool { return f.connected }

var (
	keyScanRe  = regexp.MustCompile("^SELECT `(.+)` FROM `(.+)`$")
	inSelectRe = regexp.MustCompile("^SELECT \\* FROM `(.+)` WHERE `(.+)` IN")
)

func (f *fakeAdapter) Query(query string, args ...interface{}) ([]db.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m := inSelectRe.FindStringSubmatch(query); m != nil {
		t, ok := f.tables[m[1]]
		if !ok {
			return nil, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, m[1])
		}
		var out []db.Row
		for _, row := range t.rows {
			for _, arg := range args {
				if fmt.Sprint(row[m[2]]) == fmt.Sprint(arg) {
					out = append(out, copyRow(row))
					break
				}
			}
		}
		return out, nil
	}
	if m := keyScanRe.FindStringSubmatch(query); m != nil {
		t, ok := f.tables[m[2]]
		if !ok {
			return nil, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, m[2])
		}
		var out []db.Row
		for _, row := range t.rows {
			out = append(out, db.Row{m[1]: row[m[1]]})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: fake adapter cannot answer %q", db.ErrQueryFailed, query)
}

func (f *fakeAdapter) Exec(query string, _ ...interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, query)
	return 1, nil
}

func (f *fakeAdapter) EscapeIdentifier(name string) string { return "`" + name + "`" }
func (f *fakeAdapter) Placeholder(int) string              { return "?" }

func (f *fakeAdapter) GetTables() ([]db.TableDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []db.TableDescriptor
	for _, name := range f.order {
		t := f.tables[name]
		out = append(out, db.TableDescriptor{
			Name:            name,
			Columns:         t.cols,
			Indexes:         t.idx,
			CreateStatement: t.createStmt,
		})
	}
	return out, nil
}

func (f *fakeAdapter) GetColumns(table string) ([]db.ColumnDescriptor, error) {
	if t, ok := f.tables[table]; ok {
		return t.cols, nil
	}
	return nil, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
}

func (f *fakeAdapter) GetIndexes(table string) ([]db.IndexDescriptor, error) {
	if t, ok := f.tables[table]; ok {
		return t.idx, nil
	}
	return nil, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
}

func (f *fakeAdapter) GetPrimaryKey(table string) (string, error) {
	if t, ok := f.tables[table]; ok {
		return t.pk, nil
	}
	return "", fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
}

func (f *fakeAdapter) GetProcedures(kind db.RoutineKind) ([]db.RoutineDescriptor, error) {
	return f.procs[kind], nil
}

func (f *fakeAdapter) GetTriggers() ([]db.RoutineDescriptor, error) {
	return f.triggers, nil
}

func (f *fakeAdapter) CreateTable(ddl string) error {
	_, err := f.Exec(ddl)
	return err
}

func (f *fakeAdapter) AlterTable(ddl string) error {
	_, err := f.Exec(ddl)
	return err
}

func (f *fakeAdapter) DropTable(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, name)
	return nil
}

func (f *fakeAdapter) TruncateTable(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tables[name]
	if !ok {
		return fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, name)
	}
	t.rows = nil
	f.truncates++
	return nil
}

func (f *fakeAdapter) CountRows(table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
	}
	return int64(len(t.rows)), nil
}

func (f *fakeAdapter) SelectAll(table string) ([]db.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
	}
	out := make([]db.Row, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, copyRow(row))
	}
	return out, nil
}

func (f *fakeAdapter) SelectWhere(table, column string, value interface{}) ([]db.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
	}
	threshold, _ := value.(time.Time)
	var out []db.Row
	for _, row := range t.rows {
		if ts, ok := row[column].(time.Time); ok && ts.After(threshold) {
			out = append(out, copyRow(row))
		}
	}
	return out, nil
}

func (f *fakeAdapter) InsertRows(table string, rows []db.Row) (int64, error) {
	return f.merge(table, rows)
}

func (f *fakeAdapter) UpsertRows(table string, rows []db.Row, _ string) (int64, error) {
	return f.merge(table, rows)
}

// merge applies replace-by-key semantics, the common ground of REPLACE and
// upsert.
func (f *fakeAdapter) merge(table string, rows []db.Row) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
	}
	for _, row := range rows {
		replaced := false
		if t.pk != "" {
			for i, existing := range t.rows {
				if fmt.Sprint(existing[t.pk]) == fmt.Sprint(row[t.pk]) {
					t.rows[i] = copyRow(row)
					replaced = true
					break
				}
			}
		}
		if !replaced {
			t.rows = append(t.rows, copyRow(row))
		}
	}
	return int64(len(rows)), nil
}

func (f *fakeAdapter) DeleteRows(table, pk string, keys []interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: no such table %s", db.ErrQueryFailed, table)
	}
	f.deleteSizes = append(f.deleteSizes, len(keys))

	var kept []db.Row
	var deleted int64
	for _, row := range t.rows {
		stale := false
		for _, key := range keys {
			if fmt.Sprint(row[pk]) == fmt.Sprint(key) {
				stale = true
				break
			}
		}
		if stale {
			deleted++
		} else {
			kept = append(kept, row)
		}
	}
	t.rows = kept
	return deleted, nil
}

func (f *fakeAdapter) AddColumnDDL(table string, col db.ColumnDescriptor) string {
	return fmt.Sprintf("ALTER TABLE `%s` ADD COLUMN `%s` %s", table, col.Name, col.Type)
}

func (f *fakeAdapter) ModifyColumnDDL(table string, col db.ColumnDescriptor) string {
	return fmt.Sprintf("ALTER TABLE `%s` MODIFY COLUMN `%s` %s", table, col.Name, col.Type)
}

func (f *fakeAdapter) DropColumnDDL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE `%s` DROP COLUMN `%s`", table, column)
}

func (f *fakeAdapter) CreateIndexDDL(table string, idx db.IndexDescriptor) string {
	return fmt.Sprintf("CREATE INDEX `%s` ON `%s` (%s)", idx.Name, table, strings.Join(idx.Columns, ", "))
}

func (f *fakeAdapter) DropIndexDDL(table, index string) string {
	return fmt.Sprintf("DROP INDEX `%s` ON `%s`", index, table)
}

func (f *fakeAdapter) DropRoutineDDL(kind db.RoutineKind, name string) string {
	return fmt.Sprintf("DROP %s IF EXISTS `%s`", kind, name)
}

func copyRow(row db.Row) db.Row {
	out := make(db.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// executedContaining returns recorded statements matching the substring.
func (f *fakeAdapter) executedContaining(sub string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, stmt := range f.executed {
		if strings.Contains(stmt, sub) {
			out = append(out, stmt)
		}
	}
	return out
}
