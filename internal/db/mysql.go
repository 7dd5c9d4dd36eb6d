package db

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"dbsync/internal/config"
)

// MySQLAdapter talks to a MySQL (or compatible) server. Identifiers are
// backtick quoted and parameters use ? markers.
type MySQLAdapter struct {
	spec config.ConnectionSpec
	db   *gorm.DB
}

// NewMySQLAdapter builds an unconnected adapter for the given endpoint.
func NewMySQLAdapter(spec config.ConnectionSpec) *MySQLAdapter {
	return &MySQLAdapter{spec: spec}
}

// NewMySQLAdapterWithDB wraps an existing gorm handle. Used by tests to
// inject a sqlmock-backed connection.
func NewMySQLAdapterWithDB(spec config.ConnectionSpec, g *gorm.DB) *MySQLAdapter {
	return &MySQLAdapter{spec: spec, db: g}
}

func (a *MySQLAdapter) Dialect() Dialect { return DialectMySQL }

func (a *MySQLAdapter) Connect() error {
	if a.db != nil {
		return nil
	}
	g, err := openGorm(mysql.Open(a.spec.GetDSN()))
	if err != nil {
		return fmt.Errorf("%w: mysql %s:%d/%s: %v", ErrConnectionFailed,
			a.spec.Host, a.spec.Port, a.spec.Database, err)
	}
	a.db = g
	return nil
}

func (a *MySQLAdapter) Close() error {
	err := closeGorm(a.db)
	a.db = nil
	return err
}

func (a *MySQLAdapter) IsConnected() bool { return a.db != nil }

func (a *MySQLAdapter) Query(query string, args ...interface{}) ([]Row, error) {
	if a.db == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	return queryRows(a.db, query, args...)
}

func (a *MySQLAdapter) Exec(query string, args ...interface{}) (int64, error) {
	if a.db == nil {
		return 0, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	return execSQL(a.db, query, args...)
}

// EscapeIdentifier doubles embedded backticks and wraps the name.
func (a *MySQLAdapter) EscapeIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (a *MySQLAdapter) Placeholder(int) string { return "?" }

func (a *MySQLAdapter) placeholderList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (a *MySQLAdapter) GetTables() ([]TableDescriptor, error) {
	rows, err := a.Query(`
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE()
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, err
	}

	var tables []TableDescriptor
	for _, row := range rows {
		name := fmt.Sprint(row["TABLE_NAME"])
		desc := TableDescriptor{Name: name}

		if desc.Columns, err = a.GetColumns(name); err != nil {
			return nil, err
		}
		if desc.Indexes, err = a.GetIndexes(name); err != nil {
			return nil, err
		}

		createRows, err := a.Query("SHOW CREATE TABLE " + a.EscapeIdentifier(name))
		if err != nil {
			return nil, err
		}
		if len(createRows) > 0 {
			desc.CreateStatement = fmt.Sprint(createRows[0]["Create Table"])
		}

		tables = append(tables, desc)
	}
	return tables, nil
}

func (a *MySQLAdapter) GetColumns(table string) ([]ColumnDescriptor, error) {
	rows, err := a.Query(`
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY, COLUMN_DEFAULT, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, err
	}

	cols := make([]ColumnDescriptor, 0, len(rows))
	for _, row := range rows {
		col := ColumnDescriptor{
			Name:       fmt.Sprint(row["COLUMN_NAME"]),
			Type:       fmt.Sprint(row["COLUMN_TYPE"]),
			Nullable:   fmt.Sprint(row["IS_NULLABLE"]) == "YES",
			Extra:      fmt.Sprint(row["EXTRA"]),
			PrimaryKey: fmt.Sprint(row["COLUMN_KEY"]) == "PRI",
		}
		if v := row["COLUMN_DEFAULT"]; v != nil {
			col.Default.Valid = true
			col.Default.String = fmt.Sprint(v)
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (a *MySQLAdapter) GetIndexes(table string) ([]IndexDescriptor, error) {
	rows, err := a.Query("SHOW INDEX FROM " + a.EscapeIdentifier(table))
	if err != nil {
		return nil, err
	}

	// SHOW INDEX emits one row per column, ordered by Seq_in_index.
	var order []string
	byName := make(map[string]*IndexDescriptor)
	for _, row := range rows {
		name := fmt.Sprint(row["Key_name"])
		idx, ok := byName[name]
		if !ok {
			idx = &IndexDescriptor{
				Name:   name,
				Unique: fmt.Sprint(row["Non_unique"]) == "0",
				Type:   fmt.Sprint(row["Index_type"]),
			}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, fmt.Sprint(row["Column_name"]))
	}

	indexes := make([]IndexDescriptor, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *byName[name])
	}
	return indexes, nil
}

func (a *MySQLAdapter) GetPrimaryKey(table string) (string, error) {
	rows, err := a.Query(`
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		AND TABLE_NAME = ?
		AND COLUMN_KEY = 'PRI'
		LIMIT 1`, table)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return fmt.Sprint(rows[0]["COLUMN_NAME"]), nil
}

func (a *MySQLAdapter) GetProcedures(kind RoutineKind) ([]RoutineDescriptor, error) {
	if kind != RoutineProcedure && kind != RoutineFunction {
		return nil, fmt.Errorf("%w: unsupported routine kind %s", ErrQueryFailed, kind)
	}
	rows, err := a.Query(fmt.Sprintf("SHOW %s STATUS WHERE Db = DATABASE()", kind))
	if err != nil {
		return nil, err
	}

	createCol := "Create Procedure"
	if kind == RoutineFunction {
		createCol = "Create Function"
	}

	var routines []RoutineDescriptor
	for _, row := range rows {
		name := fmt.Sprint(row["Name"])
		routine := RoutineDescriptor{Name: name, Kind: kind}

		createRows, err := a.Query(fmt.Sprintf("SHOW CREATE %s %s", kind, a.EscapeIdentifier(name)))
		if err != nil || len(createRows) == 0 || createRows[0][createCol] == nil {
			logrus.Warnf("Could not fetch definition of %s %s: %v", strings.ToLower(string(kind)), name, err)
		} else {
			routine.CreateStatement = fmt.Sprint(createRows[0][createCol])
		}
		routines = append(routines, routine)
	}
	return routines, nil
}

func (a *MySQLAdapter) GetTriggers() ([]RoutineDescriptor, error) {
	rows, err := a.Query("SHOW TRIGGERS")
	if err != nil {
		return nil, err
	}

	var triggers []RoutineDescriptor
	for _, row := range rows {
		name := fmt.Sprint(row["Trigger"])
		trigger := RoutineDescriptor{Name: name, Kind: RoutineTrigger}

		createRows, err := a.Query("SHOW CREATE TRIGGER " + a.EscapeIdentifier(name))
		if err != nil || len(createRows) == 0 || createRows[0]["SQL Original Statement"] == nil {
			logrus.Warnf("Could not fetch definition of trigger %s: %v", name, err)
		} else {
			trigger.CreateStatement = fmt.Sprint(createRows[0]["SQL Original Statement"])
		}
		triggers = append(triggers, trigger)
	}
	return triggers, nil
}

func (a *MySQLAdapter) CreateTable(ddl string) error {
	_, err := a.Exec(ddl)
	return err
}

func (a *MySQLAdapter) AlterTable(ddl string) error {
	_, err := a.Exec(ddl)
	return err
}

func (a *MySQLAdapter) DropTable(name string) error {
	_, err := a.Exec("DROP TABLE IF EXISTS " + a.EscapeIdentifier(name))
	return err
}

func (a *MySQLAdapter) TruncateTable(name string) error {
	_, err := a.Exec("TRUNCATE TABLE " + a.EscapeIdentifier(name))
	return err
}

func (a *MySQLAdapter) CountRows(table string) (int64, error) {
	rows, err := a.Query("SELECT COUNT(*) AS cnt FROM " + a.EscapeIdentifier(table))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["cnt"]), nil
}

func (a *MySQLAdapter) SelectAll(table string) ([]Row, error) {
	return a.Query("SELECT * FROM " + a.EscapeIdentifier(table))
}

func (a *MySQLAdapter) SelectWhere(table, column string, value interface{}) ([]Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s > ?",
		a.EscapeIdentifier(table), a.EscapeIdentifier(column))
	return a.Query(query, value)
}

// InsertRows loads rows with REPLACE so a retried initial sync cannot
// collide with rows already present.
func (a *MySQLAdapter) InsertRows(table string, rows []Row) (int64, error) {
	var total int64
	for _, row := range rows {
		cols := rowColumns(row)
		escaped := make([]string, len(cols))
		values := make([]interface{}, len(cols))
		for i, col := range cols {
			escaped[i] = a.EscapeIdentifier(col)
			values[i] = row[col]
		}

		query := fmt.Sprintf("REPLACE INTO %s (%s) VALUES (%s)",
			a.EscapeIdentifier(table),
			strings.Join(escaped, ", "),
			a.placeholderList(len(cols)))

		if _, err := a.Exec(query, values...); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

func (a *MySQLAdapter) UpsertRows(table string, rows []Row, primaryKey string) (int64, error) {
	var total int64
	for _, row := range rows {
		cols := rowColumns(row)
		escaped := make([]string, len(cols))
		values := make([]interface{}, len(cols))
		var updates []string
		for i, col := range cols {
			escaped[i] = a.EscapeIdentifier(col)
			values[i] = row[col]
			if col != primaryKey {
				updates = append(updates, fmt.Sprintf("%s = VALUES(%s)",
					a.EscapeIdentifier(col), a.EscapeIdentifier(col)))
			}
		}
		if len(updates) == 0 {
			// Single-column table: nothing to update beyond the key.
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)",
				a.EscapeIdentifier(primaryKey), a.EscapeIdentifier(primaryKey)))
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			a.EscapeIdentifier(table),
			strings.Join(escaped, ", "),
			a.placeholderList(len(cols)),
			strings.Join(updates, ", "))

		if _, err := a.Exec(query, values...); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

func (a *MySQLAdapter) DeleteRows(table, primaryKey string, keys []interface{}) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		a.EscapeIdentifier(table),
		a.EscapeIdentifier(primaryKey),
		a.placeholderList(len(keys)))
	return a.Exec(query, keys...)
}

func (a *MySQLAdapter) columnDDL(col ColumnDescriptor) string {
	ddl := a.EscapeIdentifier(col.Name) + " " + col.Type
	if col.Nullable {
		ddl += " NULL"
	} else {
		ddl += " NOT NULL"
	}
	if col.Default.Valid {
		ddl += fmt.Sprintf(" DEFAULT '%s'", strings.ReplaceAll(col.Default.String, "'", "''"))
	}
	if col.Extra != "" {
		ddl += " " + col.Extra
	}
	return ddl
}

func (a *MySQLAdapter) AddColumnDDL(table string, col ColumnDescriptor) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		a.EscapeIdentifier(table), a.columnDDL(col))
}

func (a *MySQLAdapter) ModifyColumnDDL(table string, col ColumnDescriptor) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s",
		a.EscapeIdentifier(table), a.columnDDL(col))
}

func (a *MySQLAdapter) DropColumnDDL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.EscapeIdentifier(table), a.EscapeIdentifier(column))
}

func (a *MySQLAdapter) CreateIndexDDL(table string, idx IndexDescriptor) string {
	cols := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		cols[i] = a.EscapeIdentifier(col)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, a.EscapeIdentifier(idx.Name), a.EscapeIdentifier(table),
		strings.Join(cols, ", "))
}

func (a *MySQLAdapter) DropIndexDDL(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s",
		a.EscapeIdentifier(index), a.EscapeIdentifier(table))
}

func (a *MySQLAdapter) DropRoutineDDL(kind RoutineKind, name string) string {
	return fmt.Sprintf("DROP %s IF EXISTS %s", kind, a.EscapeIdentifier(name))
}
