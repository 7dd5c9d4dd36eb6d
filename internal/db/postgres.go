package db

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"dbsync/internal/config"
)

// PostgresAdapter talks to a PostgreSQL server. Identifiers are double
// quoted and parameters use $N markers. All introspection runs against the
// public schema.
type PostgresAdapter struct {
	spec config.ConnectionSpec
	db   *gorm.DB
}

// NewPostgresAdapter builds an unconnected adapter for the given endpoint.
func NewPostgresAdapter(spec config.ConnectionSpec) *PostgresAdapter {
	return &PostgresAdapter{spec: spec}
}

// NewPostgresAdapterWithDB wraps an existing gorm handle. Used by tests to
// inject a sqlmock-backed connection.
func NewPostgresAdapterWithDB(spec config.ConnectionSpec, g *gorm.DB) *PostgresAdapter {
	return &PostgresAdapter{spec: spec, db: g}
}

func (a *PostgresAdapter) Dialect() Dialect { return DialectPostgres }

func (a *PostgresAdapter) Connect() error {
	if a.db != nil {
		return nil
	}
	g, err := openGorm(postgres.Open(a.spec.GetDSN()))
	if err != nil {
		return fmt.Errorf("%w: postgresql %s:%d/%s: %v", ErrConnectionFailed,
			a.spec.Host, a.spec.Port, a.spec.Database, err)
	}
	a.db = g
	return nil
}

func (a *PostgresAdapter) Close() error {
	err := closeGorm(a.db)
	a.db = nil
	return err
}

func (a *PostgresAdapter) IsConnected() bool { return a.db != nil }

func (a *PostgresAdapter) Query(query string, args ...interface{}) ([]Row, error) {
	if a.db == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	return queryRows(a.db, query, args...)
}

func (a *PostgresAdapter) Exec(query string, args ...interface{}) (int64, error) {
	if a.db == nil {
		return 0, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	return execSQL(a.db, query, args...)
}

// EscapeIdentifier doubles embedded double quotes and wraps the name.
func (a *PostgresAdapter) EscapeIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *PostgresAdapter) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (a *PostgresAdapter) placeholderList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = a.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (a *PostgresAdapter) GetTables() ([]TableDescriptor, error) {
	rows, err := a.Query(`
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}

	var tables []TableDescriptor
	for _, row := range rows {
		name := fmt.Sprint(row["table_name"])
		desc := TableDescriptor{Name: name}

		if desc.Columns, err = a.GetColumns(name); err != nil {
			return nil, err
		}
		if desc.Indexes, err = a.GetIndexes(name); err != nil {
			return nil, err
		}
		desc.CreateStatement = a.buildCreateStatement(name, desc.Columns)

		tables = append(tables, desc)
	}
	return tables, nil
}

// buildCreateStatement synthesizes canonical DDL; PostgreSQL has no native
// SHOW CREATE TABLE.
func (a *PostgresAdapter) buildCreateStatement(table string, cols []ColumnDescriptor) string {
	var lines []string
	var pkCols []string
	for _, col := range cols {
		line := "  " + a.columnDDL(col)
		lines = append(lines, line)
		if col.PrimaryKey {
			pkCols = append(pkCols, a.EscapeIdentifier(col.Name))
		}
	}
	if len(pkCols) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(pkCols, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)",
		a.EscapeIdentifier(table), strings.Join(lines, ",\n"))
}

func (a *PostgresAdapter) GetColumns(table string) ([]ColumnDescriptor, error) {
	rows, err := a.Query(`
		SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
			CASE WHEN pk.column_name IS NOT NULL THEN 'PRI' ELSE '' END AS column_key
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.table_schema = 'public'
			AND tc.table_name = $1
			AND tc.constraint_type = 'PRIMARY KEY'
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = 'public'
		AND c.table_name = $2
		ORDER BY c.ordinal_position`, table, table)
	if err != nil {
		return nil, err
	}

	cols := make([]ColumnDescriptor, 0, len(rows))
	for _, row := range rows {
		col := ColumnDescriptor{
			Name:       fmt.Sprint(row["column_name"]),
			Type:       fmt.Sprint(row["data_type"]),
			Nullable:   fmt.Sprint(row["is_nullable"]) == "YES",
			PrimaryKey: fmt.Sprint(row["column_key"]) == "PRI",
		}
		if v := row["column_default"]; v != nil {
			col.Default.Valid = true
			col.Default.String = fmt.Sprint(v)
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func (a *PostgresAdapter) GetIndexes(table string) ([]IndexDescriptor, error) {
	rows, err := a.Query(`
		SELECT i.relname AS index_name,
			ix.indisunique AS is_unique,
			am.amname AS index_type,
			att.attname AS column_name
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_am am ON i.relam = am.oid
		JOIN pg_attribute att ON att.attrelid = t.oid AND att.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = 'public'
		AND t.relname = $1
		ORDER BY i.relname, array_position(ix.indkey, att.attnum)`, table)
	if err != nil {
		return nil, err
	}

	var order []string
	byName := make(map[string]*IndexDescriptor)
	for _, row := range rows {
		name := fmt.Sprint(row["index_name"])
		idx, ok := byName[name]
		if !ok {
			idx = &IndexDescriptor{
				Name:   name,
				Unique: isTrue(row["is_unique"]),
				Type:   fmt.Sprint(row["index_type"]),
			}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, fmt.Sprint(row["column_name"]))
	}

	indexes := make([]IndexDescriptor, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, *byName[name])
	}
	return indexes, nil
}

func (a *PostgresAdapter) GetPrimaryKey(table string) (string, error) {
	rows, err := a.Query(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = 'public'
		AND tc.table_name = $1
		AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
		LIMIT 1`, table)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return fmt.Sprint(rows[0]["column_name"]), nil
}

func (a *PostgresAdapter) GetProcedures(kind RoutineKind) ([]RoutineDescriptor, error) {
	var prokind string
	switch kind {
	case RoutineProcedure:
		prokind = "p"
	case RoutineFunction:
		prokind = "f"
	default:
		return nil, fmt.Errorf("%w: unsupported routine kind %s", ErrQueryFailed, kind)
	}

	rows, err := a.Query(`
		SELECT p.proname AS name, p.oid AS oid
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = 'public'
		AND p.prokind = $1
		ORDER BY p.proname`, prokind)
	if err != nil {
		return nil, err
	}

	var routines []RoutineDescriptor
	for _, row := range rows {
		name := fmt.Sprint(row["name"])
		routine := RoutineDescriptor{Name: name, Kind: kind}

		defRows, err := a.Query("SELECT pg_get_functiondef($1::oid) AS definition", row["oid"])
		if err != nil || len(defRows) == 0 || defRows[0]["definition"] == nil {
			logrus.Warnf("Could not fetch definition of %s %s: %v", strings.ToLower(string(kind)), name, err)
		} else {
			routine.CreateStatement = fmt.Sprint(defRows[0]["definition"])
		}
		routines = append(routines, routine)
	}
	return routines, nil
}

func (a *PostgresAdapter) GetTriggers() ([]RoutineDescriptor, error) {
	rows, err := a.Query(`
		SELECT t.tgname AS name, t.oid AS oid
		FROM pg_trigger t
		JOIN pg_class c ON c.oid = t.tgrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = 'public'
		AND NOT t.tgisinternal
		ORDER BY t.tgname`)
	if err != nil {
		return nil, err
	}

	var triggers []RoutineDescriptor
	for _, row := range rows {
		name := fmt.Sprint(row["name"])
		trigger := RoutineDescriptor{Name: name, Kind: RoutineTrigger}

		defRows, err := a.Query("SELECT pg_get_triggerdef($1::oid) AS definition", row["oid"])
		if err != nil || len(defRows) == 0 || defRows[0]["definition"] == nil {
			logrus.Warnf("Could not fetch definition of trigger %s: %v", name, err)
		} else {
			trigger.CreateStatement = fmt.Sprint(defRows[0]["definition"])
		}
		triggers = append(triggers, trigger)
	}
	return triggers, nil
}

func (a *PostgresAdapter) CreateTable(ddl string) error {
	_, err := a.Exec(ddl)
	return err
}

func (a *PostgresAdapter) AlterTable(ddl string) error {
	_, err := a.Exec(ddl)
	return err
}

func (a *PostgresAdapter) DropTable(name string) error {
	_, err := a.Exec("DROP TABLE IF EXISTS " + a.EscapeIdentifier(name))
	return err
}

func (a *PostgresAdapter) TruncateTable(name string) error {
	_, err := a.Exec("TRUNCATE TABLE " + a.EscapeIdentifier(name))
	return err
}

func (a *PostgresAdapter) CountRows(table string) (int64, error) {
	rows, err := a.Query("SELECT COUNT(*) AS cnt FROM " + a.EscapeIdentifier(table))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["cnt"]), nil
}

func (a *PostgresAdapter) SelectAll(table string) ([]Row, error) {
	return a.Query("SELECT * FROM " + a.EscapeIdentifier(table))
}

func (a *PostgresAdapter) SelectWhere(table, column string, value interface{}) ([]Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s > $1",
		a.EscapeIdentifier(table), a.EscapeIdentifier(column))
	return a.Query(query, value)
}

func (a *PostgresAdapter) InsertRows(table string, rows []Row) (int64, error) {
	var total int64
	for _, row := range rows {
		cols := rowColumns(row)
		escaped := make([]string, len(cols))
		values := make([]interface{}, len(cols))
		for i, col := range cols {
			escaped[i] = a.EscapeIdentifier(col)
			values[i] = row[col]
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
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

func (a *PostgresAdapter) UpsertRows(table string, rows []Row, primaryKey string) (int64, error) {
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
				updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s",
					a.EscapeIdentifier(col), a.EscapeIdentifier(col)))
			}
		}

		var query string
		if len(updates) == 0 {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
				a.EscapeIdentifier(table),
				strings.Join(escaped, ", "),
				a.placeholderList(len(cols)),
				a.EscapeIdentifier(primaryKey))
		} else {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
				a.EscapeIdentifier(table),
				strings.Join(escaped, ", "),
				a.placeholderList(len(cols)),
				a.EscapeIdentifier(primaryKey),
				strings.Join(updates, ", "))
		}

		if _, err := a.Exec(query, values...); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

func (a *PostgresAdapter) DeleteRows(table, primaryKey string, keys []interface{}) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		a.EscapeIdentifier(table),
		a.EscapeIdentifier(primaryKey),
		a.placeholderList(len(keys)))
	return a.Exec(query, keys...)
}

func (a *PostgresAdapter) columnDDL(col ColumnDescriptor) string {
	ddl := a.EscapeIdentifier(col.Name) + " " + col.Type
	if !col.Nullable {
		ddl += " NOT NULL"
	}
	if col.Default.Valid {
		ddl += " DEFAULT " + col.Default.String
	}
	return ddl
}

func (a *PostgresAdapter) AddColumnDDL(table string, col ColumnDescriptor) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		a.EscapeIdentifier(table), a.columnDDL(col))
}

// ModifyColumnDDL chains ALTER COLUMN clauses; PostgreSQL has no single
// MODIFY COLUMN form.
func (a *PostgresAdapter) ModifyColumnDDL(table string, col ColumnDescriptor) string {
	name := a.EscapeIdentifier(col.Name)
	clauses := []string{
		fmt.Sprintf("ALTER COLUMN %s TYPE %s", name, col.Type),
	}
	if col.Nullable {
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", name))
	} else {
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", name))
	}
	if col.Default.Valid {
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", name, col.Default.String))
	} else {
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", name))
	}
	return fmt.Sprintf("ALTER TABLE %s %s",
		a.EscapeIdentifier(table), strings.Join(clauses, ", "))
}

func (a *PostgresAdapter) DropColumnDDL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		a.EscapeIdentifier(table), a.EscapeIdentifier(column))
}

func (a *PostgresAdapter) CreateIndexDDL(table string, idx IndexDescriptor) string {
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

func (a *PostgresAdapter) DropIndexDDL(_, index string) string {
	return "DROP INDEX IF EXISTS " + a.EscapeIdentifier(index)
}

func (a *PostgresAdapter) DropRoutineDDL(kind RoutineKind, name string) string {
	return fmt.Sprintf("DROP %s IF EXISTS %s", kind, a.EscapeIdentifier(name))
}
