package db

import (
	"fmt"

	"dbsync/internal/config"
)

// Dialect discriminates engine behavior. All dialect branching in the
// engine keys off this value, never off the adapter's concrete type.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgresql"
)

// Row is one result row keyed by column name.
type Row = map[string]interface{}

// Adapter is the per-engine capability set. Every read or write against a
// database flows through this interface; the rest of the engine is
// dialect-oblivious.
type Adapter interface {
	Dialect() Dialect

	Connect() error
	Close() error
	IsConnected() bool

	Query(query string, args ...interface{}) ([]Row, error)
	Exec(query string, args ...interface{}) (int64, error)

	// EscapeIdentifier doubles the engine's quote character and wraps the
	// name. Used for every table/column name embedded in generated SQL.
	EscapeIdentifier(name string) string
	// Placeholder returns the 1-based parameter marker for position n.
	Placeholder(n int) string

	GetTables() ([]TableDescriptor, error)
	GetColumns(table string) ([]ColumnDescriptor, error)
	GetIndexes(table string) ([]IndexDescriptor, error)
	// GetPrimaryKey returns the primary key column name, or "" when the
	// table has none.
	GetPrimaryKey(table string) (string, error)
	GetProcedures(kind RoutineKind) ([]RoutineDescriptor, error)
	GetTriggers() ([]RoutineDescriptor, error)

	CreateTable(ddl string) error
	AlterTable(ddl string) error
	DropTable(name string) error
	TruncateTable(name string) error

	CountRows(table string) (int64, error)
	SelectAll(table string) ([]Row, error)
	// SelectWhere returns rows where column > value.
	SelectWhere(table, column string, value interface{}) ([]Row, error)
	InsertRows(table string, rows []Row) (int64, error)
	UpsertRows(table string, rows []Row, primaryKey string) (int64, error)
	DeleteRows(table, primaryKey string, keys []interface{}) (int64, error)

	// DDL builders used by the schema differ.
	AddColumnDDL(table string, col ColumnDescriptor) string
	ModifyColumnDDL(table string, col ColumnDescriptor) string
	DropColumnDDL(table, column string) string
	CreateIndexDDL(table string, idx IndexDescriptor) string
	DropIndexDDL(table, index string) string
	DropRoutineDDL(kind RoutineKind, name string) string
}

// New builds the adapter matching the connection's engine type.
func New(spec config.ConnectionSpec) (Adapter, error) {
	switch spec.Type {
	case config.EngineMySQL:
		return NewMySQLAdapter(spec), nil
	case config.EnginePostgres:
		return NewPostgresAdapter(spec), nil
	default:
		return nil, fmt.Errorf("%w: unsupported engine type %q", ErrConfigurationInvalid, spec.Type)
	}
}
