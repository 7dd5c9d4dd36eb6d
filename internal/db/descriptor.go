package db

import "database/sql"

// RoutineKind distinguishes the three procedural object classes handled by
// the routine syncer.
type RoutineKind string

const (
	RoutineProcedure RoutineKind = "PROCEDURE"
	RoutineFunction  RoutineKind = "FUNCTION"
	RoutineTrigger   RoutineKind = "TRIGGER"
)

// ColumnDescriptor describes a single table column as reported by the
// engine's information schema.
type ColumnDescriptor struct {
	Name       string
	Type       string
	Nullable   bool
	Default    sql.NullString
	Extra      string
	PrimaryKey bool
}

// IndexDescriptor describes a (possibly composite) index. Columns are kept
// in sequence order.
type IndexDescriptor struct {
	Name    string
	Unique  bool
	Columns []string
	Type    string
}

// TableDescriptor is the unit of schema comparison. CreateStatement holds
// the canonical CREATE text used when the table is missing on the target.
type TableDescriptor struct {
	Name            string
	Columns         []ColumnDescriptor
	Indexes         []IndexDescriptor
	CreateStatement string
}

// RoutineDescriptor identifies a stored procedure, function or trigger by
// its canonical CREATE text. An empty CreateStatement means the engine
// refused to hand out the definition; such routines are never recreated.
type RoutineDescriptor struct {
	Name            string
	Kind            RoutineKind
	CreateStatement string
}
