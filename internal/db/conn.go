package db

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 10
	connMaxLifetime = time.Hour
)

// openGorm opens a gorm handle with the shared pool settings and validates
// it by pinging one connection.
func openGorm(dialector gorm.Dialector) (*gorm.DB, error) {
	g, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	return g, nil
}

// closeGorm releases the handle's underlying pool.
func closeGorm(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// queryRows runs a raw query and scans every row into a column-keyed map.
// []byte values are normalized to string so keys compare cleanly across
// drivers.
func queryRows(g *gorm.DB, query string, args ...interface{}) ([]Row, error) {
	rows, err := g.Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return out, nil
}

// execSQL runs a raw statement and returns the affected row count.
func execSQL(g *gorm.DB, query string, args ...interface{}) (int64, error) {
	result := g.Exec(query, args...)
	if result.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueryFailed, result.Error)
	}
	return result.RowsAffected, nil
}

// toInt64 coerces the count values drivers hand back (int64, string, or
// []byte depending on engine).
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	case []byte:
		var out int64
		fmt.Sscan(string(n), &out)
		return out
	default:
		return 0
	}
}

// isTrue coerces driver-dependent boolean encodings.
func isTrue(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "t" || b == "true" || b == "1"
	case int64:
		return b != 0
	default:
		return false
	}
}

// rowColumns returns the row's column names in sorted order so generated
// SQL is deterministic regardless of map iteration.
func rowColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
