package service

import (
	"fmt"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"dbsync/internal/config"
	"dbsync/internal/db"
)

// SchemaSyncer compares source and target table structures and applies
// idempotent DDL to bring the target in line.
type SchemaSyncer struct {
	source db.Adapter
	target db.Adapter
	pair   config.PairSpec
}

// NewSchemaSyncer builds a schema differ for one pair.
func NewSchemaSyncer(source, target db.Adapter, pair config.PairSpec) *SchemaSyncer {
	return &SchemaSyncer{source: source, target: target, pair: pair}
}

// SyncTick runs one schema poll: create missing tables, then walk columns
// and indexes of the tables present on both sides.
func (s *SchemaSyncer) SyncTick() *SyncResult {
	start := time.Now()
	result := &SyncResult{}

	sourceTables, err := s.source.GetTables()
	if err != nil {
		result.addError("failed to list source tables: %v", err)
		return result.finish(start)
	}
	targetTables, err := s.target.GetTables()
	if err != nil {
		result.addError("failed to list target tables: %v", err)
		return result.finish(start)
	}

	targetByName := make(map[string]db.TableDescriptor, len(targetTables))
	for _, t := range targetTables {
		targetByName[t.Name] = t
	}

	for _, src := range sourceTables {
		if !s.pair.SelectsTable(src.Name) {
			continue
		}

		tgt, exists := targetByName[src.Name]
		if !exists {
			if err := s.target.CreateTable(src.CreateStatement); err != nil {
				logrus.Errorf("Failed to create table %s: %v", src.Name, err)
				result.addError("table %s: %v", src.Name, err)
				continue
			}
			logrus.Infof("Created table: %s", src.Name)
			result.DDLApplied++
			result.TablesSynced++
			continue
		}

		if !reflect.DeepEqual(src.Columns, tgt.Columns) || !reflect.DeepEqual(src.Indexes, tgt.Indexes) {
			if err := s.updateTableStructure(src, tgt, result); err != nil {
				logrus.Errorf("Failed to update structure of table %s: %v", src.Name, err)
				result.addError("table %s: %v", src.Name, err)
				continue
			}
		}
		result.TablesSynced++
	}
	return result.finish(start)
}

// updateTableStructure walks source columns against target columns by name,
// adding, modifying and dropping as needed, then reconciles indexes.
func (s *SchemaSyncer) updateTableStructure(src, tgt db.TableDescriptor, result *SyncResult) error {
	targetCols := make(map[string]db.ColumnDescriptor, len(tgt.Columns))
	for _, col := range tgt.Columns {
		targetCols[col.Name] = col
	}
	sourceCols := make(map[string]db.ColumnDescriptor, len(src.Columns))
	for _, col := range src.Columns {
		sourceCols[col.Name] = col
	}

	for _, col := range src.Columns {
		existing, ok := targetCols[col.Name]
		if !ok {
			ddl := s.target.AddColumnDDL(src.Name, col)
			if err := s.alter(ddl); err != nil {
				return err
			}
			logrus.Infof("Added column %s to table: %s", col.Name, src.Name)
			result.DDLApplied++
			continue
		}
		if !reflect.DeepEqual(col, existing) {
			ddl := s.target.ModifyColumnDDL(src.Name, col)
			if err := s.alter(ddl); err != nil {
				return err
			}
			logrus.Infof("Modified column %s in table: %s", col.Name, src.Name)
			result.DDLApplied++
		}
	}

	for _, col := range tgt.Columns {
		if _, ok := sourceCols[col.Name]; !ok {
			ddl := s.target.DropColumnDDL(src.Name, col.Name)
			if err := s.alter(ddl); err != nil {
				return err
			}
			logrus.Infof("Dropped column %s from table: %s", col.Name, src.Name)
			result.DDLApplied++
		}
	}

	if s.target.Dialect() == db.DialectMySQL {
		if err := s.reconcileIndexes(src, tgt, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *SchemaSyncer) alter(ddl string) error {
	if err := s.target.AlterTable(ddl); err != nil {
		return fmt.Errorf("%w: %v", db.ErrSchemaIncompatible, err)
	}
	return nil
}

// reconcileIndexes aligns non-PRIMARY index names between the two sides.
func (s *SchemaSyncer) reconcileIndexes(src, tgt db.TableDescriptor, result *SyncResult) error {
	sourceIdx := make(map[string]db.IndexDescriptor, len(src.Indexes))
	for _, idx := range src.Indexes {
		if idx.Name != "PRIMARY" {
			sourceIdx[idx.Name] = idx
		}
	}
	targetIdx := make(map[string]db.IndexDescriptor, len(tgt.Indexes))
	for _, idx := range tgt.Indexes {
		if idx.Name != "PRIMARY" {
			targetIdx[idx.Name] = idx
		}
	}

	for _, idx := range tgt.Indexes {
		if idx.Name == "PRIMARY" {
			continue
		}
		if _, ok := sourceIdx[idx.Name]; !ok {
			if _, err := s.target.Exec(s.target.DropIndexDDL(src.Name, idx.Name)); err != nil {
				return fmt.Errorf("%w: %v", db.ErrSchemaIncompatible, err)
			}
			logrus.Infof("Dropped index %s from table: %s", idx.Name, src.Name)
			result.DDLApplied++
		}
	}

	for _, idx := range src.Indexes {
		if idx.Name == "PRIMARY" {
			continue
		}
		if _, ok := targetIdx[idx.Name]; !ok {
			if _, err := s.target.Exec(s.target.CreateIndexDDL(src.Name, idx)); err != nil {
				return fmt.Errorf("%w: %v", db.ErrSchemaIncompatible, err)
			}
			logrus.Infof("Created index %s on table: %s", idx.Name, src.Name)
			result.DDLApplied++
		}
	}
	return nil
}
