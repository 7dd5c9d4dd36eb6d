package service

import (
	"fmt"
	"testing"
	"time"

	"dbsync/internal/config"
	"dbsync/internal/db"
)

func userCols() []db.ColumnDescriptor {
	return []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)", PrimaryKey: true},
		{Name: "name", Type: "varchar(100)", Nullable: true},
	}
}

func orderCols() []db.ColumnDescriptor {
	return []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)", PrimaryKey: true},
		{Name: "total", Type: "int(11)", Nullable: true},
		{Name: "updated_at", Type: "timestamp", Nullable: true},
	}
}

func dataPair() config.PairSpec {
	return config.PairSpec{Name: "test", SyncData: true, Enabled: true}
}

func TestInitialSyncLoadsEmptyTarget(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("users", "id", userCols(),
		db.Row{"id": 1, "name": "a"},
		db.Row{"id": 2, "name": "b"})
	target.addTable("users", "id", userCols())

	d := NewDataSyncer(source, target, dataPair())
	result := d.InitialSync()

	if !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}
	if result.RowsAffected != 2 {
		t.Errorf("expected 2 rows affected, got %d", result.RowsAffected)
	}
	if target.truncates != 1 {
		t.Errorf("empty target must be truncated before load, got %d truncates", target.truncates)
	}
	if n, _ := target.CountRows("users"); n != 2 {
		t.Errorf("expected 2 rows on target, got %d", n)
	}
	if row := target.rowByKey("users", 2); row == nil || row["name"] != "b" {
		t.Errorf("row 2 not replicated: %+v", row)
	}
}

func TestTickDetectsInsert(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("users", "id", userCols(),
		db.Row{"id": 1, "name": "a"},
		db.Row{"id": 2, "name": "b"})
	target.addTable("users", "id", userCols())

	d := NewDataSyncer(source, target, dataPair())
	if result := d.InitialSync(); !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}

	source.tables["users"].rows = append(source.tables["users"].rows, db.Row{"id": 3, "name": "c"})

	result := d.SyncTick()
	if !result.Success {
		t.Fatalf("tick failed: %v", result.Errors)
	}
	if result.RowsAffected != 1 {
		t.Errorf("expected 1 row affected, got %d", result.RowsAffected)
	}
	if row := target.rowByKey("users", 3); row == nil || row["name"] != "c" {
		t.Errorf("inserted row not replicated: %+v", row)
	}
}

func TestTickDetectsDelete(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("users", "id", userCols(),
		db.Row{"id": 1, "name": "a"},
		db.Row{"id": 3, "name": "c"})
	target.addTable("users", "id", userCols(),
		db.Row{"id": 1, "name": "a"},
		db.Row{"id": 2, "name": "b"},
		db.Row{"id": 3, "name": "c"})

	d := NewDataSyncer(source, target, dataPair())
	result := d.SyncTick()

	if !result.Success {
		t.Fatalf("tick failed: %v", result.Errors)
	}
	if row := target.rowByKey("users", 2); row != nil {
		t.Errorf("row 2 should be deleted, still present: %+v", row)
	}
	if n, _ := target.CountRows("users"); n != 2 {
		t.Errorf("expected 2 rows on target, got %d", n)
	}
}

func TestTickDetectsWitnessedUpdate(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.dialect = db.DialectPostgres

	past := time.Now().Add(-time.Hour)
	source.addTable("orders", "id", orderCols(),
		db.Row{"id": 7, "total": 10, "updated_at": past})
	target.addTable("orders", "id", orderCols())

	d := NewDataSyncer(source, target, dataPair())
	if result := d.InitialSync(); !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}

	// Row 7 changes and its witness advances past the sync window.
	source.tables["orders"].rows[0] = db.Row{"id": 7, "total": 99, "updated_at": time.Now().Add(time.Hour)}

	result := d.SyncTick()
	if !result.Success {
		t.Fatalf("tick failed: %v", result.Errors)
	}
	if result.RowsAffected != 1 {
		t.Errorf("expected 1 row affected, got %d", result.RowsAffected)
	}
	if row := target.rowByKey("orders", 7); row == nil || fmt.Sprint(row["total"]) != "99" {
		t.Errorf("update not replicated: %+v", row)
	}
}

func TestUpdateSkippedWithoutWitness(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("users", "id", userCols(),
		db.Row{"id": 1, "name": "a"})
	target.addTable("users", "id", userCols())

	d := NewDataSyncer(source, target, dataPair())
	if result := d.InitialSync(); !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}

	// In-place change without a witness column is not detected.
	source.tables["users"].rows[0]["name"] = "z"

	result := d.SyncTick()
	if !result.Success {
		t.Fatalf("tick failed: %v", result.Errors)
	}
	if result.RowsAffected != 0 {
		t.Errorf("witnessless update must not be replicated, got %d rows", result.RowsAffected)
	}
	if row := target.rowByKey("users", 1); row["name"] != "a" {
		t.Errorf("target should keep the stale value, got %+v", row)
	}
}

func TestCountFallbackTruncatesAndReloads(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()

	cols := []db.ColumnDescriptor{
		{Name: "sku", Type: "varchar(20)"},
		{Name: "label", Type: "varchar(100)", Nullable: true},
	}
	source.addTable("products", "", cols,
		db.Row{"sku": "a", "label": "one"},
		db.Row{"sku": "b", "label": "two"},
		db.Row{"sku": "c", "label": "three"})
	target.addTable("products", "", cols,
		db.Row{"sku": "a", "label": "one"},
		db.Row{"sku": "b", "label": "two"})

	d := NewDataSyncer(source, target, dataPair())
	result := d.SyncTick()

	if !result.Success {
		t.Fatalf("tick failed: %v", result.Errors)
	}
	if target.truncates != 1 {
		t.Errorf("expected truncate-and-reload, got %d truncates", target.truncates)
	}
	if n, _ := target.CountRows("products"); n != 3 {
		t.Errorf("expected 3 rows after reload, got %d", n)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("users", "id", userCols(),
		db.Row{"id": 1, "name": "a"},
		db.Row{"id": 2, "name": "b"})
	target.addTable("users", "id", userCols())

	d := NewDataSyncer(source, target, dataPair())
	if result := d.InitialSync(); !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}

	first := d.SyncTick()
	second := d.SyncTick()
	if !first.Success || !second.Success {
		t.Fatalf("ticks failed: %v / %v", first.Errors, second.Errors)
	}
	if first.RowsAffected != 0 || second.RowsAffected != 0 {
		t.Errorf("quiescent ticks must perform zero mutations, got %d and %d",
			first.RowsAffected, second.RowsAffected)
	}
}

func TestDeleteBatchesAtOneHundredKeys(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("events", "id", []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)", PrimaryKey: true},
	})

	var rows []db.Row
	for i := 0; i < 250; i++ {
		rows = append(rows, db.Row{"id": i})
	}
	target.addTable("events", "id", []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)", PrimaryKey: true},
	}, rows...)

	d := NewDataSyncer(source, target, dataPair())
	result := d.SyncTick()

	if !result.Success {
		t.Fatalf("tick failed: %v", result.Errors)
	}
	if len(target.deleteSizes) != 3 {
		t.Fatalf("expected 3 delete batches, got %v", target.deleteSizes)
	}
	if target.deleteSizes[0] != 100 || target.deleteSizes[1] != 100 || target.deleteSizes[2] != 50 {
		t.Errorf("unexpected batch sizes: %v", target.deleteSizes)
	}
	if n, _ := target.CountRows("events"); n != 0 {
		t.Errorf("expected empty target, got %d rows", n)
	}
}

func TestTableErrorDoesNotAbortTick(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("ghost", "id", userCols(), db.Row{"id": 1, "name": "a"})
	source.addTable("users", "id", userCols(), db.Row{"id": 1, "name": "a"})
	// Target is missing "ghost"; its creation waits for the schema tick.
	target.addTable("users", "id", userCols())

	d := NewDataSyncer(source, target, dataPair())
	result := d.SyncTick()

	if result.Success {
		t.Error("tick with a failed table must not be successful")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %v", result.Errors)
	}
	if result.TablesSynced != 1 {
		t.Errorf("healthy table must still sync, got %d", result.TablesSynced)
	}
	if row := target.rowByKey("users", 1); row == nil {
		t.Error("users row missing on target")
	}
}

func TestIncludeExcludeFilters(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.addTable("users", "id", userCols(), db.Row{"id": 1, "name": "a"})
	source.addTable("audit_log", "id", userCols(), db.Row{"id": 1, "name": "x"})
	target.addTable("users", "id", userCols())
	target.addTable("audit_log", "id", userCols())

	pair := dataPair()
	pair.ExcludeTables = []string{"audit_log"}

	d := NewDataSyncer(source, target, pair)
	if result := d.InitialSync(); !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}

	if n, _ := target.CountRows("users"); n != 1 {
		t.Errorf("users should be synced, got %d rows", n)
	}
	if n, _ := target.CountRows("audit_log"); n != 0 {
		t.Errorf("audit_log is excluded, got %d rows", n)
	}
}

func TestKeylessNonEmptyTargetLeftAlone(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()

	cols := []db.ColumnDescriptor{{Name: "sku", Type: "varchar(20)"}}
	source.addTable("products", "", cols, db.Row{"sku": "a"}, db.Row{"sku": "b"})
	target.addTable("products", "", cols, db.Row{"sku": "old"})

	d := NewDataSyncer(source, target, dataPair())
	result := d.InitialSync()

	if !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}
	if target.truncates != 0 {
		t.Error("keyless non-empty target must not be truncated at initial sync")
	}
	if n, _ := target.CountRows("products"); n != 1 {
		t.Errorf("target data must be preserved, got %d rows", n)
	}
}

func TestKeyedSourceKeylessTargetLeftAlone(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()

	// The source table is keyed, but the same-named target column carries
	// no key constraint; the merge decision must follow the target.
	source.addTable("users", "id", userCols(),
		db.Row{"id": 1, "name": "a"},
		db.Row{"id": 2, "name": "b"})

	plainCols := []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)"},
		{Name: "name", Type: "varchar(100)", Nullable: true},
	}
	target.addTable("users", "", plainCols,
		db.Row{"id": 9, "name": "local"})

	d := NewDataSyncer(source, target, dataPair())
	result := d.InitialSync()

	if !result.Success {
		t.Fatalf("initial sync failed: %v", result.Errors)
	}
	if target.truncates != 0 {
		t.Error("keyless non-empty target must not be truncated at initial sync")
	}
	if len(target.deleteSizes) != 0 {
		t.Errorf("no deletes may be issued against a keyless target, got %v", target.deleteSizes)
	}
	if n, _ := target.CountRows("users"); n != 1 {
		t.Fatalf("target data must be left alone, got %d rows", n)
	}
	if row := target.tables["users"].rows[0]; row["id"] != 9 || row["name"] != "local" {
		t.Errorf("pre-existing target data must be preserved, got %+v", row)
	}
}

func TestWitnessColumnSelection(t *testing.T) {
	byName := []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)"},
		{Name: "Updated_At", Type: "datetime"},
	}
	if got := witnessColumn(byName); got != "Updated_At" {
		t.Errorf("expected name match, got %q", got)
	}

	byType := []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)"},
		{Name: "touched", Type: "TIMESTAMP(6)"},
	}
	if got := witnessColumn(byType); got != "touched" {
		t.Errorf("expected type match, got %q", got)
	}

	none := []db.ColumnDescriptor{
		{Name: "id", Type: "int(11)"},
		{Name: "created", Type: "datetime"},
	}
	if got := witnessColumn(none); got != "" {
		t.Errorf("expected no witness, got %q", got)
	}
}
