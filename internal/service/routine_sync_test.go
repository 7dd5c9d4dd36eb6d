package service

import (
	"testing"

	"dbsync/internal/db"
)

func TestRoutineSyncCreatesMissingProcedure(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.procs[db.RoutineProcedure] = []db.RoutineDescriptor{
		{Name: "cleanup", Kind: db.RoutineProcedure, CreateStatement: "CREATE PROCEDURE cleanup() BEGIN END"},
	}

	r := NewRoutineSyncer(source, target)
	result := r.SyncTick()

	if !result.Success {
		t.Fatalf("routine tick failed: %v", result.Errors)
	}
	if result.DDLApplied != 1 {
		t.Errorf("expected 1 DDL, got %d", result.DDLApplied)
	}
	if len(target.executedContaining("CREATE PROCEDURE cleanup")) != 1 {
		t.Errorf("procedure not created: %v", target.executed)
	}
}

func TestRoutineSyncRecreatesOnDrift(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.procs[db.RoutineFunction] = []db.RoutineDescriptor{
		{Name: "total", Kind: db.RoutineFunction, CreateStatement: "CREATE FUNCTION total() RETURNS INT RETURN 2"},
	}
	target.procs[db.RoutineFunction] = []db.RoutineDescriptor{
		{Name: "total", Kind: db.RoutineFunction, CreateStatement: "CREATE FUNCTION total() RETURNS INT RETURN 1"},
	}

	r := NewRoutineSyncer(source, target)
	result := r.SyncTick()

	if !result.Success {
		t.Fatalf("routine tick failed: %v", result.Errors)
	}
	if len(target.executedContaining("DROP FUNCTION IF EXISTS `total`")) != 1 {
		t.Errorf("drifted function not dropped: %v", target.executed)
	}
	if len(target.executedContaining("RETURN 2")) != 1 {
		t.Errorf("drifted function not recreated: %v", target.executed)
	}
}

func TestRoutineSyncIgnoresWhitespaceDrift(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.procs[db.RoutineProcedure] = []db.RoutineDescriptor{
		{Name: "p", Kind: db.RoutineProcedure, CreateStatement: "CREATE PROCEDURE p() BEGIN END\n"},
	}
	target.procs[db.RoutineProcedure] = []db.RoutineDescriptor{
		{Name: "p", Kind: db.RoutineProcedure, CreateStatement: "  CREATE PROCEDURE p() BEGIN END"},
	}

	r := NewRoutineSyncer(source, target)
	result := r.SyncTick()

	if !result.Success {
		t.Fatalf("routine tick failed: %v", result.Errors)
	}
	if len(target.executed) != 0 {
		t.Errorf("trim-equal routines must be left alone: %v", target.executed)
	}
}

func TestRoutineSyncSkipsEmptyDefinitions(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.procs[db.RoutineProcedure] = []db.RoutineDescriptor{
		{Name: "opaque", Kind: db.RoutineProcedure},
	}

	r := NewRoutineSyncer(source, target)
	result := r.SyncTick()

	if !result.Success {
		t.Fatalf("routine tick failed: %v", result.Errors)
	}
	if len(target.executed) != 0 {
		t.Errorf("routines without definitions must be skipped: %v", target.executed)
	}
}

func TestRoutineSyncNeverDropsTargetOnly(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	target.procs[db.RoutineProcedure] = []db.RoutineDescriptor{
		{Name: "local_only", Kind: db.RoutineProcedure, CreateStatement: "CREATE PROCEDURE local_only() BEGIN END"},
	}
	target.triggers = []db.RoutineDescriptor{
		{Name: "local_trg", Kind: db.RoutineTrigger, CreateStatement: "CREATE TRIGGER local_trg ..."},
	}

	r := NewRoutineSyncer(source, target)
	result := r.SyncTick()

	if !result.Success {
		t.Fatalf("routine tick failed: %v", result.Errors)
	}
	if len(target.executed) != 0 {
		t.Errorf("target-only routines must never be dropped: %v", target.executed)
	}
}

func TestRoutineSyncHandlesTriggers(t *testing.T) {
	source := newFakeAdapter()
	target := newFakeAdapter()
	source.triggers = []db.RoutineDescriptor{
		{Name: "audit", Kind: db.RoutineTrigger, CreateStatement: "CREATE TRIGGER audit AFTER INSERT ON users FOR EACH ROW BEGIN END"},
	}

	r := NewRoutineSyncer(source, target)
	result := r.SyncTick()

	if !result.Success {
		t.Fatalf("routine tick failed: %v", result.Errors)
	}
	if len(target.executedContaining("CREATE TRIGGER audit")) != 1 {
		t.Errorf("trigger not created: %v", target.executed)
	}
}
