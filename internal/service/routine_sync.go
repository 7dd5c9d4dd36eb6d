package service

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dbsync/internal/db"
)

// RoutineSyncer replicates stored procedures, functions and triggers by
// comparing canonical CREATE text. Routines existing only on the target are
// deliberately left alone.
type RoutineSyncer struct {
	source db.Adapter
	target db.Adapter
}

// NewRoutineSyncer builds a routine syncer for one pair.
func NewRoutineSyncer(source, target db.Adapter) *RoutineSyncer {
	return &RoutineSyncer{source: source, target: target}
}

// SyncTick synchronizes procedures, functions and triggers in that order.
func (r *RoutineSyncer) SyncTick() *SyncResult {
	start := time.Now()
	result := &SyncResult{}

	for _, kind := range []db.RoutineKind{db.RoutineProcedure, db.RoutineFunction} {
		source, err := r.source.GetProcedures(kind)
		if err != nil {
			result.addError("failed to list source %ss: %v", strings.ToLower(string(kind)), err)
			continue
		}
		target, err := r.target.GetProcedures(kind)
		if err != nil {
			result.addError("failed to list target %ss: %v", strings.ToLower(string(kind)), err)
			continue
		}
		r.syncRoutines(source, target, result)
	}

	r.syncTriggers(result)
	return result.finish(start)
}

func (r *RoutineSyncer) syncTriggers(result *SyncResult) {
	source, err := r.source.GetTriggers()
	if err != nil {
		result.addError("failed to list source triggers: %v", err)
		return
	}
	target, err := r.target.GetTriggers()
	if err != nil {
		result.addError("failed to list target triggers: %v", err)
		return
	}
	r.syncRoutines(source, target, result)
}

// syncRoutines creates absent routines and drop+recreates drifted ones.
// Comparison is byte equality of the CREATE text after a symmetric trim.
func (r *RoutineSyncer) syncRoutines(source, target []db.RoutineDescriptor, result *SyncResult) {
	targetByName := make(map[string]db.RoutineDescriptor, len(target))
	for _, routine := range target {
		targetByName[routine.Name] = routine
	}

	for _, routine := range source {
		kind := strings.ToLower(string(routine.Kind))
		if routine.CreateStatement == "" {
			logrus.Warnf("Skipping %s %s: no definition available", kind, routine.Name)
			continue
		}

		existing, ok := targetByName[routine.Name]
		if !ok {
			if _, err := r.target.Exec(routine.CreateStatement); err != nil {
				logrus.Errorf("Failed to create %s %s: %v", kind, routine.Name, err)
				result.addError("%s %s: %v", kind, routine.Name, err)
				continue
			}
			logrus.Infof("Created %s: %s", kind, routine.Name)
			result.DDLApplied++
			continue
		}

		if strings.TrimSpace(existing.CreateStatement) == strings.TrimSpace(routine.CreateStatement) {
			continue
		}

		if _, err := r.target.Exec(r.target.DropRoutineDDL(routine.Kind, routine.Name)); err != nil {
			logrus.Errorf("Failed to drop %s %s: %v", kind, routine.Name, err)
			result.addError("%s %s: %v", kind, routine.Name, err)
			continue
		}
		if _, err := r.target.Exec(routine.CreateStatement); err != nil {
			logrus.Errorf("Failed to recreate %s %s: %v", kind, routine.Name, err)
			result.addError("%s %s: %v", kind, routine.Name, err)
			continue
		}
		logrus.Infof("Recreated %s: %s", kind, routine.Name)
		result.DDLApplied++
	}
}
