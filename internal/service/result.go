package service

import (
	"fmt"
	"time"
)

// SyncResult summarizes one tick. Success is true iff no table errored;
// table-level errors never abort a tick.
type SyncResult struct {
	Success      bool
	TablesSynced int
	RowsAffected int64
	DDLApplied   int
	Errors       []string
	Duration     time.Duration
}

// Mutated reports whether the tick changed anything on the target.
func (r *SyncResult) Mutated() bool {
	return r.RowsAffected > 0 || r.DDLApplied > 0
}

func (r *SyncResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *SyncResult) finish(start time.Time) *SyncResult {
	r.Duration = time.Since(start)
	r.Success = len(r.Errors) == 0
	return r
}
