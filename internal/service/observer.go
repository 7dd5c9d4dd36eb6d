package service

import (
	"github.com/sirupsen/logrus"
)

// SyncObserver is notified around every tick of a pair.
type SyncObserver interface {
	OnSyncStart(pair string)
	OnSyncComplete(pair string, result *SyncResult)
	OnSyncError(pair string, err error)
}

// LogObserver reports tick lifecycle through the process log.
type LogObserver struct{}

func (o *LogObserver) OnSyncStart(pair string) {
	logrus.Debugf("Starting sync tick for pair %s", pair)
}

func (o *LogObserver) OnSyncComplete(pair string, result *SyncResult) {
	if result.Mutated() {
		logrus.Infof("Sync tick for pair %s completed: %d tables, %d rows, %d DDL statements in %s",
			pair, result.TablesSynced, result.RowsAffected, result.DDLApplied, result.Duration)
		return
	}
	logrus.Debugf("Sync tick for pair %s completed with no changes in %s", pair, result.Duration)
}

func (o *LogObserver) OnSyncError(pair string, err error) {
	logrus.Errorf("Sync tick for pair %s failed: %v", pair, err)
}
