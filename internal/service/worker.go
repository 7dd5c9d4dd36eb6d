package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dbsync/internal/config"
	"dbsync/internal/db"
)

// WorkerState tracks the pair worker lifecycle.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateConnecting
	StateInitialSync
	StateRunning
	StateStopping
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateInitialSync:
		return "initial-sync"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LastSyncRecorder is the slice of the configuration collaborator the
// worker needs: stamping "pair P last synced at now".
type LastSyncRecorder interface {
	UpdateLastSync(name string) error
}

// Worker owns one enabled pair: both adapters, the three syncers, and the
// two poll timers. Adapters are never shared between workers.
type Worker struct {
	pair     config.PairSpec
	settings config.Settings
	recorder LastSyncRecorder

	source db.Adapter
	target db.Adapter

	data     *DataSyncer
	schema   *SchemaSyncer
	routines *RoutineSyncer

	observers []SyncObserver

	state    atomic.Int32
	tickMu   sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker wires a worker for the pair. Adapters must be unconnected;
// Start owns their lifecycle.
func NewWorker(pair config.PairSpec, settings config.Settings, source, target db.Adapter, recorder LastSyncRecorder) *Worker {
	w := &Worker{
		pair:     pair,
		settings: settings,
		recorder: recorder,
		source:   source,
		target:   target,
		data:     NewDataSyncer(source, target, pair),
		schema:   NewSchemaSyncer(source, target, pair),
		routines: NewRoutineSyncer(source, target),
		stopCh:   make(chan struct{}),
	}
	w.state.Store(int32(StateIdle))
	return w
}

// RegisterObserver adds a tick observer. Must be called before Start.
func (w *Worker) RegisterObserver(o SyncObserver) {
	w.observers = append(w.observers, o)
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Running reports whether the worker reached its poll loops.
func (w *Worker) Running() bool {
	return w.State() == StateRunning
}

// Name returns the pair name.
func (w *Worker) Name() string { return w.pair.Name }

// Start connects both adapters, runs the initial sync and arms the poll
// timers. Any failure tears the worker down and is returned to the caller.
func (w *Worker) Start() error {
	if w.State() != StateIdle {
		return fmt.Errorf("worker %s already started", w.pair.Name)
	}

	w.state.Store(int32(StateConnecting))
	if err := w.connect(); err != nil {
		w.teardown()
		return err
	}

	w.state.Store(int32(StateInitialSync))
	if err := w.initialSync(); err != nil {
		w.teardown()
		return err
	}

	w.state.Store(int32(StateRunning))
	logrus.Infof("Worker for pair %s is running (data every %s, schema every %s)",
		w.pair.Name, w.settings.PollInterval, w.settings.SchemaCheckInterval)

	w.wg.Add(2)
	go w.pollLoop(w.settings.PollInterval, w.dataTick)
	go w.pollLoop(w.settings.SchemaCheckInterval, w.schemaTick)
	return nil
}

// connect opens both adapters, retrying per the settings.
func (w *Worker) connect() error {
	attempts := w.settings.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(w.settings.RetryDelay)
			logrus.Warnf("Retrying connect for pair %s (%d/%d)", w.pair.Name, i+1, attempts)
		}
		if err = w.source.Connect(); err != nil {
			continue
		}
		if err = w.target.Connect(); err != nil {
			continue
		}
		return nil
	}
	return fmt.Errorf("pair %s: %w", w.pair.Name, err)
}

// initialSync runs the one-shot sync in schema, routines, data order.
func (w *Worker) initialSync() error {
	if w.pair.SyncSchema {
		if result := w.schema.SyncTick(); !result.Success {
			return fmt.Errorf("pair %s: initial schema sync failed: %s",
				w.pair.Name, result.Errors[0])
		}
	}
	if w.pair.SyncProcedures {
		if result := w.routines.SyncTick(); !result.Success {
			return fmt.Errorf("pair %s: initial routine sync failed: %s",
				w.pair.Name, result.Errors[0])
		}
	}
	if w.pair.SyncData {
		if result := w.data.InitialSync(); !result.Success {
			return fmt.Errorf("pair %s: initial data sync failed: %s",
				w.pair.Name, result.Errors[0])
		}
	}
	return nil
}

// pollLoop drives one timer. A fire that lands while another tick of this
// pair is still in flight is dropped, not queued.
func (w *Worker) pollLoop(interval time.Duration, tick func()) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if !w.tickMu.TryLock() {
				logrus.Debugf("Dropping overlapping tick for pair %s", w.pair.Name)
				continue
			}
			tick()
			w.tickMu.Unlock()
		}
	}
}

func (w *Worker) dataTick() {
	if !w.pair.SyncData {
		return
	}
	w.notifyStart()

	result := w.data.SyncTick()
	w.finishTick(result)
}

func (w *Worker) schemaTick() {
	if !w.pair.SyncSchema && !w.pair.SyncProcedures {
		return
	}
	w.notifyStart()

	combined := &SyncResult{Success: true}
	if w.pair.SyncSchema {
		merge(combined, w.schema.SyncTick())
	}
	if w.pair.SyncProcedures {
		merge(combined, w.routines.SyncTick())
	}
	combined.Success = len(combined.Errors) == 0
	w.finishTick(combined)
}

func merge(into, from *SyncResult) {
	into.TablesSynced += from.TablesSynced
	into.RowsAffected += from.RowsAffected
	into.DDLApplied += from.DDLApplied
	into.Errors = append(into.Errors, from.Errors...)
	into.Duration += from.Duration
}

func (w *Worker) finishTick(result *SyncResult) {
	if result.Mutated() {
		if err := w.recorder.UpdateLastSync(w.pair.Name); err != nil {
			logrus.Warnf("Failed to record last sync for pair %s: %v", w.pair.Name, err)
		}
	}
	for _, err := range result.Errors {
		w.notifyError(fmt.Errorf("%s", err))
	}
	w.notifyComplete(result)
}

// Stop disarms the timers and closes both adapters. Idempotent and safe in
// any state; an in-flight tick runs to completion first.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.state.Store(int32(StateStopping))
		close(w.stopCh)
		w.wg.Wait()

		// Wait out any tick the timers had in flight.
		w.tickMu.Lock()
		w.tickMu.Unlock()

		w.teardown()
		logrus.Infof("Worker for pair %s stopped", w.pair.Name)
	})
}

func (w *Worker) teardown() {
	if err := w.source.Close(); err != nil {
		logrus.Warnf("Failed to close source adapter for pair %s: %v", w.pair.Name, err)
	}
	if err := w.target.Close(); err != nil {
		logrus.Warnf("Failed to close target adapter for pair %s: %v", w.pair.Name, err)
	}
	w.state.Store(int32(StateStopped))
}

func (w *Worker) notifyStart() {
	for _, o := range w.observers {
		o.OnSyncStart(w.pair.Name)
	}
}

func (w *Worker) notifyComplete(result *SyncResult) {
	for _, o := range w.observers {
		o.OnSyncComplete(w.pair.Name, result)
	}
}

func (w *Worker) notifyError(err error) {
	for _, o := range w.observers {
		o.OnSyncError(w.pair.Name, err)
	}
}
