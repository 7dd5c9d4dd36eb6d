package service

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"dbsync/internal/config"
	"dbsync/internal/db"
)

// PairStatus is one row of the supervisor's status snapshot.
type PairStatus struct {
	Name    string
	Running bool
}

// Status is the supervisor's observability snapshot.
type Status struct {
	IsRunning      bool
	ActiveServices int
	Pairs          []PairStatus
}

// Supervisor owns the set of pair workers for one daemon run. Workers are
// started once and never restarted within a process lifetime.
type Supervisor struct {
	store *config.Store

	mu      sync.Mutex
	workers map[string]*Worker
	order   []string
	running bool
}

// NewSupervisor builds a supervisor over the given store.
func NewSupervisor(store *config.Store) *Supervisor {
	return &Supervisor{
		store:   store,
		workers: make(map[string]*Worker),
	}
}

// StartAll enumerates enabled pairs and starts a worker per pair. A pair
// that fails to start is logged and skipped; the others still run.
func (s *Supervisor) StartAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("supervisor already running")
	}

	settings := s.store.GetSettings()
	pairs := s.store.EnabledSyncPairs()
	if len(pairs) == 0 {
		logrus.Warn("No enabled sync pairs configured")
	}

	for _, pair := range pairs {
		worker, err := s.buildWorker(pair, settings)
		if err != nil {
			logrus.Errorf("Failed to set up pair %s: %v", pair.Name, err)
			continue
		}
		if err := worker.Start(); err != nil {
			logrus.Errorf("Failed to start pair %s: %v", pair.Name, err)
			continue
		}
		s.workers[pair.Name] = worker
		s.order = append(s.order, pair.Name)
	}

	s.running = true
	logrus.Infof("Supervisor started %d of %d enabled pairs", len(s.workers), len(pairs))
	return nil
}

func (s *Supervisor) buildWorker(pair config.PairSpec, settings config.Settings) (*Worker, error) {
	sourceSpec, ok := s.store.GetConnection(pair.Source)
	if !ok {
		return nil, fmt.Errorf("%w: unknown source connection %q", db.ErrConfigurationInvalid, pair.Source)
	}
	targetSpec, ok := s.store.GetConnection(pair.Target)
	if !ok {
		return nil, fmt.Errorf("%w: unknown target connection %q", db.ErrConfigurationInvalid, pair.Target)
	}

	source, err := db.New(sourceSpec)
	if err != nil {
		return nil, err
	}
	target, err := db.New(targetSpec)
	if err != nil {
		return nil, err
	}

	worker := NewWorker(pair, settings, source, target, s.store)
	worker.RegisterObserver(&LogObserver{})
	return worker, nil
}

// StopAll stops every worker in parallel and marks the supervisor down.
// Safe to call more than once.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wg sync.WaitGroup
	for _, worker := range s.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()

	s.running = false
	logrus.Info("Supervisor stopped all workers")
}

// Status returns a point-in-time snapshot for the control surface.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{IsRunning: s.running}
	for _, name := range s.order {
		worker := s.workers[name]
		running := worker.Running()
		if running {
			status.ActiveServices++
		}
		status.Pairs = append(status.Pairs, PairStatus{Name: name, Running: running})
	}
	return status
}
