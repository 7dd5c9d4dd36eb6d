package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Store is the persisted configuration collaborator. All mutations are
// serialized by its mutex and saved atomically before returning.
type Store struct {
	path string
	cfg  *Config
	mu   sync.Mutex
}

// Open loads the store from path. A missing file yields an empty store; a
// corrupted file is a hard error and the daemon must refuse to start.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Store{
			path: path,
			cfg: &Config{
				Connections: make(map[string]ConnectionSpec),
				Settings:    defaultSettings(),
			},
		}, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg}, nil
}

func defaultSettings() Settings {
	return Settings{
		PollInterval:        30 * time.Second,
		SchemaCheckInterval: 5 * time.Minute,
		LogLevel:            "info",
		MaxRetries:          3,
		RetryDelay:          5 * time.Second,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ListConnections returns connection names in sorted order.
func (s *Store) ListConnections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.cfg.Connections))
	for name := range s.cfg.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetConnection looks up a connection spec by name.
func (s *Store) GetConnection(name string) (ConnectionSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.cfg.Connections[name]
	return spec, ok
}

// AddConnection registers a new connection. Duplicate names are rejected.
func (s *Store) AddConnection(name string, spec ConnectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cfg.Connections[name]; exists {
		return fmt.Errorf("connection %s already exists", name)
	}
	if spec.Type != EngineMySQL && spec.Type != EnginePostgres {
		return fmt.Errorf("unsupported engine type %q", spec.Type)
	}
	s.cfg.Connections[name] = spec
	return s.save()
}

// RemoveConnection deletes a connection unless a sync pair still references
// it.
func (s *Store) RemoveConnection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cfg.Connections[name]; !exists {
		return fmt.Errorf("connection %s not found", name)
	}
	for _, pair := range s.cfg.Pairs {
		if pair.Source == name || pair.Target == name {
			return fmt.Errorf("connection %s is used by sync pair %s", name, pair.Name)
		}
	}
	delete(s.cfg.Connections, name)
	return s.save()
}

// ListSyncPairs returns a copy of all pairs.
func (s *Store) ListSyncPairs() []PairSpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := make([]PairSpec, len(s.cfg.Pairs))
	copy(pairs, s.cfg.Pairs)
	return pairs
}

// EnabledSyncPairs returns a copy of all pairs with Enabled set.
func (s *Store) EnabledSyncPairs() []PairSpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pairs []PairSpec
	for _, p := range s.cfg.Pairs {
		if p.Enabled {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// GetSyncPair looks up a pair by name.
func (s *Store) GetSyncPair(name string) (PairSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.cfg.Pairs {
		if p.Name == name {
			return p, true
		}
	}
	return PairSpec{}, false
}

// AddSyncPair registers a new pair. The pair name must be unique and both
// connections must exist and differ.
func (s *Store) AddSyncPair(pair PairSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.cfg.Pairs {
		if p.Name == pair.Name {
			return fmt.Errorf("sync pair %s already exists", pair.Name)
		}
	}
	if pair.Source == pair.Target {
		return fmt.Errorf("sync pair %s: source and target must differ", pair.Name)
	}
	if _, ok := s.cfg.Connections[pair.Source]; !ok {
		return fmt.Errorf("sync pair %s: unknown source connection %q", pair.Name, pair.Source)
	}
	if _, ok := s.cfg.Connections[pair.Target]; !ok {
		return fmt.Errorf("sync pair %s: unknown target connection %q", pair.Name, pair.Target)
	}
	s.cfg.Pairs = append(s.cfg.Pairs, pair)
	return s.save()
}

// RemoveSyncPair deletes a pair by name.
func (s *Store) RemoveSyncPair(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.cfg.Pairs {
		if p.Name == name {
			s.cfg.Pairs = append(s.cfg.Pairs[:i], s.cfg.Pairs[i+1:]...)
			return s.save()
		}
	}
	return fmt.Errorf("sync pair %s not found", name)
}

// UpdateSyncPairStatus flips the enabled flag of a pair.
func (s *Store) UpdateSyncPairStatus(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cfg.Pairs {
		if s.cfg.Pairs[i].Name == name {
			s.cfg.Pairs[i].Enabled = enabled
			return s.save()
		}
	}
	return fmt.Errorf("sync pair %s not found", name)
}

// UpdateLastSync stamps the pair with the current time. Called by workers
// after any tick that performed a mutation.
func (s *Store) UpdateLastSync(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cfg.Pairs {
		if s.cfg.Pairs[i].Name == name {
			s.cfg.Pairs[i].LastSyncAt = time.Now()
			return s.save()
		}
	}
	return fmt.Errorf("sync pair %s not found", name)
}

// GetSettings returns the current settings.
func (s *Store) GetSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Settings
}

// UpdateSettings applies a partial settings patch.
func (s *Store) UpdateSettings(patch SettingsPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Settings
	if patch.PollInterval != nil {
		next.PollInterval = *patch.PollInterval
	}
	if patch.SchemaCheckInterval != nil {
		next.SchemaCheckInterval = *patch.SchemaCheckInterval
	}
	if patch.LogLevel != nil {
		next.LogLevel = *patch.LogLevel
	}
	if patch.LogDir != nil {
		next.LogDir = *patch.LogDir
	}
	if patch.MaxRetries != nil {
		next.MaxRetries = *patch.MaxRetries
	}
	if patch.RetryDelay != nil {
		next.RetryDelay = *patch.RetryDelay
	}

	if next.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be greater than 0")
	}
	if next.SchemaCheckInterval <= 0 {
		return fmt.Errorf("schema_check_interval must be greater than 0")
	}

	s.cfg.Settings = next
	return s.save()
}

// save writes the full config through viper to a temp file, then renames it
// over the store path. Callers must hold the mutex.
func (s *Store) save() error {
	v := viper.New()
	v.Set("connections", s.cfg.Connections)
	v.Set("pairs", s.cfg.Pairs)
	v.Set("settings", map[string]interface{}{
		"poll_interval":         s.cfg.Settings.PollInterval.String(),
		"schema_check_interval": s.cfg.Settings.SchemaCheckInterval.String(),
		"log_level":             s.cfg.Settings.LogLevel,
		"log_dir":               s.cfg.Settings.LogDir,
		"max_retries":           s.cfg.Settings.MaxRetries,
		"retry_delay":           s.cfg.Settings.RetryDelay.String(),
	})

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp.yml", filepath.Base(s.path)))
	if err := v.WriteConfigAs(tmp); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
