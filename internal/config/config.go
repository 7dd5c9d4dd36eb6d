package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Engine kinds accepted in connection specs.
const (
	EngineMySQL    = "mysql"
	EnginePostgres = "postgresql"
)

// ConnectionSpec describes one database endpoint. Immutable per run.
type ConnectionSpec struct {
	Type     string `mapstructure:"type" yaml:"type"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// PairSpec defines one source→target replication stream.
type PairSpec struct {
	Name           string    `mapstructure:"name" yaml:"name"`
	Source         string    `mapstructure:"source" yaml:"source"`
	Target         string    `mapstructure:"target" yaml:"target"`
	SyncSchema     bool      `mapstructure:"sync_schema" yaml:"sync_schema"`
	SyncData       bool      `mapstructure:"sync_data" yaml:"sync_data"`
	SyncProcedures bool      `mapstructure:"sync_procedures" yaml:"sync_procedures"`
	IncludeTables  []string  `mapstructure:"include_tables" yaml:"include_tables,omitempty"`
	ExcludeTables  []string  `mapstructure:"exclude_tables" yaml:"exclude_tables,omitempty"`
	Enabled        bool      `mapstructure:"enabled" yaml:"enabled"`
	LastSyncAt     time.Time `mapstructure:"last_sync_at" yaml:"last_sync_at,omitempty"`
}

// SelectsTable reports whether the pair's include/exclude filters admit the
// table. Matching is exact and case sensitive; include (when non-empty) is
// applied before exclude.
func (p *PairSpec) SelectsTable(name string) bool {
	if len(p.IncludeTables) > 0 {
		found := false
		for _, t := range p.IncludeTables {
			if t == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, t := range p.ExcludeTables {
		if t == name {
			return false
		}
	}
	return true
}

// Settings are the daemon-wide knobs.
type Settings struct {
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SchemaCheckInterval time.Duration `mapstructure:"schema_check_interval" yaml:"schema_check_interval"`
	LogLevel            string        `mapstructure:"log_level" yaml:"log_level"`
	LogDir              string        `mapstructure:"log_dir" yaml:"log_dir"`
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// SettingsPatch carries partial updates; nil fields are left untouched.
type SettingsPatch struct {
	PollInterval        *time.Duration
	SchemaCheckInterval *time.Duration
	LogLevel            *string
	LogDir              *string
	MaxRetries          *int
	RetryDelay          *time.Duration
}

// Config is the full persisted state: named connections, sync pairs and
// settings.
type Config struct {
	Connections map[string]ConnectionSpec `mapstructure:"connections" yaml:"connections"`
	Pairs       []PairSpec                `mapstructure:"pairs" yaml:"pairs"`
	Settings    Settings                  `mapstructure:"settings" yaml:"settings"`
}

// Load reads and validates the config file at path. Environment variables
// prefixed with APP_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	// The persisted form carries durations and timestamps as strings.
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Connections == nil {
		cfg.Connections = make(map[string]ConnectionSpec)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("settings.poll_interval", "30s")
	v.SetDefault("settings.schema_check_interval", "5m")
	v.SetDefault("settings.log_level", "info")
	v.SetDefault("settings.max_retries", 3)
	v.SetDefault("settings.retry_delay", "5s")
}

// Validate checks cross references and value ranges.
func (c *Config) Validate() error {
	for name, conn := range c.Connections {
		if conn.Type != EngineMySQL && conn.Type != EnginePostgres {
			return fmt.Errorf("connection %s: unsupported engine type %q", name, conn.Type)
		}
		if conn.Host == "" || conn.Database == "" {
			return fmt.Errorf("connection %s: host and database are required", name)
		}
	}

	seen := make(map[string]bool)
	for _, pair := range c.Pairs {
		if pair.Name == "" {
			return fmt.Errorf("sync pair with empty name")
		}
		if seen[pair.Name] {
			return fmt.Errorf("duplicate sync pair name: %s", pair.Name)
		}
		seen[pair.Name] = true

		if pair.Source == pair.Target {
			return fmt.Errorf("sync pair %s: source and target must differ", pair.Name)
		}
		if _, ok := c.Connections[pair.Source]; !ok {
			return fmt.Errorf("sync pair %s: unknown source connection %q", pair.Name, pair.Source)
		}
		if _, ok := c.Connections[pair.Target]; !ok {
			return fmt.Errorf("sync pair %s: unknown target connection %q", pair.Name, pair.Target)
		}
	}

	if c.Settings.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be greater than 0")
	}
	if c.Settings.SchemaCheckInterval <= 0 {
		return fmt.Errorf("schema_check_interval must be greater than 0")
	}
	return nil
}

// GetDSN returns the engine-native connection string.
func (c *ConnectionSpec) GetDSN() string {
	switch c.Type {
	case EnginePostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True",
			c.User, c.Password, c.Host, c.Port, c.Database)
	}
}
