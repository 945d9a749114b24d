// Package rmconfig loads the resource manager configuration from YAML.
//
// Every field has a default, so an empty file (or no file) yields a working
// single-process setup backed by an in-memory store.
package rmconfig

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

type Config struct {
	LogLevel    string             `yaml:"log_level"`
	Database    DatabaseConfig     `yaml:"database"`
	Persistence PersistenceConfig  `yaml:"persistence"`
	Recovery    RecoveryConfig     `yaml:"recovery"`
	Liveness    LivenessConfig     `yaml:"liveness"`
	Selection   SelectionConfig    `yaml:"selection"`
	Admin       AdminConfig        `yaml:"admin"`
	Events      EventsConfig       `yaml:"events"`
	NodeSources []NodeSourceConfig `yaml:"node_sources"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// PersistenceConfig bounds how long a single write is retried before the
// transition is parked as pending, and how often parked writes are retried.
type PersistenceConfig struct {
	InitialInterval      time.Duration `yaml:"initial_interval"`
	MaxInterval          time.Duration `yaml:"max_interval"`
	MaxElapsedTime       time.Duration `yaml:"max_elapsed_time"`
	PendingRetryInterval time.Duration `yaml:"pending_retry_interval"`
}

type RecoveryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	Concurrency     int           `yaml:"concurrency"`
	ProbesPerSecond float64       `yaml:"probes_per_second"`
}

type LivenessConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Timeout         time.Duration `yaml:"timeout"`
	Workers         int           `yaml:"workers"`
	ProbesPerSecond float64       `yaml:"probes_per_second"`
}

// SelectionConfig tunes the probabilistic selection manager. A zero
// DynamicityWindow disables decay and staleness-based exclusion.
type SelectionConfig struct {
	DynamicityWindow time.Duration `yaml:"dynamicity_window"`
	CacheSize        int           `yaml:"cache_size"`
	MaxThreads       int           `yaml:"max_threads"`
	ScriptTimeout    time.Duration `yaml:"script_timeout"`
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// EventsConfig enables forwarding of manager events to NATS when NATSURL is set.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// NodeSourceConfig is created on startup when no node source of that name
// was recovered from the store.
type NodeSourceConfig struct {
	Name                 string   `yaml:"name"`
	InfrastructureType   string   `yaml:"infrastructure_type"`
	InfrastructureParams []string `yaml:"infrastructure_params"`
	PolicyType           string   `yaml:"policy_type"`
	PolicyParams         []string `yaml:"policy_params"`
	Provider             string   `yaml:"provider"`
	NodesRecoverable     bool     `yaml:"nodes_recoverable"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{Driver: DriverMemory},
		Persistence: PersistenceConfig{
			InitialInterval:      50 * time.Millisecond,
			MaxInterval:          time.Second,
			MaxElapsedTime:       5 * time.Second,
			PendingRetryInterval: 10 * time.Second,
		},
		Recovery: RecoveryConfig{
			Enabled:         true,
			ProbeTimeout:    5 * time.Second,
			Concurrency:     16,
			ProbesPerSecond: 100,
		},
		Liveness: LivenessConfig{
			Interval:        30 * time.Second,
			Timeout:         5 * time.Second,
			Workers:         16,
			ProbesPerSecond: 100,
		},
		Selection: SelectionConfig{
			DynamicityWindow: 5 * time.Minute,
			CacheSize:        1000,
			MaxThreads:       50,
			ScriptTimeout:    30 * time.Second,
		},
		Admin:  AdminConfig{Addr: "localhost:9091"},
		Events: EventsConfig{Subject: "nodepool.events"},
	}
}

// Parse overlays data on top of the defaults.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	return c, c.Validate()
}

// Load reads path, or returns the defaults when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		c := Default()
		return c, c.Validate()
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite, DriverBadger:
		if c.Database.Path == "" {
			return rmerrors.NewValidationError("database.path", "required for driver %s", c.Database.Driver)
		}
	default:
		return rmerrors.NewValidationError("database.driver", "unknown driver %q", c.Database.Driver)
	}
	if c.Recovery.Concurrency < 1 {
		return rmerrors.NewValidationError("recovery.concurrency", "must be positive")
	}
	if c.Liveness.Workers < 1 {
		return rmerrors.NewValidationError("liveness.workers", "must be positive")
	}
	if c.Liveness.Interval <= 0 || c.Liveness.Timeout <= 0 || c.Recovery.ProbeTimeout <= 0 {
		return rmerrors.NewValidationError("liveness", "interval and timeouts must be positive")
	}
	if c.Selection.DynamicityWindow < 0 {
		return rmerrors.NewValidationError("selection.dynamicity_window", "must not be negative")
	}
	if c.Selection.CacheSize < 1 || c.Selection.MaxThreads < 1 {
		return rmerrors.NewValidationError("selection", "cache_size and max_threads must be positive")
	}
	seen := map[string]bool{}
	for _, ns := range c.NodeSources {
		if ns.Name == "" {
			return rmerrors.NewValidationError("node_sources.name", "must not be empty")
		}
		if seen[ns.Name] {
			return rmerrors.NewValidationError("node_sources.name", "duplicate node source %q", ns.Name)
		}
		seen[ns.Name] = true
	}
	return nil
}
