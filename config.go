package jobstore

import (
	"fmt"
	"maps"

	"github.com/caarlos0/env/v11"
)

// DefaultClientOptions are the store client options every Config starts
// from. Caller-supplied ClientOptions are layered on top and win on conflict.
var DefaultClientOptions = map[string]string{
	"appName":                  "jobstore",
	"connectTimeoutMS":         "10000",
	"serverSelectionTimeoutMS": "30000",
}

// Config holds the connection settings for a job store. Build it once with
// NewConfig or ConfigFromEnv; backends copy it at construction and never
// mutate it afterwards.
type Config struct {
	// URI is the store connection endpoint.
	URI string `env:"URI" envDefault:"mongodb://localhost:27017" json:"uri"`

	// Database holds the job collection.
	Database string `env:"DATABASE" envDefault:"jobstore" json:"database"`

	// Collection stores one document per job.
	Collection string `env:"COLLECTION" envDefault:"jobs" json:"collection"`

	// ClientOptions are store-specific client options passed through to the
	// driver as connection-string options (e.g. "maxPoolSize": "50").
	ClientOptions map[string]string `env:"CLIENT_OPTIONS" json:"client_options,omitempty"`

	// SnapshotScan runs the reclamation scan inside a snapshot session.
	// Requires a replica set; standalone servers reject snapshot reads.
	SnapshotScan bool `env:"SNAPSHOT_SCAN" envDefault:"false" json:"snapshot_scan"`
}

// ConfigOption customizes a Config under construction.
type ConfigOption func(*Config)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URI:           "mongodb://localhost:27017",
		Database:      "jobstore",
		Collection:    "jobs",
		ClientOptions: maps.Clone(DefaultClientOptions),
	}
}

// NewConfig builds a validated Config from DefaultConfig and opts.
func NewConfig(opts ...ConfigOption) (Config, error) {
	cfg := DefaultConfig()
	cfg.ClientOptions = nil
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ClientOptions = mergeClientOptions(cfg.ClientOptions)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromEnv builds a validated Config from JOBSTORE_* environment
// variables. JOBSTORE_CLIENT_OPTIONS uses "key:value,key:value" syntax.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "JOBSTORE_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.ClientOptions = mergeClientOptions(cfg.ClientOptions)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether the Config names a usable endpoint and collection.
func (c Config) Validate() error {
	switch {
	case c.URI == "":
		return fmt.Errorf("%w: uri is required", ErrInvalidConfig)
	case c.Database == "":
		return fmt.Errorf("%w: database is required", ErrInvalidConfig)
	case c.Collection == "":
		return fmt.Errorf("%w: collection is required", ErrInvalidConfig)
	}
	return nil
}

// WithURI sets the store connection endpoint.
func WithURI(uri string) ConfigOption {
	return func(c *Config) { c.URI = uri }
}

// WithDatabase sets the database name.
func WithDatabase(name string) ConfigOption {
	return func(c *Config) { c.Database = name }
}

// WithCollection sets the job collection name.
func WithCollection(name string) ConfigOption {
	return func(c *Config) { c.Collection = name }
}

// WithClientOption sets a single pass-through client option.
func WithClientOption(key, value string) ConfigOption {
	return func(c *Config) {
		if c.ClientOptions == nil {
			c.ClientOptions = make(map[string]string)
		}
		c.ClientOptions[key] = value
	}
}

// WithClientOptions sets several pass-through client options at once.
func WithClientOptions(opts map[string]string) ConfigOption {
	return func(c *Config) {
		if c.ClientOptions == nil {
			c.ClientOptions = make(map[string]string, len(opts))
		}
		maps.Copy(c.ClientOptions, opts)
	}
}

// WithSnapshotScan toggles snapshot reads for the reclamation scan.
func WithSnapshotScan(enabled bool) ConfigOption {
	return func(c *Config) { c.SnapshotScan = enabled }
}

func mergeClientOptions(caller map[string]string) map[string]string {
	merged := maps.Clone(DefaultClientOptions)
	maps.Copy(merged, caller)
	return merged
}
