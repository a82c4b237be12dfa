// Package config provides configuration loading and validation for the
// service thread daemon. Supports YAML, TOML and JSON files with environment
// variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a service thread daemon.
type Config struct {
	ServiceThread ServiceThreadConfig `yaml:"service_thread" json:"service_thread" toml:"service_thread"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging" toml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics" toml:"metrics"`
	Tables        TablesConfig        `yaml:"tables" json:"tables" toml:"tables"`
	LowMemory     LowMemoryConfig     `yaml:"low_memory" json:"low_memory" toml:"low_memory"`
	Collector     CollectorConfig     `yaml:"collector" json:"collector" toml:"collector"`
	Producers     ProducersConfig     `yaml:"producers" json:"producers" toml:"producers"`
	Admin         AdminConfig         `yaml:"admin" json:"admin" toml:"admin"`
}

type ServiceThreadConfig struct {
	Name            string `yaml:"name" json:"name" toml:"name" env:"SERVICETHREAD_NAME"`
	HistoryCapacity int    `yaml:"history_capacity" json:"history_capacity" toml:"history_capacity" env:"SERVICETHREAD_HISTORY_CAPACITY"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level" env:"SERVICETHREAD_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" toml:"format" env:"SERVICETHREAD_LOG_FORMAT"`
}

type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled" toml:"enabled" env:"SERVICETHREAD_METRICS_ENABLED"`
	Namespace      string `yaml:"namespace" json:"namespace" toml:"namespace" env:"SERVICETHREAD_METRICS_NAMESPACE"`
	PollIntervalMs int64  `yaml:"poll_interval_ms" json:"poll_interval_ms" toml:"poll_interval_ms" env:"SERVICETHREAD_METRICS_POLL_INTERVAL_MS"`
}

// TablesConfig tunes the string and symbol interning tables.
type TablesConfig struct {
	InitialBuckets int     `yaml:"initial_buckets" json:"initial_buckets" toml:"initial_buckets" env:"SERVICETHREAD_TABLES_INITIAL_BUCKETS"`
	MaxBucketLen   float64 `yaml:"max_bucket_len" json:"max_bucket_len" toml:"max_bucket_len" env:"SERVICETHREAD_TABLES_MAX_BUCKET_LEN"`
	DeadRatio      float64 `yaml:"dead_ratio" json:"dead_ratio" toml:"dead_ratio" env:"SERVICETHREAD_TABLES_DEAD_RATIO"`
	MinDead        int     `yaml:"min_dead" json:"min_dead" toml:"min_dead" env:"SERVICETHREAD_TABLES_MIN_DEAD"`
}

type LowMemoryConfig struct {
	// HeapThresholdBytes is the heap pool usage threshold. Zero disables the sensor.
	HeapThresholdBytes  uint64 `yaml:"heap_threshold_bytes" json:"heap_threshold_bytes" toml:"heap_threshold_bytes" env:"SERVICETHREAD_LOW_MEMORY_HEAP_THRESHOLD"`
	StackThresholdBytes uint64 `yaml:"stack_threshold_bytes" json:"stack_threshold_bytes" toml:"stack_threshold_bytes" env:"SERVICETHREAD_LOW_MEMORY_STACK_THRESHOLD"`
}

// CollectorConfig drives the synthetic collector that pauses the runtime,
// scans service thread references and releases unreachable objects.
type CollectorConfig struct {
	Enabled              bool   `yaml:"enabled" json:"enabled" toml:"enabled" env:"SERVICETHREAD_COLLECTOR_ENABLED"`
	IntervalMs           int64  `yaml:"interval_ms" json:"interval_ms" toml:"interval_ms" env:"SERVICETHREAD_COLLECTOR_INTERVAL_MS"`
	PauseTimeoutMs       int64  `yaml:"pause_timeout_ms" json:"pause_timeout_ms" toml:"pause_timeout_ms" env:"SERVICETHREAD_COLLECTOR_PAUSE_TIMEOUT_MS"`
	ReleasePercent       int    `yaml:"release_percent" json:"release_percent" toml:"release_percent" env:"SERVICETHREAD_COLLECTOR_RELEASE_PERCENT"`
	GCName               string `yaml:"gc_name" json:"gc_name" toml:"gc_name" env:"SERVICETHREAD_COLLECTOR_GC_NAME"`
	NotificationCapacity int    `yaml:"notification_capacity" json:"notification_capacity" toml:"notification_capacity" env:"SERVICETHREAD_COLLECTOR_NOTIFICATION_CAPACITY"`
}

// ProducersConfig drives the synthetic producers of interned strings and
// deferred events.
type ProducersConfig struct {
	Enabled    bool  `yaml:"enabled" json:"enabled" toml:"enabled" env:"SERVICETHREAD_PRODUCERS_ENABLED"`
	Count      int   `yaml:"count" json:"count" toml:"count" env:"SERVICETHREAD_PRODUCERS_COUNT"`
	IntervalMs int64 `yaml:"interval_ms" json:"interval_ms" toml:"interval_ms" env:"SERVICETHREAD_PRODUCERS_INTERVAL_MS"`
	Batch      int   `yaml:"batch" json:"batch" toml:"batch" env:"SERVICETHREAD_PRODUCERS_BATCH"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled" env:"SERVICETHREAD_ADMIN_ENABLED"`
	Addr    string `yaml:"addr" json:"addr" toml:"addr" env:"SERVICETHREAD_ADMIN_ADDR"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ServiceThread: ServiceThreadConfig{
			Name:            "Service Thread",
			HistoryCapacity: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Namespace:      "servicethread",
			PollIntervalMs: 1000,
		},
		Tables: TablesConfig{
			InitialBuckets: 1024,
			MaxBucketLen:   2,
			DeadRatio:      0.5,
			MinDead:        16,
		},
		LowMemory: LowMemoryConfig{
			HeapThresholdBytes:  512 * 1024 * 1024, // 512MB
			StackThresholdBytes: 64 * 1024 * 1024,  // 64MB
		},
		Collector: CollectorConfig{
			Enabled:              true,
			IntervalMs:           2000,
			PauseTimeoutMs:       1000,
			ReleasePercent:       30,
			GCName:               "synthetic",
			NotificationCapacity: 1024,
		},
		Producers: ProducersConfig{
			Enabled:    true,
			Count:      2,
			IntervalMs: 100,
			Batch:      8,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8089",
		},
	}
}

// Load reads a configuration file based on its extension, on top of Default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	case ".json":
		err = json.Unmarshal(b, cfg)
	case ".toml":
		err = toml.Unmarshal(b, cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceThread.Name == "" {
		errs = append(errs, errors.New("service_thread.name must not be empty"))
	}
	if c.ServiceThread.HistoryCapacity < 1 {
		errs = append(errs, errors.New("service_thread.history_capacity must be positive"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	if c.Metrics.Enabled && c.Metrics.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("metrics.poll_interval_ms must be positive"))
	}
	if c.Tables.DeadRatio <= 0 || c.Tables.DeadRatio > 1 {
		errs = append(errs, errors.New("tables.dead_ratio must be in (0, 1]"))
	}
	if c.Tables.MaxBucketLen <= 0 {
		errs = append(errs, errors.New("tables.max_bucket_len must be positive"))
	}
	if c.Collector.Enabled {
		if c.Collector.IntervalMs <= 0 {
			errs = append(errs, errors.New("collector.interval_ms must be positive"))
		}
		if c.Collector.PauseTimeoutMs <= 0 {
			errs = append(errs, errors.New("collector.pause_timeout_ms must be positive"))
		}
		if c.Collector.ReleasePercent < 0 || c.Collector.ReleasePercent > 100 {
			errs = append(errs, errors.New("collector.release_percent must be in [0, 100]"))
		}
	}
	if c.Producers.Enabled && (c.Producers.Count < 1 || c.Producers.IntervalMs <= 0 || c.Producers.Batch < 1) {
		errs = append(errs, errors.New("producers.count, interval_ms and batch must be positive"))
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		errs = append(errs, errors.New("admin.addr must not be empty"))
	}
	return errors.Join(errs...)
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
