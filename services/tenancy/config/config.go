// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the tenancy service configuration.
//
// # Description
//
// Configuration comes from a YAML file, then TENANCY_* environment
// variables override selected fields. Secrets never appear in the file:
// they are read from the environment (or a *_FILE path) and sealed in
// memguard enclaves. The platform retention defaults live in their own
// file so they can be hot-reloaded.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/gcs"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/influx"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/postgres"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/adapters/redis"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/anomaly"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/scheduler"
	badgerstore "github.com/AleutianAI/AleutianTenancy/services/tenancy/storage/badger"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Postgres  *PostgresConfig  `yaml:"postgres,omitempty"`
	Redis     *redis.Config    `yaml:"redis,omitempty"`
	GCS       *gcs.Config      `yaml:"gcs,omitempty"`
	Influx    *influx.Config   `yaml:"influx,omitempty"`
	Retention RetentionConfig  `yaml:"retention"`
	Anomaly   anomaly.Options  `yaml:"anomaly"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Logging   LoggingConfig    `yaml:"logging"`
	Tracing   TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the registry store.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend string             `yaml:"backend" validate:"oneof=badger memory"`
	Badger  badgerstore.Config `yaml:"badger"`
}

// PostgresConfig adds the retention table mapping to the connection
// settings.
type PostgresConfig struct {
	postgres.Config `yaml:",inline"`

	// RetentionTables maps a data category to the tenant-schema tables
	// holding it.
	RetentionTables map[string][]string `yaml:"retention_tables"`
}

// RetentionConfig holds enforcer settings and the defaults file path.
type RetentionConfig struct {
	Concurrency      int     `yaml:"concurrency" validate:"gte=1,lte=64"`
	TenantsPerSecond float64 `yaml:"tenants_per_second" validate:"gte=0"`
	DefaultsFile     string  `yaml:"defaults_file"`
	WatchDefaults    bool    `yaml:"watch_defaults"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto json text"`
	File   string `yaml:"file"`
}

// TracingConfig controls the OTLP exporter. An empty endpoint disables
// export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name" validate:"required"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns a configuration that runs with on-disk badger and no
// external adapters.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":12240",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "badger",
			Badger: func() badgerstore.Config {
				c := badgerstore.DefaultConfig()
				c.Path = "./data/tenancy"
				return c
			}(),
		},
		Retention: RetentionConfig{
			Concurrency:      4,
			TenantsPerSecond: 10,
		},
		Anomaly:   anomaly.DefaultOptions(),
		Scheduler: scheduler.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info", Format: "auto"},
		Tracing:   TracingConfig{ServiceName: "aleutian-tenancy", SampleRatio: 1},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct tags on cfg and every enabled adapter.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Storage.Backend == "badger" && !cfg.Storage.Badger.InMemory && cfg.Storage.Badger.Path == "" {
		return fmt.Errorf("invalid config: storage.badger.path is required")
	}
	return nil
}

// envOverrides maps environment variables to setters.
var envOverrides = map[string]func(*Config, string) error{
	"TENANCY_HTTP_ADDR": func(c *Config, v string) error { c.Server.Addr = v; return nil },
	"TENANCY_DATA_DIR":  func(c *Config, v string) error { c.Storage.Badger.Path = v; return nil },
	"TENANCY_STORAGE":   func(c *Config, v string) error { c.Storage.Backend = v; return nil },
	"TENANCY_LOG_LEVEL": func(c *Config, v string) error { c.Logging.Level = v; return nil },
	"TENANCY_LOG_FILE":  func(c *Config, v string) error { c.Logging.File = v; return nil },
	"TENANCY_OTLP_ENDPOINT": func(c *Config, v string) error {
		c.Tracing.Endpoint = v
		return nil
	},
	"TENANCY_PG_HOST": func(c *Config, v string) error {
		if c.Postgres == nil {
			c.Postgres = &PostgresConfig{Config: postgres.Config{Port: 5432, SSLMode: "require"}}
		}
		c.Postgres.Host = v
		return nil
	},
	"TENANCY_PG_PORT": func(c *Config, v string) error {
		if c.Postgres == nil {
			return nil
		}
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TENANCY_PG_PORT: %w", err)
		}
		c.Postgres.Port = port
		return nil
	},
	"TENANCY_REDIS_ADDR": func(c *Config, v string) error {
		if c.Redis == nil {
			c.Redis = &redis.Config{}
		}
		c.Redis.Addr = v
		return nil
	},
	"TENANCY_INFLUX_URL": func(c *Config, v string) error {
		if c.Influx == nil {
			c.Influx = &influx.Config{}
		}
		c.Influx.URL = v
		return nil
	},
	"TENANCY_GCS_BUCKET": func(c *Config, v string) error {
		if c.GCS == nil {
			c.GCS = &gcs.Config{}
		}
		c.GCS.Bucket = v
		return nil
	},
	"TENANCY_RETENTION_CONCURRENCY": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TENANCY_RETENTION_CONCURRENCY: %w", err)
		}
		c.Retention.Concurrency = n
		return nil
	},
}

func applyEnv(cfg *Config) error {
	// TENANCY_PG_HOST creates the postgres block, so it runs before the port.
	order := []string{
		"TENANCY_HTTP_ADDR", "TENANCY_DATA_DIR", "TENANCY_STORAGE",
		"TENANCY_LOG_LEVEL", "TENANCY_LOG_FILE", "TENANCY_OTLP_ENDPOINT",
		"TENANCY_PG_HOST", "TENANCY_PG_PORT", "TENANCY_REDIS_ADDR",
		"TENANCY_INFLUX_URL", "TENANCY_GCS_BUCKET", "TENANCY_RETENTION_CONCURRENCY",
	}
	for _, key := range order {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		if err := envOverrides[key](cfg, v); err != nil {
			return err
		}
	}
	return nil
}
