package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"feedinput/internal/configfile"
	"feedinput/internal/inputcache"
	"feedinput/internal/logger"
	"feedinput/internal/soupparse"
	"feedinput/internal/torznab"
)

// hostConfig is the top-level config file.
type hostConfig struct {
	SoupParse *soupparse.Config `json:"soup_parse,omitempty" yaml:"soup_parse,omitempty"`
	Torznab   *torznab.Config   `json:"torznab,omitempty" yaml:"torznab,omitempty"`
	Cache     cacheConfig       `json:"cache" yaml:"cache"`
	Log       logger.Config     `json:"log" yaml:"log"`
	Metrics   metricsConfig     `json:"metrics" yaml:"metrics"`
}

type cacheConfig struct {
	// Kind is memory, sqlite, postgres or mssql. Empty keeps only the
	// in-process layer.
	Kind string `json:"kind" yaml:"kind"`
	// DSN is expanded against the environment.
	DSN     string `json:"dsn" yaml:"dsn"`
	Persist string `json:"persist" yaml:"persist"`
}

func (c cacheConfig) persist() (time.Duration, error) {
	if strings.TrimSpace(c.Persist) == "" {
		return inputcache.DefaultPersist, nil
	}
	d, err := time.ParseDuration(c.Persist)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("cache.persist %q: must be a positive duration", c.Persist)
	}
	return d, nil
}

type metricsConfig struct {
	// Backend is none or datadog; METRICS_BACKEND overrides it.
	Backend string `json:"backend" yaml:"backend"`
	Job     string `json:"job" yaml:"job"`
	// Tags is a comma separated list; METRICS_TAGS is appended.
	Tags string `json:"tags" yaml:"tags"`
}

// loadHost reads .env files next to path, then path and its .local
// override. Environment variables override file settings.
func loadHost(path string, log logger.Logger) (hostConfig, error) {
	if err := configfile.LoadEnv(filepath.Dir(path)); err != nil {
		return hostConfig{}, usageError{err: err}
	}
	cfg, err := configfile.Load[hostConfig](path, log)
	if err != nil {
		return hostConfig{}, usageError{err: err}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("METRICS_BACKEND"); v != "" {
		cfg.Metrics.Backend = v
	}
	if v := os.Getenv("METRICS_TAGS"); v != "" {
		if cfg.Metrics.Tags != "" {
			cfg.Metrics.Tags += ","
		}
		cfg.Metrics.Tags += v
	}
	cfg.Cache.DSN = os.ExpandEnv(cfg.Cache.DSN)
	return cfg, nil
}
