package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"feedinput/internal/fetch"
	"feedinput/internal/inputcache"
	"feedinput/internal/logger"
	"feedinput/internal/metrics"
	"feedinput/internal/metrics/datadog"
	"feedinput/internal/soupparse"
)

// session is everything a command needs after config is loaded.
type session struct {
	cfg   hostConfig
	log   logger.Logger
	close []func()
}

// Close runs cleanups in reverse order.
func (s *session) Close() {
	for i := len(s.close) - 1; i >= 0; i-- {
		s.close[i]()
	}
}

// openSession loads config and wires logging and metrics.
func openSession(ctx context.Context, e *env) (*session, error) {
	// Config loading logs through a bootstrap logger at the env level.
	boot, err := logger.NewWriter(logger.Config{Level: envOr("LOG_LEVEL", "warn")}, e.stderr)
	if err != nil {
		return nil, usageError{err: err}
	}
	cfg, err := loadHost(e.configPath, boot)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewWriter(cfg.Log, e.stderr)
	if err != nil {
		return nil, usageError{err: err}
	}
	s := &session{cfg: cfg, log: log}
	s.close = append(s.close, func() { _ = log.Sync() })
	s.setupMetrics(ctx)
	return s, nil
}

func (s *session) setupMetrics(ctx context.Context) {
	backend := strings.ToLower(strings.TrimSpace(s.cfg.Metrics.Backend))
	switch backend {
	case "datadog":
		job := s.cfg.Metrics.Job
		if job == "" {
			job = "feedinput"
		}
		tags := datadog.ParseTagsCSV(s.cfg.Metrics.Tags)

		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			s.log.Warn("metrics: datadog backend unavailable, using nop", logger.Error(err))
			return
		}
		s.log.Debug("metrics enabled", logger.String("backend", backend), logger.String("job", job), logger.Strings("tags", tags))
		metrics.SetBackend(b)
		s.close = append(s.close, func() {
			if err := b.Close(); err != nil {
				s.log.Warn("metrics: datadog close failed", logger.Error(err))
			}
			metrics.SetBackend(nil)
		})

	case "", "none":

	default:
		s.log.Warn("metrics: unknown backend, metrics disabled", logger.String("backend", backend))
	}
}

func (s *session) loader(e *env) *fetch.Loader {
	return fetch.NewLoader(e.httpClient, fetch.DefaultTimeout, s.log)
}

// extractor builds the soup_parse extractor over the shared HTTP client.
func (s *session) extractor(e *env) *soupparse.Extractor {
	return soupparse.New(s.loader(e), s.log)
}

// cache wraps x with the configured input cache.
func (s *session) cache(ctx context.Context, x *soupparse.Extractor) (*inputcache.Cache, error) {
	persist, err := s.cfg.Cache.persist()
	if err != nil {
		return nil, usageError{err: err}
	}

	opts := inputcache.Options{Persist: persist, Log: s.log}
	if s.cfg.Cache.Kind != "" {
		store, err := inputcache.Open(ctx, inputcache.Config{Kind: s.cfg.Cache.Kind, DSN: s.cfg.Cache.DSN})
		if errors.Is(err, inputcache.ErrUnknownKind) {
			return nil, usageError{err: err}
		}
		if err != nil {
			return nil, err
		}
		s.close = append(s.close, func() { _ = store.Close() })
		opts.Store = store
	}
	return inputcache.New(x, opts), nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
