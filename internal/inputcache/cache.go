package inputcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"feedinput/internal/logger"
	"feedinput/internal/metrics"
	"feedinput/internal/soupparse"
)

const (
	// DefaultPersist is how old a persisted record may be and still serve
	// as a fallback.
	DefaultPersist = 2 * time.Hour

	defaultMemorySize = 128
)

// Runner produces a result for a config; *soupparse.Extractor satisfies it.
type Runner interface {
	Run(ctx context.Context, cfg *soupparse.Config) (*soupparse.Result, error)
}

// Options configures a Cache.
type Options struct {
	// Plugin names the producer in cache keys. Defaults to "soup_parse".
	Plugin string
	// Persist is the maximum fallback age. Defaults to DefaultPersist.
	Persist time.Duration
	// MemorySize bounds the in-process layer.
	MemorySize int
	// Store persists records; nil keeps only the memory layer.
	Store Store
	Log   logger.Logger

	now func() time.Time
}

// Cache wraps a Runner with an in-process layer and a persisted fallback.
type Cache struct {
	runner  Runner
	plugin  string
	persist time.Duration
	store   Store
	mem     *expirable.LRU[Key, Record]
	log     logger.Logger
	now     func() time.Time
}

// New returns a Cache in front of r.
func New(r Runner, opts Options) *Cache {
	if opts.Plugin == "" {
		opts.Plugin = "soup_parse"
	}
	if opts.Persist <= 0 {
		opts.Persist = DefaultPersist
	}
	if opts.MemorySize <= 0 {
		opts.MemorySize = defaultMemorySize
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Cache{
		runner:  r,
		plugin:  opts.Plugin,
		persist: opts.Persist,
		store:   opts.Store,
		mem:     expirable.NewLRU[Key, Record](opts.MemorySize, nil, opts.Persist),
		log:     opts.Log.With(logger.String("plugin", opts.Plugin)),
		now:     opts.now,
	}
}

// KeyFor returns the cache key for cfg.
func (c *Cache) KeyFor(cfg *soupparse.Config) Key {
	return Key{Plugin: c.plugin, Fingerprint: cfg.Fingerprint()}
}

// Run returns cached entries for cfg when the memory layer has them,
// otherwise runs it. A successful run is stored. When the run fails with a
// *soupparse.FetchError and a persisted record younger than the persist
// window exists, that record is returned instead of the error.
//
// Results served from cache carry only Entries.
func (c *Cache) Run(ctx context.Context, cfg *soupparse.Config, noCache bool) (*soupparse.Result, error) {
	// Config errors must surface before any lookup.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key := c.KeyFor(cfg)

	if !noCache {
		if rec, ok := c.mem.Get(key); ok {
			metrics.RecordCache("hit")
			c.log.Debug("input cache hit", logger.Int("entries", len(rec.Entries)))
			return &soupparse.Result{Entries: cloneEntries(rec.Entries)}, nil
		}
	}
	metrics.RecordCache("miss")

	res, err := c.runner.Run(ctx, cfg)
	if err == nil {
		c.save(ctx, key, res.Entries)
		return res, nil
	}
	if !soupparse.IsFetchError(err) || c.store == nil {
		return nil, err
	}

	rec, ok, lerr := c.store.Latest(ctx, key)
	if lerr != nil {
		c.log.Warn("input cache lookup failed", logger.Error(lerr))
		return nil, err
	}
	age := c.now().Sub(rec.StoredAt)
	if !ok || age > c.persist {
		return nil, err
	}

	metrics.RecordCache("fallback")
	c.log.Warn("input failed, restoring cached entries",
		logger.Error(err),
		logger.Duration("age", age),
		logger.Int("entries", len(rec.Entries)),
	)
	return &soupparse.Result{Entries: rec.Entries}, nil
}

func (c *Cache) save(ctx context.Context, key Key, entries []soupparse.Entry) {
	rec := Record{Key: key, Entries: cloneEntries(entries), StoredAt: c.now().UTC()}
	c.mem.Add(key, rec)
	if c.store == nil {
		return
	}
	if err := c.store.Put(ctx, rec); err != nil {
		c.log.Warn("input cache store failed", logger.Error(err))
		return
	}
	metrics.RecordCache("store")
}

// Purge drops the memory layer.
func (c *Cache) Purge() { c.mem.Purge() }
