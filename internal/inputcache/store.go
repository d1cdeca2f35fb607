// Package inputcache keeps the entries of successful input runs so a later
// run whose source is unreachable can fall back to them.
package inputcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"feedinput/internal/soupparse"
)

// TableName is the table every SQL backend stores records in.
const TableName = "feedinput_input_cache"

// Key identifies one cached input: the plugin that produced it and the
// fingerprint of its config.
type Key struct {
	Plugin      string
	Fingerprint string
}

func (k Key) String() string { return k.Plugin + "/" + k.Fingerprint }

// Record is one persisted run.
type Record struct {
	Key      Key
	Entries  []soupparse.Entry
	StoredAt time.Time
}

// Store persists the latest record per key.
type Store interface {
	// Put replaces the record stored under r.Key.
	Put(ctx context.Context, r Record) error
	// Latest returns the record under k; ok is false when there is none.
	Latest(ctx context.Context, k Key) (r Record, ok bool, err error)
	Close() error
}

// Config selects a backend.
type Config struct {
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// ErrUnknownKind is returned by Open for an unregistered backend.
var ErrUnknownKind = errors.New("unknown cache backend")

// Register makes a backend available under kind. Backends call it from
// init; registering the same kind twice panics.
func Register(kind string, f Factory) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		panic("inputcache: Register with empty kind")
	}
	if f == nil {
		panic("inputcache: Register with nil factory for " + kind)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("inputcache: duplicate backend registration for " + kind)
	}
	registry[kind] = f
}

// Kinds lists the registered backends in sorted order.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open returns the Store registered under cfg.Kind. An empty kind opens the
// in-process memory store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "memory"
	}

	registryMu.RLock()
	f := registry[kind]
	registryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownKind, kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

func init() {
	Register("memory", func(context.Context, Config) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[Key]Record{}}
}

func (m *MemoryStore) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Entries = cloneEntries(r.Entries)
	m.records[r.Key] = r
	return nil
}

func (m *MemoryStore) Latest(_ context.Context, k Key) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[k]
	if !ok {
		return Record{}, false, nil
	}
	r.Entries = cloneEntries(r.Entries)
	return r, true, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneEntries(in []soupparse.Entry) []soupparse.Entry {
	if in == nil {
		return nil
	}
	out := make([]soupparse.Entry, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
