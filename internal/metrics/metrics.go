// Package metrics is the process-wide metrics facade. Core packages record
// through the package-level helpers; cmd wires a concrete Backend at startup.
// With no backend set every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives counter increments and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	SectionsTotal        = "feedinput_sections_total"
	EntriesTotal         = "feedinput_entries_total"
	FieldSkipsTotal      = "feedinput_field_skips_total"
	FetchTotal           = "feedinput_fetch_total"
	FetchDurationSeconds = "feedinput_fetch_duration_seconds"
	CacheTotal           = "feedinput_cache_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit whatever it buffered.
func Flush() error {
	return current().Flush()
}

// RecordSections counts sections produced by one extraction.
func RecordSections(n int) {
	if n > 0 {
		IncCounter(SectionsTotal, float64(n), nil)
	}
}

// RecordEntry counts one section outcome; status is "kept" or "dropped".
func RecordEntry(status string) {
	IncCounter(EntriesTotal, 1, Labels{"status": status})
}

// RecordFieldSkip counts one field that resolved to nothing.
func RecordFieldSkip(reason string) {
	IncCounter(FieldSkipsTotal, 1, Labels{"reason": reason})
}

// RecordFetch counts one document fetch and its duration.
func RecordFetch(status string, elapsed time.Duration) {
	l := Labels{"status": status}
	IncCounter(FetchTotal, 1, l)
	ObserveHistogram(FetchDurationSeconds, elapsed.Seconds(), l)
}

// RecordCache counts one cache lookup; result is hit, miss, fallback or store.
func RecordCache(result string) {
	IncCounter(CacheTotal, 1, Labels{"result": result})
}
