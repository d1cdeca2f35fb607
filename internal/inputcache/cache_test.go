package inputcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedinput/internal/soupparse"
)

type fakeRunner struct {
	res   *soupparse.Result
	err   error
	calls atomic.Int32
}

func (f *fakeRunner) Run(context.Context, *soupparse.Config) (*soupparse.Result, error) {
	f.calls.Add(1)
	return f.res, f.err
}

func testConfig(source string) *soupparse.Config {
	return &soupparse.Config{
		Source: source,
		Keys: map[string]soupparse.FieldRule{
			"title": {},
			"url":   {},
		},
	}
}

func entries(titles ...string) []soupparse.Entry {
	out := make([]soupparse.Entry, 0, len(titles))
	for _, t := range titles {
		out = append(out, soupparse.Entry{"title": t, "url": "http://h/" + t})
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCache_MemoryHitSkipsRunner(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{res: &soupparse.Result{Entries: entries("a", "b")}}
	c := New(r, Options{})
	cfg := testConfig("http://h/list")

	first, err := c.Run(context.Background(), cfg, false)
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)

	second, err := c.Run(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, first.Entries, second.Entries)
	assert.EqualValues(t, 1, r.calls.Load())

	// Cached copies are independent of what callers do with them.
	second.Entries[0]["title"] = "changed"
	third, err := c.Run(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, "a", third.Entries[0]["title"])
}

func TestCache_NoCacheAlwaysRuns(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{res: &soupparse.Result{Entries: entries("a")}}
	c := New(r, Options{})
	cfg := testConfig("http://h/list")

	for i := 0; i < 3; i++ {
		_, err := c.Run(context.Background(), cfg, true)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, r.calls.Load())
}

func TestCache_DistinctConfigsDoNotShare(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{res: &soupparse.Result{Entries: entries("a")}}
	c := New(r, Options{})

	_, err := c.Run(context.Background(), testConfig("http://h/one"), false)
	require.NoError(t, err)
	_, err = c.Run(context.Background(), testConfig("http://h/two"), false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.calls.Load())
}

func TestCache_ConfigErrorBeforeLookup(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	c := New(r, Options{Store: NewMemoryStore()})

	_, err := c.Run(context.Background(), &soupparse.Config{}, false)
	require.Error(t, err)
	assert.True(t, soupparse.IsConfigError(err))
	assert.Zero(t, r.calls.Load())
}

func TestCache_FallbackWithinPersistWindow(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	r := &fakeRunner{res: &soupparse.Result{Entries: entries("a", "b")}}
	c := New(r, Options{Store: store, Persist: time.Hour, now: clk.now})
	cfg := testConfig("http://h/list")

	_, err := c.Run(context.Background(), cfg, false)
	require.NoError(t, err)

	r.res = nil
	r.err = &soupparse.FetchError{Source: cfg.Source, Err: errors.New("connection refused")}
	clk.t = clk.t.Add(30 * time.Minute)

	res, err := c.Run(context.Background(), cfg, true)
	require.NoError(t, err)
	assert.Equal(t, entries("a", "b"), res.Entries)
}

func TestCache_FallbackExpired(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := &fakeRunner{res: &soupparse.Result{Entries: entries("a")}}
	c := New(r, Options{Store: NewMemoryStore(), Persist: time.Hour, now: clk.now})
	cfg := testConfig("http://h/list")

	_, err := c.Run(context.Background(), cfg, false)
	require.NoError(t, err)

	fetchErr := &soupparse.FetchError{Source: cfg.Source, Err: errors.New("timeout")}
	r.res, r.err = nil, fetchErr
	clk.t = clk.t.Add(2 * time.Hour)

	_, err = c.Run(context.Background(), cfg, true)
	require.ErrorIs(t, err, fetchErr)
}

func TestCache_NonFetchErrorsPropagate(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	cfg := testConfig("http://h/list")
	c := New(&fakeRunner{res: &soupparse.Result{Entries: entries("a")}}, Options{Store: store})
	_, err := c.Run(context.Background(), cfg, false)
	require.NoError(t, err)

	boom := errors.New("boom")
	c2 := New(&fakeRunner{err: boom}, Options{Store: store})
	_, err = c2.Run(context.Background(), cfg, true)
	require.ErrorIs(t, err, boom)
}

func TestCache_NoStoreNoFallback(t *testing.T) {
	t.Parallel()

	fetchErr := &soupparse.FetchError{Source: "http://h", Err: errors.New("down")}
	c := New(&fakeRunner{err: fetchErr}, Options{})
	_, err := c.Run(context.Background(), testConfig("http://h/list"), false)
	require.ErrorIs(t, err, fetchErr)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(context.Background(), Config{Kind: "etcd"})
	require.ErrorIs(t, err, ErrUnknownKind)

	assert.Panics(t, func() { Register("memory", func(context.Context, Config) (Store, error) { return nil, nil }) })
	assert.Panics(t, func() { Register(" ", func(context.Context, Config) (Store, error) { return nil, nil }) })
	assert.Panics(t, func() { Register("nilfactory", nil) })
}

func TestCodec(t *testing.T) {
	t.Parallel()

	s, err := EncodeEntries(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	in := entries("x", "y")
	s, err = EncodeEntries(in)
	require.NoError(t, err)
	out, err := DecodeEntries(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.FixedZone("X", 3600))
	parsed, err := ParseTime(FormatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))

	_, err = ParseTime("yesterday")
	require.Error(t, err)
	_, err = DecodeEntries("{")
	require.Error(t, err)
}

func TestKeyFor_StableAcrossEquivalentConfigs(t *testing.T) {
	t.Parallel()

	c := New(&fakeRunner{}, Options{Plugin: "soup_parse"})
	a := c.KeyFor(testConfig("http://h/list"))
	b := c.KeyFor(testConfig("http://h/list"))
	assert.Equal(t, a, b)
	assert.Equal(t, "soup_parse", a.Plugin)
	assert.NotEqual(t, a, c.KeyFor(testConfig("http://h/other")))
}
