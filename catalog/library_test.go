package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu        sync.Mutex
	durations map[string]int64
	failures  map[string]error
	calls     atomic.Int32
}

func (p *fakeProber) ProbeDuration(ctx context.Context, path string) (int64, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	name := filepath.Base(path)
	if err, ok := p.failures[name]; ok {
		return 0, err
	}
	return p.durations[name], nil
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func TestBuildSkipsBlacklistedAudio(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4", "b.mp3")
	prober := &fakeProber{durations: map[string]int64{"a.mp4": 5000, "b.mp3": 9000}}
	lib := NewLibrary(prober, nil)

	c, err := lib.Build(context.Background(), dir, false)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	e := c.Entries()[0]
	assert.Equal(t, "a.mp4", filepath.Base(e.Path))
	assert.Equal(t, int64(5000), e.DurationMs)
	assert.Equal(t, SourceProbed, c.Source())
	assert.Equal(t, 1, lib.Size())

	_, err = os.Stat(filepath.Join(dir, CacheFile))
	assert.True(t, os.IsNotExist(err), "a single entry is not worth caching")
}

func TestBuildExcludesDirsDotFilesAndUppercaseAudio(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mov", ".hidden.mp4", "LOUD.WAV", "c.mkv")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755))
	lib := NewLibrary(&fakeProber{durations: map[string]int64{"a.mov": 1000, "c.mkv": 2000}}, nil)

	c, err := lib.Build(context.Background(), dir, false)
	require.NoError(t, err)
	var names []string
	for _, e := range c.Entries() {
		names = append(names, filepath.Base(e.Path))
	}
	assert.ElementsMatch(t, []string{"a.mov", "c.mkv"}, names)
}

func TestBuildKeepsFailedProbes(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "good.mp4", "broken.mp4", "still.png")
	prober := &fakeProber{
		durations: map[string]int64{"good.mp4": 4000, "still.png": 0},
		failures:  map[string]error{"broken.mp4": errors.New("invalid data")},
	}
	lib := NewLibrary(prober, nil)

	c, err := lib.Build(context.Background(), dir, false)
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	byName := map[string]int64{}
	for _, e := range c.Entries() {
		byName[filepath.Base(e.Path)] = e.DurationMs
	}
	assert.Equal(t, int64(4000), byName["good.mp4"])
	assert.Equal(t, NotMediaFile, byName["broken.mp4"])
	assert.Equal(t, LengthIndeterminable, byName["still.png"])
}

func TestBuildWritesAndRestoresCache(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4", "b.mp4")
	prober := &fakeProber{durations: map[string]int64{"a.mp4": 5000, "b.mp4": 7000}}
	lib := NewLibrary(prober, nil)

	first, err := lib.Build(context.Background(), dir, false)
	require.NoError(t, err)
	require.Equal(t, 2, first.Len())
	require.FileExists(t, filepath.Join(dir, CacheFile))
	require.EqualValues(t, 2, prober.calls.Load())

	second, err := lib.Build(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, SourceRestored, second.Source())
	assert.ElementsMatch(t, first.Entries(), second.Entries())
	assert.EqualValues(t, 2, prober.calls.Load(), "restore must not probe")
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestForcedBuildIgnoresCache(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4", "b.mp4")
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFile), []byte("stale.mp4=1\n"), 0o644))
	prober := &fakeProber{durations: map[string]int64{"a.mp4": 5000, "b.mp4": 7000}}
	lib := NewLibrary(prober, nil)

	c, err := lib.Build(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, SourceProbed, c.Source())
	assert.Equal(t, 2, c.Len())

	restored, err := ReadCache(dir)
	require.NoError(t, err)
	assert.Len(t, restored, 2)
}

func TestRestoreFromCacheWithBadValue(t *testing.T) {
	dir := t.TempDir()
	cache := "# written by hand\nx.mp4=12000\ny.mp4=notanumber\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFile), []byte(cache), 0o644))
	lib := NewLibrary(&fakeProber{}, nil)

	c, err := lib.Build(context.Background(), dir, false)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	x, ok := c.Lookup(filepath.Join(dir, "x.mp4"))
	require.True(t, ok)
	assert.Equal(t, int64(12000), x.DurationMs)
	y, ok := c.Lookup(filepath.Join(dir, "y.mp4"))
	require.True(t, ok)
	assert.Equal(t, LengthIndeterminable, y.DurationMs)
}

func TestRestoreResolvesRelativeAndAbsoluteKeys(t *testing.T) {
	dir := t.TempDir()
	elsewhere := filepath.Join(t.TempDir(), "z.mp4")
	cache := "clips/x.mp4=12000\n" + elsewhere + "=4000\nwith=sign.mp4=2500\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFile), []byte(cache), 0o644))

	entries, err := ReadCache(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, filepath.Join(dir, "clips", "x.mp4"), entries[0].Path)
	assert.Equal(t, elsewhere, entries[1].Path)
	assert.Equal(t, filepath.Join(dir, "with=sign.mp4"), entries[2].Path)
	assert.Equal(t, int64(2500), entries[2].DurationMs)
	for _, e := range entries {
		assert.True(t, filepath.IsAbs(e.Path), e.Path)
	}
}

func TestUnreadableDirectoryYieldsEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	lib := NewLibrary(&fakeProber{durations: map[string]int64{"a.mp4": 1000}}, nil)
	_, err := lib.Build(context.Background(), dir, false)
	require.NoError(t, err)
	require.Equal(t, 1, lib.Size())

	c, err := lib.Build(context.Background(), filepath.Join(dir, "missing"), false)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, lib.Size())
	assert.Equal(t, SourceEmpty, c.Source())
}

func TestScanIsAsynchronous(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4")
	release := make(chan struct{})
	prober := ProberFunc(func(ctx context.Context, path string) (int64, error) {
		<-release
		return 3000, nil
	})
	lib := NewLibrary(prober, nil)

	results := lib.Scan(context.Background(), dir, false)
	assert.Eventually(t, lib.Scanning, time.Second, time.Millisecond)
	assert.Equal(t, 0, lib.Size(), "half-built catalog must not be visible")
	_, err := lib.RandomEntry()
	assert.ErrorIs(t, err, ErrEmptyCatalog)

	close(release)
	res := <-results
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Catalog.Len())
	assert.Equal(t, 1, lib.Size())
	assert.False(t, lib.Scanning())
}

func TestRandomEntry(t *testing.T) {
	lib := NewLibrary(nil, nil)
	_, err := lib.RandomEntry()
	require.ErrorIs(t, err, ErrEmptyCatalog)

	lib.current.Store(newCatalog("/m", SourceProbed, []Entry{{Path: "/m/only.mp4", DurationMs: 10}}))
	for i := 0; i < 20; i++ {
		e, err := lib.RandomEntry()
		require.NoError(t, err)
		assert.Equal(t, "/m/only.mp4", e.Path)
	}
}

func TestRandomEntryIsRoughlyUniform(t *testing.T) {
	const n, draws = 5, 20000
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Path: filepath.Join("/m", string(rune('a'+i))+".mp4"), DurationMs: 1000}
	}
	lib := NewLibrary(nil, nil)
	lib.Seed(42)
	lib.current.Store(newCatalog("/m", SourceProbed, entries))

	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		e, err := lib.RandomEntry()
		require.NoError(t, err)
		counts[e.Path]++
	}
	require.Len(t, counts, n)
	for path, c := range counts {
		assert.InDelta(t, draws/n, c, draws/n*0.15, path)
	}
}
