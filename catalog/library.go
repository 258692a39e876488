package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DefaultBlacklist lists audio formats that often sit next to video in a feed folder.
var DefaultBlacklist = []string{
	".mp3", ".m4a", ".wav", ".aif", ".aiff", ".ogg", ".flac",
	".mp2", ".cda", ".mod", ".xm", ".it",
}

type ScanResult struct {
	Catalog *Catalog
	Err     error
}

// Library owns the current catalog and rebuilds it on request. Readers always
// see a complete catalog; a scan in progress is invisible until it is swapped in.
type Library struct {
	Blacklist []string

	prober  Prober
	log     *zap.Logger
	current atomic.Pointer[Catalog]
	scanMu  sync.Mutex
	scans   atomic.Int32

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewLibrary(prober Prober, log *zap.Logger) *Library {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Library{
		Blacklist: DefaultBlacklist,
		prober:    prober,
		log:       log,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	l.current.Store(newCatalog("", SourceEmpty, nil))
	return l
}

// Seed makes selection reproducible.
func (l *Library) Seed(seed uint64) {
	l.rngMu.Lock()
	l.rng = rand.New(rand.NewPCG(seed, seed))
	l.rngMu.Unlock()
}

func (l *Library) Current() *Catalog {
	return l.current.Load()
}

func (l *Library) Size() int {
	return l.current.Load().Len()
}

func (l *Library) Scanning() bool {
	return l.scans.Load() > 0
}

func (l *Library) RandomEntry() (Entry, error) {
	c := l.current.Load()
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	return c.Random(l.rng)
}

// Scan rebuilds the catalog off the caller's goroutine. The channel receives
// exactly one result and is then closed.
func (l *Library) Scan(ctx context.Context, dir string, force bool) <-chan ScanResult {
	ch := make(chan ScanResult, 1)
	go func() {
		defer close(ch)
		c, err := l.Build(ctx, dir, force)
		ch <- ScanResult{Catalog: c, Err: err}
	}()
	return ch
}

// Build scans dir and swaps in the result. With force set the cache file is
// ignored and every candidate is probed again. An unreadable directory swaps in
// an empty catalog and returns the error.
func (l *Library) Build(ctx context.Context, dir string, force bool) (*Catalog, error) {
	l.scans.Add(1)
	defer l.scans.Add(-1)
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	started := time.Now()
	c, err := l.build(ctx, dir, force)
	if c == nil {
		c = newCatalog(dir, SourceEmpty, nil)
	}
	if ctx.Err() != nil {
		return l.current.Load(), ctx.Err()
	}
	l.current.Store(c)
	l.log.Info("scan complete",
		zap.String("dir", dir),
		zap.Int("entries", c.Len()),
		zap.String("source", string(c.source)),
		zap.Stringer("catalog", c.id),
		zap.Duration("elapsed", time.Since(started)))
	return c, err
}

func (l *Library) build(ctx context.Context, dir string, force bool) (*Catalog, error) {
	if dir == "" {
		return nil, errors.New("no media directory set")
	}
	candidates, err := l.candidates(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	if !force {
		entries, err := ReadCache(dir)
		switch {
		case err == nil && len(entries) > 0:
			return newCatalog(dir, SourceRestored, entries), nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			l.log.Warn("cache unreadable, probing", zap.String("dir", dir), zap.Error(err))
		}
	}

	entries := make([]Entry, 0, len(candidates))
	for _, path := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entries = append(entries, Entry{Path: path, DurationMs: l.probe(ctx, path)})
	}
	c := newCatalog(dir, SourceProbed, entries)

	if len(entries) >= minCachedEntries {
		if err := WriteCache(cachePath(dir), entries); err != nil {
			l.log.Warn("cache write failed", zap.String("dir", dir), zap.Error(err))
		}
	}
	return c, nil
}

func (l *Library) probe(ctx context.Context, path string) int64 {
	if l.prober == nil {
		return NotParsed
	}
	ms, err := l.prober.ProbeDuration(ctx, path)
	if err != nil {
		l.log.Debug("probe failed", zap.String("path", path), zap.Error(err))
		return NotMediaFile
	}
	if ms <= 0 {
		return LengthIndeterminable
	}
	return ms
}

// candidates lists playable-looking regular files directly inside dir.
func (l *Library) candidates(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	files := lo.Filter(dirents, func(d os.DirEntry, _ int) bool {
		return !d.IsDir() && !IsIgnored(d.Name()) && !l.blacklisted(d.Name())
	})
	return lo.Map(files, func(d os.DirEntry, _ int) string {
		return filepath.Join(abs, d.Name())
	}), nil
}

func (l *Library) blacklisted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return lo.ContainsBy(l.Blacklist, func(b string) bool {
		return strings.EqualFold(b, ext)
	})
}

// IsIgnored reports names that never enter a catalog: dot-files and the cache itself.
func IsIgnored(name string) bool {
	return strings.HasPrefix(name, ".") || name == CacheFile
}
