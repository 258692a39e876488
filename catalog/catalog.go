package catalog

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Duration sentinels stored in Entry.DurationMs when no real length is known.
const (
	NotParsed            int64 = -1
	LengthIndeterminable int64 = -2
	NotMediaFile         int64 = -3
)

var ErrEmptyCatalog = errors.New("catalog is empty")

// Source records how a catalog was built.
type Source string

const (
	SourceEmpty    Source = "empty"
	SourceRestored Source = "restored"
	SourceProbed   Source = "probed"
)

// Prober reports the length of a media file in milliseconds.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (int64, error)
}

type ProberFunc func(ctx context.Context, path string) (int64, error)

func (f ProberFunc) ProbeDuration(ctx context.Context, path string) (int64, error) {
	return f(ctx, path)
}

type Entry struct {
	ID         int    `json:"id"`
	Path       string `json:"path"`
	DurationMs int64  `json:"durationMs"`
}

// HasDuration is false for the sentinel values.
func (e Entry) HasDuration() bool {
	return e.DurationMs > 0
}

// Catalog is immutable once built. A Library replaces it wholesale.
type Catalog struct {
	id      uuid.UUID
	dir     string
	source  Source
	builtAt time.Time
	entries []Entry
}

func newCatalog(dir string, source Source, entries []Entry) *Catalog {
	for i := range entries {
		entries[i].ID = i
	}
	if len(entries) == 0 {
		source = SourceEmpty
	}
	return &Catalog{
		id:      uuid.New(),
		dir:     dir,
		source:  source,
		builtAt: time.Now(),
		entries: entries,
	}
}

func (c *Catalog) ID() uuid.UUID { return c.id }
func (c *Catalog) Dir() string { return c.dir }
func (c *Catalog) Source() Source { return c.source }
func (c *Catalog) BuiltAt() time.Time { return c.builtAt }
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns a copy of the entries in insertion order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Lookup(path string) (Entry, bool) {
	for _, e := range c.entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// Random picks an entry uniformly with replacement.
func (c *Catalog) Random(r *rand.Rand) (Entry, error) {
	if c == nil || len(c.entries) == 0 {
		return Entry{}, ErrEmptyCatalog
	}
	if r == nil {
		return c.entries[rand.IntN(len(c.entries))], nil
	}
	return c.entries[r.IntN(len(c.entries))], nil
}
