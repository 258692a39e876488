package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CacheFile is the reserved name of the duration cache inside a media directory.
const CacheFile = "_durations.vch"

// minCachedEntries is the smallest scan result worth writing back to disk.
const minCachedEntries = 2

func cachePath(dir string) string {
	return filepath.Join(dir, CacheFile)
}

// ReadCache parses the path=durationMs lines of dir's cache file. Relative
// paths are taken as relative to dir. Unparsable durations become
// LengthIndeterminable rather than failing the whole restore.
func ReadCache(dir string) ([]Entry, error) {
	path := cachePath(dir)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	index := map[string]int{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		sep := strings.LastIndex(line, "=")
		if sep <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		if !filepath.IsAbs(key) {
			key = filepath.Join(dir, key)
		}
		dur, err := strconv.ParseInt(strings.TrimSpace(line[sep+1:]), 10, 64)
		if err != nil {
			dur = LengthIndeterminable
		}
		if i, ok := index[key]; ok {
			entries[i].DurationMs = dur
			continue
		}
		index[key] = len(entries)
		entries = append(entries, Entry{Path: key, DurationMs: dur})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}
	return entries, nil
}

// WriteCache stores entries next to the media, replacing any previous cache atomically.
func WriteCache(path string, entries []Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "#%s\n", time.Now().Format(time.UnixDate))
	for _, e := range entries {
		fmt.Fprintf(w, "%s=%d\n", e.Path, e.DurationMs)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
