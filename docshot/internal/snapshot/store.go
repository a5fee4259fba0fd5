// Package snapshot persists full-page captures as dated PNG files and
// resolves the newest and previous capture of an identifier.
//
// File layout:
//
//	{dir}/{identifier}_{stamp}.png          snapshot
//	{diffDir}/{identifier}_diff_{stamp}.png diff artifact
//
// The stamp is an ISO date (or date-time), so lexicographic and
// chronological order agree. Listing still parses the stamp and only falls
// back to the file name for ties.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ErrIOFailure wraps filesystem read/write errors.
var ErrIOFailure = errors.New("snapshot: io failure")

// Ext is the file extension of snapshots and diff artifacts.
const Ext = ".png"

// Granularity controls how many snapshots a target can keep per day.
type Granularity string

const (
	// GranularityDay keeps one snapshot per UTC day; same-day reruns replace it.
	GranularityDay Granularity = "day"
	// GranularitySecond keeps every run, stamped to the second.
	GranularitySecond Granularity = "second"
)

// Layout returns the time layout used for file stamps.
func (g Granularity) Layout() string {
	if g == GranularitySecond {
		return "2006-01-02T15-04-05Z"
	}
	return "2006-01-02"
}

// MinKeep is the smallest retention that still allows a comparison.
const MinKeep = 2

// Config configures a Store.
type Config struct {
	Dir         string
	DiffDir     string
	Granularity Granularity
	// Keep is the number of snapshots retained per identifier. 0 = unlimited.
	// Positive values below MinKeep are raised to MinKeep.
	Keep int
	// Now overrides the clock (tests).
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Dir == "" {
		c.Dir = "screenshots"
	}
	if c.DiffDir == "" {
		c.DiffDir = "diffs"
	}
	if c.Granularity == "" {
		c.Granularity = GranularityDay
	}
	if c.Keep > 0 && c.Keep < MinKeep {
		c.Keep = MinKeep
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Store is a directory of snapshots. It holds no in-memory index: every
// listing reflects the directory at call time.
type Store struct {
	cfg Config
}

// Entry is a snapshot file resolved by List.
type Entry struct {
	Path  string    `json:"path"`
	Name  string    `json:"name"`
	Stamp string    `json:"stamp"`
	Time  time.Time `json:"time"`
}

// New creates the snapshot and diff directories if absent.
func New(cfg Config) (*Store, error) {
	cfg.defaults()
	for _, dir := range []string{cfg.Dir, cfg.DiffDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", ErrIOFailure, dir, err)
		}
	}
	return &Store{cfg: cfg}, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.cfg.Dir }

// DiffDir returns the diff artifact directory.
func (s *Store) DiffDir() string { return s.cfg.DiffDir }

// Keep returns the effective retention (0 = unlimited).
func (s *Store) Keep() int { return s.cfg.Keep }

// Write stores data as the current snapshot of id and returns its path.
// A snapshot with the same stamp is replaced.
func (s *Store) Write(id string, data []byte) (string, error) {
	stamp := s.cfg.Now().UTC().Format(s.cfg.Granularity.Layout())
	path := filepath.Join(s.cfg.Dir, id+"_"+stamp+Ext)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// List returns the snapshots of id, newest first.
func (s *Store) List(id string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir %s: %v", ErrIOFailure, s.cfg.Dir, err)
	}

	entries := lo.FilterMap(dirEntries, func(de os.DirEntry, _ int) (Entry, bool) {
		if de.IsDir() {
			return Entry{}, false
		}
		stamp, t, ok := s.parseName(id, de.Name())
		if !ok {
			return Entry{}, false
		}
		return Entry{
			Path:  filepath.Join(s.cfg.Dir, de.Name()),
			Name:  de.Name(),
			Stamp: stamp,
			Time:  t,
		}, true
	})

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Time.Equal(entries[j].Time) {
			return entries[i].Time.After(entries[j].Time)
		}
		return entries[i].Name > entries[j].Name
	})
	return entries, nil
}

// Paths is List reduced to file paths.
func (s *Store) Paths(id string) ([]string, error) {
	entries, err := s.List(id)
	if err != nil {
		return nil, err
	}
	return lo.Map(entries, func(e Entry, _ int) string { return e.Path }), nil
}

// Pair returns the newest and previous snapshot of id. ok is false when
// fewer than two snapshots exist, which is not an error.
func (s *Store) Pair(id string) (newest, previous string, ok bool, err error) {
	entries, err := s.List(id)
	if err != nil {
		return "", "", false, err
	}
	if len(entries) < 2 {
		return "", "", false, nil
	}
	return entries[0].Path, entries[1].Path, true, nil
}

// DiffPath derives the diff artifact path from the stamp of newest.
func (s *Store) DiffPath(id, newest string) (string, error) {
	stamp, _, ok := s.parseName(id, filepath.Base(newest))
	if !ok {
		return "", fmt.Errorf("snapshot: %q is not a snapshot of %q", newest, id)
	}
	return filepath.Join(s.cfg.DiffDir, id+"_diff_"+stamp+Ext), nil
}

// WriteDiff writes a diff artifact. path must come from DiffPath.
func (s *Store) WriteDiff(path string, data []byte) error {
	return writeAtomic(path, data)
}

// Prune removes snapshots of id beyond the retention limit, plus diff
// artifacts older than the oldest snapshot kept, and returns the removed
// paths. It is a no-op when retention is unlimited.
func (s *Store) Prune(id string) ([]string, error) {
	if s.cfg.Keep <= 0 {
		return nil, nil
	}
	entries, err := s.List(id)
	if err != nil {
		return nil, err
	}
	if len(entries) < s.cfg.Keep {
		return nil, nil
	}
	cutoff := entries[s.cfg.Keep-1].Time

	diffs, err := s.listDiffs(id)
	if err != nil {
		return nil, err
	}
	stale := lo.Filter(diffs, func(e Entry, _ int) bool { return e.Time.Before(cutoff) })
	stale = append(stale, entries[s.cfg.Keep:]...)

	var removed []string
	for _, e := range stale {
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("%w: remove %s: %v", ErrIOFailure, e.Path, err)
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

// listDiffs returns the diff artifacts of id in directory order.
func (s *Store) listDiffs(id string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.cfg.DiffDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir %s: %v", ErrIOFailure, s.cfg.DiffDir, err)
	}
	return lo.FilterMap(dirEntries, func(de os.DirEntry, _ int) (Entry, bool) {
		if de.IsDir() {
			return Entry{}, false
		}
		stamp, t, ok := s.parseName(id+"_diff", de.Name())
		if !ok {
			return Entry{}, false
		}
		return Entry{Path: filepath.Join(s.cfg.DiffDir, de.Name()), Name: de.Name(), Stamp: stamp, Time: t}, true
	}), nil
}

// Read returns the bytes of a snapshot or diff artifact.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIOFailure, path, err)
	}
	return data, nil
}

// parseName accepts exactly "{id}_{stamp}.png" with a stamp in the store's
// layout, so that "a" never matches files of "a-b" or "a_diff".
func (s *Store) parseName(id, name string) (string, time.Time, bool) {
	if !strings.HasSuffix(name, Ext) {
		return "", time.Time{}, false
	}
	base := strings.TrimSuffix(name, Ext)
	idx := strings.LastIndexByte(base, '_')
	if idx < 0 || base[:idx] != id {
		return "", time.Time{}, false
	}
	stamp := base[idx+1:]
	t, err := parseStamp(stamp)
	if err != nil {
		return "", time.Time{}, false
	}
	return stamp, t, true
}

// parseStamp accepts both layouts so a granularity change keeps older
// snapshots comparable.
func parseStamp(stamp string) (time.Time, error) {
	t, err := time.Parse(GranularitySecond.Layout(), stamp)
	if err == nil {
		return t, nil
	}
	return time.Parse(GranularityDay.Layout(), stamp)
}

// writeAtomic writes through a temp file in the same directory and renames
// it into place, so listers never observe a partial image.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*"+Ext)
	if err != nil {
		return fmt.Errorf("%w: create temp in %s: %v", ErrIOFailure, dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", ErrIOFailure, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", ErrIOFailure, path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: chmod %s: %v", ErrIOFailure, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %v", ErrIOFailure, path, err)
	}
	return nil
}
