// Package snapshot manages the append-only directory of immutable columnar
// weather files. Files never mutate in place: inserts go through a temp
// file, fsync, and rename, so concurrent readers always see a complete
// file or none at all.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skycommit/skycommit/internal/models"
)

// DefaultRetentionDays is how long snapshot files are kept before the
// sweeper may remove them.
const DefaultRetentionDays = 30

var fileNameRe = regexp.MustCompile(`^(observations|forecasts)_[0-9TZ:-]+\.parquet$`)

// ErrDuplicate is returned when inserting a file whose name already exists.
var ErrDuplicate = fmt.Errorf("snapshot file already exists")

type Store struct {
	dir       string
	retention time.Duration

	mu     sync.Mutex
	pinned map[string]int
}

func New(dir string, retentionDays int) (*Store, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{
		dir:       dir,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		pinned:    make(map[string]int),
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// FileName builds the canonical snapshot filename for a kind and generation
// instant (UTC, second precision).
func FileName(kind models.SnapshotKind, generatedAt time.Time) string {
	return fmt.Sprintf("%s_%s.parquet", kind, generatedAt.UTC().Truncate(time.Second).Format(time.RFC3339))
}

// ParseName extracts the kind and generation time from a snapshot filename.
func ParseName(name string) (models.SnapshotKind, time.Time, error) {
	if !fileNameRe.MatchString(name) {
		return "", time.Time{}, fmt.Errorf("invalid snapshot filename %q", name)
	}
	base := strings.TrimSuffix(name, ".parquet")
	kindStr, stamp, _ := strings.Cut(base, "_")
	kind := models.SnapshotKind(kindStr)
	generatedAt, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp in %q: %w", name, err)
	}
	return kind, generatedAt.UTC(), nil
}

// List returns the names of snapshot files of one kind whose generation time
// falls within [start, end], sorted ascending by generation time. Files with
// unparseable names are ignored.
func (s *Store) List(kind models.SnapshotKind, start, end time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	type candidate struct {
		name        string
		generatedAt time.Time
	}
	var matches []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileKind, generatedAt, err := ParseName(entry.Name())
		if err != nil || fileKind != kind {
			continue
		}
		if !start.IsZero() && generatedAt.Before(start) {
			continue
		}
		if !end.IsZero() && generatedAt.After(end) {
			continue
		}
		matches = append(matches, candidate{name: entry.Name(), generatedAt: generatedAt})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].generatedAt.Before(matches[j].generatedAt)
	})
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.name
	}
	return names, nil
}

// Latest returns the newest file of a kind, or "" when none exists.
func (s *Store) Latest(kind models.SnapshotKind) (string, error) {
	names, err := s.List(kind, time.Time{}, time.Time{})
	if err != nil || len(names) == 0 {
		return "", err
	}
	return names[len(names)-1], nil
}

// Insert writes a new snapshot file atomically. Duplicate names are
// rejected with ErrDuplicate.
func (s *Store) Insert(name string, r io.Reader) error {
	if _, _, err := ParseName(name); err != nil {
		return err
	}
	final := filepath.Join(s.dir, name)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Open returns a reader over a stored snapshot file.
func (s *Store) Open(name string) (*os.File, error) {
	if _, _, err := ParseName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s: %w", name, os.ErrNotExist)
		}
		return nil, err
	}
	return f, nil
}

// Pin marks files as in use by an in-progress signing so the sweeper will
// not remove them. The returned release function must be called when done.
func (s *Store) Pin(names []string) func() {
	s.mu.Lock()
	for _, name := range names {
		s.pinned[name]++
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			for _, name := range names {
				if s.pinned[name] <= 1 {
					delete(s.pinned, name)
				} else {
					s.pinned[name]--
				}
			}
			s.mu.Unlock()
		})
	}
}

func (s *Store) isPinned(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned[name] > 0
}

// Sweep removes files older than the retention horizon, skipping pinned
// ones. Returns the number of files removed.
func (s *Store) Sweep(now time.Time) (int, error) {
	cutoff := now.Add(-s.retention)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read snapshot dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_, generatedAt, err := ParseName(entry.Name())
		if err != nil {
			continue
		}
		if !generatedAt.Before(cutoff) || s.isPinned(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
