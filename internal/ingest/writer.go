package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/skycommit/skycommit/internal/metrics"
	"github.com/skycommit/skycommit/internal/models"
	"github.com/skycommit/skycommit/internal/snapshot"
)

// WriteSnapshot serializes rows into a columnar file in dataDir, named by
// kind and generation second. The write goes through a temp file and a
// rename, so a restart mid-write never leaves a partial snapshot, and a
// file that already exists is kept untouched (the daemon is restart-safe).
func WriteSnapshot[T any](dataDir string, kind models.SnapshotKind, generatedAt time.Time, rows []T) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	name := snapshot.FileName(kind, generatedAt)
	path := filepath.Join(dataDir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp, err := os.CreateTemp(dataDir, "."+name+".tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := parquet.NewGenericWriter[T](tmp)
	if _, err := w.Write(rows); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("close parquet writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename snapshot into place: %w", err)
	}

	metrics.SnapshotsWritten.WithLabelValues(string(kind)).Inc()
	return path, nil
}

// PruneLocal removes local snapshot copies older than the retention
// horizon. Uploaded files live on in the oracle's store.
func PruneLocal(dataDir string, retentionDays int, now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_, generatedAt, err := snapshot.ParseName(entry.Name())
		if err != nil {
			continue
		}
		if generatedAt.Before(cutoff) {
			if err := os.Remove(filepath.Join(dataDir, entry.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
