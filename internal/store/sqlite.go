// Package store is the oracle's transactional metadata store: identity,
// events, entries, predictions, and frozen weather readings. Reads run
// concurrently against the connection pool; all writes are serialized
// through a single writer goroutine so the WAL sees one writer, which keeps
// continuous log-shipping backup tools happy.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

type Store struct {
	db     *sql.DB
	writes chan writeOp
	done   chan struct{}
}

type writeOp struct {
	fn     func(*sql.Tx) error
	result chan error
}

// Open opens (creating if needed) the metadata database, applies pending
// migrations, and starts the writer goroutine.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-64000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{
		db:     db,
		writes: make(chan writeOp),
		done:   make(chan struct{}),
	}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	go s.runWriter()
	return s, nil
}

// runWriter drains the write queue. The sequence of committed transactions
// matches the sequence of enqueues.
func (s *Store) runWriter() {
	defer close(s.done)
	for op := range s.writes {
		op.result <- s.runWrite(op.fn)
	}
}

func (s *Store) runWrite(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Write submits a transaction closure to the writer queue and waits for its
// result. The context only bounds the wait for a queue slot; an accepted
// write always runs to completion so shutdown never leaves a partial write.
func (s *Store) Write(ctx context.Context, fn func(*sql.Tx) error) error {
	op := writeOp{fn: fn, result: make(chan error, 1)}
	select {
	case s.writes <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("store is closed")
	}
	return <-op.result
}

// HealthCheck verifies connectivity and page structure.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Close drains the writer queue, checkpoints the WAL so a log-shipping
// sidecar sees a complete database file, and closes the pool.
func (s *Store) Close() error {
	close(s.writes)
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		log.Println("store: writer drain timed out")
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("store: wal checkpoint: %v", err)
	}
	return s.db.Close()
}
