package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skycommit/skycommit/internal/models"
)

// OracleName is the display name recorded alongside the oracle pubkey.
const OracleName = "skycommit"

// GetOracleIdentity returns the singleton identity row, or ErrNoRows.
func (s *Store) GetOracleIdentity(ctx context.Context) (*models.OracleIdentity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT pubkey, name, created_at FROM oracle_metadata LIMIT 1`)
	var identity models.OracleIdentity
	if err := row.Scan(&identity.Pubkey, &identity.Name, &identity.CreatedAt); err != nil {
		return nil, err
	}
	return &identity, nil
}

// EnsureOracleIdentity creates the identity row on first open and verifies
// the stored pubkey matches the PEM key on every subsequent open. A
// mismatch means the database belongs to a different oracle and is fatal.
func (s *Store) EnsureOracleIdentity(ctx context.Context, pubkey []byte) error {
	identity, err := s.GetOracleIdentity(ctx)
	if err == sql.ErrNoRows {
		return s.Write(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				INSERT INTO oracle_metadata (pubkey, name, created_at)
				VALUES (?, ?, ?) ON CONFLICT(pubkey) DO NOTHING
			`, pubkey, OracleName, time.Now().UTC())
			return err
		})
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(identity.Pubkey, pubkey) {
		return fmt.Errorf("stored oracle pubkey does not match private key material")
	}
	return nil
}
