package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Row fingerprints capture the content of each table row as of its last
// successful sync. Comparing the stored fingerprint against the current row
// is how the engine tells a local edit apart from a stale copy of a remote
// edit; timestamps alone cannot make that distinction.

// GetFingerprint returns the stored fingerprint for a row, or "" when none
// has been recorded.
func (s *Store) GetFingerprint(ctx context.Context, databaseID, rowKey string) (string, error) {
	var fp string

	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM row_fingerprints WHERE database_id = ? AND row_key = ?`,
		databaseID, rowKey,
	).Scan(&fp)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("state: looking up fingerprint for %s/%s: %w", databaseID, rowKey, err)
	}

	return fp, nil
}

// SetFingerprint stores or replaces the fingerprint for a row.
func (s *Store) SetFingerprint(ctx context.Context, databaseID, rowKey, fingerprint string, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO row_fingerprints (database_id, row_key, fingerprint, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (database_id, row_key) DO UPDATE
		SET fingerprint = excluded.fingerprint, synced_at = excluded.synced_at`,
		databaseID, rowKey, fingerprint, syncedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("state: storing fingerprint for %s/%s: %w", databaseID, rowKey, err)
	}

	return nil
}

// DeleteFingerprint drops the stored fingerprint for a row.
func (s *Store) DeleteFingerprint(ctx context.Context, databaseID, rowKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM row_fingerprints WHERE database_id = ? AND row_key = ?`,
		databaseID, rowKey,
	)
	if err != nil {
		return fmt.Errorf("state: deleting fingerprint for %s/%s: %w", databaseID, rowKey, err)
	}

	return nil
}
