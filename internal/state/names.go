package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Record file names must stay stable across runs even when two rows share a
// title. The assignment (databaseID, rowKey) -> file base name lives here so
// the content tree never needs hidden bookkeeping columns.

// GetRecordName returns the stored file base name for a row, or "" when no
// assignment exists yet.
func (s *Store) GetRecordName(ctx context.Context, databaseID, rowKey string) (string, error) {
	var base string

	err := s.db.QueryRowContext(ctx,
		`SELECT file_base FROM record_names WHERE database_id = ? AND row_key = ?`,
		databaseID, rowKey,
	).Scan(&base)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("state: looking up record name for %s/%s: %w", databaseID, rowKey, err)
	}

	return base, nil
}

// SetRecordName stores or replaces the file base name for a row.
func (s *Store) SetRecordName(ctx context.Context, databaseID, rowKey, fileBase string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO record_names (database_id, row_key, file_base)
		VALUES (?, ?, ?)
		ON CONFLICT (database_id, row_key) DO UPDATE SET file_base = excluded.file_base`,
		databaseID, rowKey, fileBase,
	)
	if err != nil {
		return fmt.Errorf("state: storing record name for %s/%s: %w", databaseID, rowKey, err)
	}

	return nil
}

// DeleteRecordName drops the assignment for a row, freeing its name for
// reuse by future rows.
func (s *Store) DeleteRecordName(ctx context.Context, databaseID, rowKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM record_names WHERE database_id = ? AND row_key = ?`,
		databaseID, rowKey,
	)
	if err != nil {
		return fmt.Errorf("state: deleting record name for %s/%s: %w", databaseID, rowKey, err)
	}

	return nil
}

// NamesInUse returns every file base name currently assigned within a
// database, as a set.
func (s *Store) NamesInUse(ctx context.Context, databaseID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_base FROM record_names WHERE database_id = ?`,
		databaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("state: listing record names for %s: %w", databaseID, err)
	}
	defer rows.Close()

	used := make(map[string]bool)

	for rows.Next() {
		var base string
		if err := rows.Scan(&base); err != nil {
			return nil, fmt.Errorf("state: scanning record name: %w", err)
		}

		used[base] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: listing record names for %s: %w", databaseID, err)
	}

	return used, nil
}
