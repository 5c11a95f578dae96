package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Conflict is one recorded divergence between the hosted and local copies
// of a row component, together with how the active policy resolved it.
type Conflict struct {
	ID         string
	DatabaseID string
	RowKey     string
	Component  string // "cell:<column>" or "content"
	Policy     string
	Winner     string // "remote" or "local"
	Detail     string
	DetectedAt time.Time
	ResolvedAt *time.Time
}

// RecordConflict stores a newly detected conflict and returns its id.
func (s *Store) RecordConflict(ctx context.Context, c Conflict) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	var resolved any
	if c.ResolvedAt != nil {
		resolved = c.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, database_id, row_key, component, policy, winner, detail, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DatabaseID, c.RowKey, c.Component, c.Policy, c.Winner, c.Detail,
		c.DetectedAt.UTC().Format(time.RFC3339Nano), resolved,
	)
	if err != nil {
		return "", fmt.Errorf("state: recording conflict: %w", err)
	}

	s.logger.Debug("conflict recorded",
		slog.String("database", c.DatabaseID),
		slog.String("rowKey", c.RowKey),
		slog.String("component", c.Component),
		slog.String("winner", c.Winner),
	)

	return c.ID, nil
}

// ResolveConflict marks a conflict as resolved at the given time.
func (s *Store) ResolveConflict(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET resolved_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("state: resolving conflict %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("state: resolving conflict %s: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("state: conflict %s not found", id)
	}

	return nil
}

// ListConflicts returns conflicts newest first. When all is false only
// unresolved conflicts are returned.
func (s *Store) ListConflicts(ctx context.Context, all bool) ([]Conflict, error) {
	query := `
		SELECT id, database_id, row_key, component, policy, winner, detail, detected_at, resolved_at
		FROM conflicts`
	if !all {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("state: listing conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict

	for rows.Next() {
		var (
			c        Conflict
			detected string
			resolved sql.NullString
		)

		if err := rows.Scan(&c.ID, &c.DatabaseID, &c.RowKey, &c.Component, &c.Policy,
			&c.Winner, &c.Detail, &detected, &resolved); err != nil {
			return nil, fmt.Errorf("state: scanning conflict: %w", err)
		}

		c.DetectedAt, err = time.Parse(time.RFC3339Nano, detected)
		if err != nil {
			return nil, fmt.Errorf("state: conflict %s: bad detected_at %q: %w", c.ID, detected, err)
		}

		if resolved.Valid {
			ts, err := time.Parse(time.RFC3339Nano, resolved.String)
			if err != nil {
				return nil, fmt.Errorf("state: conflict %s: bad resolved_at %q: %w", c.ID, resolved.String, err)
			}

			c.ResolvedAt = &ts
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: listing conflicts: %w", err)
	}

	return out, nil
}
