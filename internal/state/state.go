// Package state persists engine bookkeeping that must survive runs but has
// no home in the content tree: conflict history, run history, and record
// file name assignments. Backed by an embedded SQLite database in WAL mode.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// FileName is the state database file inside an environment subtree.
const FileName = "state.db"

// Store wraps the SQLite database. The engine is single-threaded, so the
// connection pool is capped at one writer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the state database at dbPath and applies pending
// migrations. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: opening %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("state: %s: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state database ready", slog.String("path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
