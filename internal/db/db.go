// Package db provides the SQLite connection and schema for dmxd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Per-device light and mic state keyed by hardware address. Written on
	// every state change so restore-on-power-on survives daemon restarts.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS device_state (
			address TEXT PRIMARY KEY,
			light_power INTEGER NOT NULL DEFAULT 0,
			color_r INTEGER NOT NULL DEFAULT 255,
			color_g INTEGER NOT NULL DEFAULT 255,
			color_b INTEGER NOT NULL DEFAULT 255,
			brightness INTEGER NOT NULL DEFAULT 255,
			active_pattern INTEGER NOT NULL DEFAULT 0,
			last_pattern INTEGER NOT NULL DEFAULT 1,
			effect TEXT NOT NULL DEFAULT '',
			mic_power INTEGER NOT NULL DEFAULT 0,
			mic_sensitivity INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create device_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
