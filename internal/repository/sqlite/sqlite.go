package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS frames (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		frame_id TEXT NOT NULL,
		device_id TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		scene_description TEXT NOT NULL DEFAULT '',
		confidence REAL DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		image_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		frame_row_id INTEGER NOT NULL,
		label TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		x1 REAL DEFAULT 0,
		y1 REAL DEFAULT 0,
		x2 REAL DEFAULT 0,
		y2 REAL DEFAULT 0,
		FOREIGN KEY (frame_row_id) REFERENCES frames(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_frames_frame_id ON frames(frame_id);
	CREATE INDEX IF NOT EXISTS idx_frames_device ON frames(device_id);
	CREATE INDEX IF NOT EXISTS idx_frames_timestamp ON frames(timestamp);
	CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label);
	CREATE INDEX IF NOT EXISTS idx_detections_frame_row_id ON detections(frame_row_id);
	`,
	`ALTER TABLE detections ADD COLUMN track_id INTEGER;`,
}

// DB serializes access to the archive database. Writers hold the write
// lock; the connection pool is pinned to a single connection.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New opens (or creates) the archive at dbPath and brings its schema up to date.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// SchemaVersion reports how many migrations have been applied.
func (db *DB) SchemaVersion() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var v int
	err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&v)
	return v, err
}

func (db *DB) migrate() error {
	var current int
	if err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return err
	}
	for i := current; i < len(migrations); i++ {
		err := db.WithTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[i]); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
			// PRAGMA does not accept bound parameters.
			_, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1))
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn inside a transaction under the write lock. The
// transaction commits when fn returns nil and rolls back otherwise.
func (db *DB) WithTx(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) RLock()   { db.mu.RLock() }
func (db *DB) RUnlock() { db.mu.RUnlock() }
