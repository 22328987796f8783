package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists events, alerts and rules. It keeps two connection
// pools: WAL mode allows any number of concurrent readers but exactly one
// writer, so writes go through a single-connection pool while reads fan out.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
	logger  *zap.SugaredLogger
}

func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// In-memory databases report "memory" instead of "wal".
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (journal_mode=%s)", journalMode)
	}
	return nil
}

func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("database path must not contain path traversal sequences")
	}
	return nil
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath and
// runs the schema setup. Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Both pools must reach the same in-memory database; without shared
	// cache a second sql.Open(":memory:") opens a separate empty one.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open write pool: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write pool: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read pool: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStore{
		writeDB: writeDB,
		readDB:  readDB,
		path:    dbPath,
		logger:  logger,
	}
	if err := store.createTables(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	logger.Infof("SQLite store ready at %s", dbPath)
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			source TEXT NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			hostname TEXT,
			ip_address TEXT,
			username TEXT,
			description TEXT NOT NULL,
			raw_log TEXT NOT NULL,
			parsed_data TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity)`,

		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			severity TEXT NOT NULL,
			rule_type TEXT NOT NULL,
			conditions TEXT NOT NULL,
			actions TEXT NOT NULL,
			match_count INTEGER NOT NULL DEFAULT 0,
			last_match DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			rule_id TEXT NOT NULL REFERENCES rules(id),
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			title TEXT NOT NULL,
			description TEXT,
			endpoint_id TEXT,
			notes TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_rule_id ON alerts(rule_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.writeDB.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a write transaction, rolling back on error
func (s *SQLiteStore) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.writeDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Errorf("Rollback failed: %v (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck verifies both pools can reach the database
func (s *SQLiteStore) HealthCheck() error {
	if err := s.writeDB.Ping(); err != nil {
		return fmt.Errorf("write pool unhealthy: %w", err)
	}
	if err := s.readDB.Ping(); err != nil {
		return fmt.Errorf("read pool unhealthy: %w", err)
	}
	return nil
}

// Close closes both connection pools
func (s *SQLiteStore) Close() error {
	var errs []string
	if err := s.writeDB.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("write pool: %v", err))
	}
	if err := s.readDB.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("read pool: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close store: %s", strings.Join(errs, "; "))
	}
	return nil
}
