package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps credentials in a SQLite database with WAL mode, one row
// per user.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS credentials (
					email TEXT PRIMARY KEY,
					data TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// LoadSet reads every stored credential. An empty table yields ErrNotFound.
func (s *SQLiteStore) LoadSet(ctx context.Context) (models.CredentialSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT email, data FROM credentials ORDER BY email`)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "load credentials", Err: err}
	}
	defer rows.Close()

	set := models.CredentialSet{}
	for rows.Next() {
		var email, data string
		if err := rows.Scan(&email, &data); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan credential", Err: err}
		}
		var cred models.Credential
		if err := json.Unmarshal([]byte(data), &cred); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "decode credential " + email, Err: err}
		}
		set[email] = &cred
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "load credentials", Err: err}
	}
	if len(set) == 0 {
		return nil, ErrNotFound
	}

	set.Normalize()
	if err := validateSet(set); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "validate credentials", Err: err}
	}
	return set, nil
}

// SaveSet replaces the stored set in one transaction.
func (s *SQLiteStore) SaveSet(ctx context.Context, set models.CredentialSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "clear credentials", Err: err}
	}

	now := time.Now().UTC()
	for _, email := range set.Emails() {
		data, err := json.Marshal(set[email])
		if err != nil {
			return &errors.ErrDatabaseQuery{Operation: "encode credential " + email, Err: err}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO credentials (email, data, updated_at) VALUES (?, ?, ?)
		`, email, string(data), now)
		if err != nil {
			return &errors.ErrDatabaseQuery{Operation: "save credential " + email, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit credentials", Err: err}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
