package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Avanquish/DoughNation-sub002/internal/logger"
)

var log = logger.New("database")

// dialect captures the few statements that differ between backends.
type dialect struct {
	driverName string
	createSQL  string
	getSQL     string
	upsertSQL  string
	deleteSQL  string
}

var (
	postgresDialect = dialect{
		driverName: "postgres",
		createSQL:  `CREATE TABLE IF NOT EXISTS local_storage (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`,
		getSQL:     `SELECT value FROM local_storage WHERE key = $1`,
		upsertSQL: `INSERT INTO local_storage (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		deleteSQL: `DELETE FROM local_storage WHERE key = $1`,
	}

	sqliteDialect = dialect{
		driverName: "sqlite",
		createSQL:  `CREATE TABLE IF NOT EXISTS local_storage (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP)`,
		getSQL:     `SELECT value FROM local_storage WHERE key = ?`,
		upsertSQL: `INSERT INTO local_storage (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		deleteSQL: `DELETE FROM local_storage WHERE key = ?`,
	}
)

// SQLStorage persists values in a single local_storage table.
type SQLStorage struct {
	*sql.DB
	dialect dialect
}

// NewPostgresStorage connects with lib/pq.
func NewPostgresStorage(connStr string) (*SQLStorage, error) {
	return openSQL(postgresDialect, connStr)
}

// NewSQLiteStorage opens (or creates) a database file.
func NewSQLiteStorage(path string) (*SQLStorage, error) {
	s, err := openSQL(sqliteDialect, path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	s.SetMaxOpenConns(1)
	return s, nil
}

func openSQL(d dialect, dsn string) (*SQLStorage, error) {
	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", d.driverName)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", d.driverName)
	}

	if _, err := db.Exec(d.createSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create local_storage table")
	}

	log.Debug("Opened %s local storage", d.driverName)
	return &SQLStorage{DB: db, dialect: d}, nil
}

func (s *SQLStorage) Get(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.QueryRowContext(ctx, s.dialect.getSQL, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "get %q", key)
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *SQLStorage) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	if _, err := s.ExecContext(ctx, s.dialect.upsertSQL, key, string(raw)); err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	return nil
}

func (s *SQLStorage) Remove(ctx context.Context, key string) error {
	if _, err := s.ExecContext(ctx, s.dialect.deleteSQL, key); err != nil {
		return errors.Wrapf(err, "remove %q", key)
	}
	return nil
}
