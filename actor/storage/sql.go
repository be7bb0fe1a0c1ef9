package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
)

// dialect holds the statements that differ between SQLite and MySQL.
type dialect struct {
	driver     string
	migrations []string
	upsert     string
}

var dialects = map[string]dialect{
	config.StoreSQLite: {
		driver: "sqlite3",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS dataset_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL DEFAULT '',
				item TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dataset_items_run ON dataset_items(run_id)`,
			`CREATE TABLE IF NOT EXISTS key_value_records (
				record_key TEXT PRIMARY KEY,
				run_id TEXT NOT NULL DEFAULT '',
				value TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		},
		upsert: `INSERT INTO key_value_records (record_key, run_id, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(record_key) DO UPDATE SET
				run_id = excluded.run_id,
				value = excluded.value,
				updated_at = excluded.updated_at`,
	},
	config.StoreMySQL: {
		driver: "mysql",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS dataset_items (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				run_id VARCHAR(64) NOT NULL DEFAULT '',
				item LONGTEXT NOT NULL,
				created_at BIGINT NOT NULL,
				INDEX idx_dataset_items_run (run_id)
			)`,
			`CREATE TABLE IF NOT EXISTS key_value_records (
				record_key VARCHAR(256) PRIMARY KEY,
				run_id VARCHAR(64) NOT NULL DEFAULT '',
				value LONGTEXT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
		},
		upsert: `INSERT INTO key_value_records (record_key, run_id, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				run_id = VALUES(run_id),
				value = VALUES(value),
				updated_at = VALUES(updated_at)`,
	},
}

// SQLStore keeps dataset items and key-value records in two tables. It
// implements both Dataset and KeyValueStore.
type SQLStore struct {
	db      *sql.DB
	backend string
	dialect dialect
}

// OpenSQLStore opens the database, verifies the connection and creates the
// tables if needed. backend is config.StoreSQLite or config.StoreMySQL.
func OpenSQLStore(ctx context.Context, backend, dsn string) (*SQLStore, error) {
	d, ok := dialects[backend]
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported sql backend %q", backend), nil)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("%s store requires a dsn", backend), nil)
	}

	if backend == config.StoreMySQL {
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, errors.NewConfigError("invalid mysql dsn", err)
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.NewStorageError(backend, "open database", err)
	}

	if backend == config.StoreMySQL {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(10 * time.Minute)
	} else {
		// SQLite serializes writers; one connection avoids "database is locked".
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewStorageError(backend, "connect to database", err)
	}

	s := &SQLStore{db: db, backend: backend, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewStorageError(s.backend, "migrate database", err)
		}
	}
	return nil
}

// PushData implements Dataset.
func (s *SQLStore) PushData(ctx context.Context, item any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return errors.NewStorageError(s.backend, "encode dataset item", err)
	}

	const stmt = `INSERT INTO dataset_items (run_id, item, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, RunIDFrom(ctx), string(data), time.Now().Unix()); err != nil {
		return errors.NewStorageError(s.backend, "push dataset item", err)
	}
	return nil
}

// SetValue implements KeyValueStore. An existing record is replaced.
func (s *SQLStore) SetValue(ctx context.Context, key string, value any) error {
	if err := ValidateKey(key); err != nil {
		return errors.NewStorageError(s.backend, "set value", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewStorageError(s.backend, "encode value", err)
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, RunIDFrom(ctx), string(data), time.Now().Unix()); err != nil {
		return errors.NewStorageError(s.backend, "set value", err)
	}
	return nil
}

// Items returns the stored dataset items in insertion order, decoded.
func (s *SQLStore) Items(ctx context.Context) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item FROM dataset_items ORDER BY id`)
	if err != nil {
		return nil, errors.NewStorageError(s.backend, "list dataset items", err)
	}
	defer rows.Close()

	var items []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.NewStorageError(s.backend, "scan dataset item", err)
		}
		var item map[string]any
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, errors.NewStorageError(s.backend, "decode dataset item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(s.backend, "list dataset items", err)
	}
	return items, nil
}

// Value returns the decoded value stored under key. found is false when
// there is no such record.
func (s *SQLStore) Value(ctx context.Context, key string) (value any, found bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM key_value_records WHERE record_key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewStorageError(s.backend, "get value", err)
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, errors.NewStorageError(s.backend, "decode value", err)
	}
	return value, true, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
