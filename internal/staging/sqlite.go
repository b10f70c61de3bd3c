package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const createKVTable = `CREATE TABLE IF NOT EXISTS staging_kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const createSetTable = `CREATE TABLE IF NOT EXISTS staging_set (
	key    TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (key, member)
)`

const createLeaseTable = `CREATE TABLE IF NOT EXISTS staging_lease (
	key        TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`

// SQLiteStore persists staging values in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	// Other processes may share the file; wait for their write locks.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open staging database: %w", err)
	}
	// A single connection serializes writers; SQLite would otherwise
	// return SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createKVTable, createSetTable, createLeaseTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create staging table: %w", err)
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM staging_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read staging key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO staging_kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("write staging key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staging_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete staging key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) AddMembers(ctx context.Context, key string, members ...string) error {
	return s.eachMember(ctx, `INSERT OR IGNORE INTO staging_set (key, member) VALUES (?, ?)`, key, members)
}

func (s *SQLiteStore) RemoveMembers(ctx context.Context, key string, members ...string) error {
	return s.eachMember(ctx, `DELETE FROM staging_set WHERE key = ? AND member = ?`, key, members)
}

// eachMember runs stmt once per member inside one transaction.
func (s *SQLiteStore) eachMember(ctx context.Context, stmt, key string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin staging set %s: %w", key, err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("prepare staging set %s: %w", key, err)
	}
	defer prepared.Close()

	for _, m := range members {
		if _, err := prepared.ExecContext(ctx, key, m); err != nil {
			return fmt.Errorf("update staging set %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit staging set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Members(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM staging_set WHERE key = ? ORDER BY member`, key)
	if err != nil {
		return nil, fmt.Errorf("read staging set %s: %w", key, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan staging set %s: %w", key, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TryLock inserts the lease row, or takes it over once it has expired, in a
// single statement.
func (s *SQLiteStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	now := s.now()
	token := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `INSERT INTO staging_lease (key, token, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		WHERE staging_lease.expires_at <= ?`,
		key, token, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return "", false, fmt.Errorf("lock staging key %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("lock staging key %s: %w", key, err)
	}
	if n == 0 {
		return "", false, nil
	}
	return token, true, nil
}

func (s *SQLiteStore) Unlock(ctx context.Context, key, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM staging_lease WHERE key = ? AND token = ?`, key, token); err != nil {
		return fmt.Errorf("unlock staging key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
