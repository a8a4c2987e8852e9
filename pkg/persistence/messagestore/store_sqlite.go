package messagestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore keeps the log as one row of a key-value table.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string, key string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite message store: empty dsn")
	}
	if key == "" {
		key = DefaultKey
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite message store: open")
	}
	s := &SQLiteStore{db: db, key: key}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite message store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) []chat.Message { return loadBlob(ctx, s) }

func (s *SQLiteStore) Save(ctx context.Context, msgs []chat.Message) { saveBlob(ctx, s, msgs) }

func (s *SQLiteStore) Clear(ctx context.Context) { clearBlob(ctx, s) }

func (s *SQLiteStore) name() string { return "sqlite" }

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
		  key TEXT PRIMARY KEY,
		  value TEXT NOT NULL,
		  updated_at_ms INTEGER NOT NULL
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite message store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("sqlite message store: db is nil")
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "sqlite message store: get")
	}
	return []byte(value), true, nil
}

func (s *SQLiteStore) put(ctx context.Context, data []byte) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite message store: db is nil")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv(key, value, updated_at_ms) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		  value = excluded.value,
		  updated_at_ms = excluded.updated_at_ms
	`, s.key, string(data), time.Now().UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite message store: put")
	}
	return nil
}

func (s *SQLiteStore) del(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite message store: db is nil")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, s.key); err != nil {
		return errors.Wrap(err, "sqlite message store: delete")
	}
	return nil
}
