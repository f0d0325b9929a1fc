package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteHistorySchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    messages_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_user_created
    ON conversations (user_id, created_at_ms DESC, seq DESC);
`

// SQLiteStore persists archived conversations in a SQLite database, one row
// per conversation with the turns stored as a JSON payload.
type SQLiteStore struct {
	mu     sync.RWMutex
	opts   storeOptions
	db     *sql.DB
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string, options ...StoreOption) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "sqlite history store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: open")
	}
	// a single connection keeps ":memory:" databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		opts: newStoreOptions(options...),
		db:   db,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.Wrap(ErrInvalidConfig, "sqlite history store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(sqliteHistorySchemaV1); err != nil {
		return errors.Wrap(err, "sqlite history store: migrate")
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, userID string, msgs turns.Conversation) (ArchivedConversation, error) {
	if err := validateAppend(userID, msgs); err != nil {
		return ArchivedConversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ArchivedConversation{}, ErrStoreClosed
	}

	payload, err := json.Marshal(msgs)
	if err != nil {
		return ArchivedConversation{}, errors.Wrap(err, "sqlite history store: marshal turns")
	}

	createdAtMs := s.opts.now().UnixMilli()
	a := ArchivedConversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Messages:  msgs.Clone(),
		CreatedAt: time.UnixMilli(createdAtMs).UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at_ms, messages_json) VALUES (?, ?, ?, ?)`,
		a.ID, a.UserID, createdAtMs, string(payload),
	)
	if err != nil {
		return ArchivedConversation{}, errors.Wrap(err, "sqlite history store: insert")
	}
	return a, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string) ([]ArchivedConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, created_at_ms, messages_json FROM conversations
WHERE user_id = ?
ORDER BY created_at_ms DESC, seq DESC`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: query")
	}
	defer func() {
		_ = rows.Close()
	}()

	ret := []ArchivedConversation{}
	for rows.Next() {
		var (
			a         ArchivedConversation
			createdMs int64
			payload   string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &createdMs, &payload); err != nil {
			return nil, errors.Wrap(err, "sqlite history store: scan")
		}
		if err := json.Unmarshal([]byte(payload), &a.Messages); err != nil {
			return nil, errors.Wrapf(err, "sqlite history store: decode conversation %s", a.ID)
		}
		a.CreatedAt = time.UnixMilli(createdMs).UTC()
		ret = append(ret, a)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
