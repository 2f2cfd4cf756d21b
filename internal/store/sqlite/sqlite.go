package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/pulsegate/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel    TEXT NOT NULL,
	from_user  TEXT NOT NULL,
	to_user    TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (from_user, to_user, id);

CREATE TABLE IF NOT EXISTS relationships (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_a     TEXT NOT NULL,
	user_b     TEXT NOT NULL,
	state      TEXT NOT NULL,
	requester  TEXT NOT NULL DEFAULT '',
	blocker    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_a, user_b)
);
`

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// SaveMessage persists one chat payload.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m *store.Message) error {
	query := `
		INSERT INTO messages (channel, from_user, to_user, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, m.Channel, m.FromUser, m.ToUser, m.Payload, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	m.ID = id
	return nil
}

// ListMessages returns up to limit messages exchanged between two users,
// oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, userA, userB string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, channel, from_user, to_user, payload, created_at
		FROM messages
		WHERE (from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userA, userB, userB, userA, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.Channel, &m.FromUser, &m.ToUser, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ==== RelationshipStore implementation ====

// GetRelationship fetches the record for the unordered pair (a, b).
func (s *SQLiteStore) GetRelationship(ctx context.Context, a, b string) (*store.Relationship, error) {
	userA, userB := orderPair(a, b)
	query := `
		SELECT id, user_a, user_b, state, requester, blocker, created_at, updated_at
		FROM relationships
		WHERE user_a = ? AND user_b = ?
	`
	r := &store.Relationship{}
	err := s.db.QueryRowContext(ctx, query, userA, userB).Scan(
		&r.ID, &r.UserA, &r.UserB, &r.State, &r.Requester, &r.Blocker, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query relationship: %w", err)
	}
	return r, nil
}

// UpsertRelationship writes the pair's current state, replacing any prior
// record for the same unordered pair.
func (s *SQLiteStore) UpsertRelationship(ctx context.Context, r *store.Relationship) error {
	query := `
		INSERT INTO relationships (user_a, user_b, state, requester, blocker, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_a, user_b) DO UPDATE SET
			state = excluded.state,
			requester = excluded.requester,
			blocker = excluded.blocker,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.UserA, r.UserB, r.State, r.Requester, r.Blocker, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert relationship: %w", err)
	}
	return nil
}

// DeleteRelationship removes the pair's record if present.
func (s *SQLiteStore) DeleteRelationship(ctx context.Context, a, b string) error {
	userA, userB := orderPair(a, b)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE user_a = ? AND user_b = ?`, userA, userB,
	)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return nil
}

func orderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
