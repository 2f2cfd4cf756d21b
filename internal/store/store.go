package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message is a persisted chat payload. The core writes these through on the
// chat path; it never reads them on the hot path.
type Message struct {
	ID        int64
	Channel   string
	FromUser  string
	ToUser    string
	Payload   []byte
	CreatedAt time.Time
}

// Relationship is the durable form of a friend pair. UserA < UserB.
type Relationship struct {
	ID        int64
	UserA     string
	UserB     string
	State     string // pending, accepted, blocked
	Requester string
	Blocker   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageStore persists chat history.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, userA, userB string, limit int) ([]*Message, error)
}

// RelationshipStore persists friend relationships.
type RelationshipStore interface {
	GetRelationship(ctx context.Context, a, b string) (*Relationship, error)
	UpsertRelationship(ctx context.Context, r *Relationship) error
	DeleteRelationship(ctx context.Context, a, b string) error
}

// Store is the persistence collaborator consumed by the core. The core only
// writes through; failures are logged by callers, not surfaced to senders.
type Store interface {
	MessageStore
	RelationshipStore
	Close() error
}
