package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RegistryListener observes membership changes in the connection registry.
// Callbacks run on the goroutine performing the mutation, under that user's
// serialization lock.
type RegistryListener interface {
	// UserOnline fires when a user's first connection registers.
	UserOnline(userID string)
	// UserDetached fires when a user's last connection unregisters.
	UserDetached(userID string)
	// UserActivity fires on heartbeat or inbound traffic.
	UserActivity(userID string)
}

// Registry owns the set of live connections, keyed by user identifier.
// Multiple simultaneous connections per user are allowed. All mutations for
// one user are serialized through a per-user lock.
type Registry struct {
	locks *keyedMutex
	users *userSet

	listeners []RegistryListener
	log       zerolog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		locks: newKeyedMutex(),
		users: newUserSet(),
		log:   logger,
	}
}

// AddListener attaches a membership observer. Not safe to call after the
// registry starts receiving traffic.
func (r *Registry) AddListener(l RegistryListener) {
	r.listeners = append(r.listeners, l)
}

// Register adds conn to its owner's active set and returns it as the handle.
// Never rejects. Fires UserOnline when this is the user's first connection.
func (r *Registry) Register(conn *Conn) *Conn {
	unlock := r.locks.Lock(conn.UserID)
	defer unlock()

	first := r.users.add(conn)
	r.log.Debug().
		Str("conn_id", conn.ID).
		Str("user_id", conn.UserID).
		Bool("first", first).
		Msg("connection registered")

	if first {
		for _, l := range r.listeners {
			l.UserOnline(conn.UserID)
		}
	}
	for _, l := range r.listeners {
		l.UserActivity(conn.UserID)
	}
	return conn
}

// Unregister removes the connection and closes its send queue. Fires
// UserDetached when the user's active set becomes empty; the presence
// tracker starts the offline grace timer from that signal.
func (r *Registry) Unregister(conn *Conn) {
	unlock := r.locks.Lock(conn.UserID)
	defer unlock()
	r.unregisterLocked(conn)
}

func (r *Registry) unregisterLocked(conn *Conn) {
	removed, empty := r.users.remove(conn)
	if !removed {
		return
	}
	conn.Close()
	r.log.Debug().
		Str("conn_id", conn.ID).
		Str("user_id", conn.UserID).
		Bool("last", empty).
		Msg("connection unregistered")

	if empty {
		for _, l := range r.listeners {
			l.UserDetached(conn.UserID)
		}
	}
}

// Send enqueues the frame on every active connection of userID that is
// subscribed to the frame's channel. Returns the number of connections the
// frame was queued on; zero means the caller must hand the frame to the
// delivery supervisor. Slow consumers are torn down inline.
func (r *Registry) Send(userID string, f Frame) int {
	unlock := r.locks.Lock(userID)
	defer unlock()

	delivered := 0
	for _, conn := range r.users.conns(userID) {
		if !conn.Subscribed(f.Channel) {
			continue
		}
		switch err := conn.Enqueue(f); err {
		case nil:
			delivered++
		case ErrSlowConsumer:
			r.log.Warn().
				Str("conn_id", conn.ID).
				Str("user_id", userID).
				Msg("send queue overflow, closing slow consumer")
			r.unregisterLocked(conn)
		case ErrQueueClosed:
			// Racing a teardown; treat as not delivered.
		}
	}
	return delivered
}

// Heartbeat refreshes the connection's liveness timestamp.
func (r *Registry) Heartbeat(conn *Conn) {
	conn.Touch()
	for _, l := range r.listeners {
		l.UserActivity(conn.UserID)
	}
}

// Connections returns the number of live connections for userID.
func (r *Registry) Connections(userID string) int {
	unlock := r.locks.Lock(userID)
	defer unlock()
	return len(r.users.conns(userID))
}

// Sweep forcibly unregisters connections with no heartbeat inside maxAge.
// Clients that vanish without a close frame otherwise leak.
func (r *Registry) Sweep(now time.Time, maxAge time.Duration) {
	for _, userID := range r.users.userIDs() {
		unlock := r.locks.Lock(userID)
		for _, conn := range r.users.conns(userID) {
			if now.Sub(conn.LastBeat()) > maxAge {
				r.log.Info().
					Str("conn_id", conn.ID).
					Str("user_id", userID).
					Msg("closing stale connection")
				r.unregisterLocked(conn)
			}
		}
		unlock()
	}
}

// userSet guards the userID -> connections map itself. Per-user ordering is
// enforced by the registry's keyed locks, not here.
type userSet struct {
	mu     sync.Mutex
	byUser map[string][]*Conn
}

func newUserSet() *userSet {
	return &userSet{byUser: make(map[string][]*Conn)}
}

func (s *userSet) add(conn *Conn) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.byUser[conn.UserID]
	s.byUser[conn.UserID] = append(existing, conn)
	return len(existing) == 0
}

func (s *userSet) remove(conn *Conn) (removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.byUser[conn.UserID]
	for i, c := range existing {
		if c == conn {
			existing = append(existing[:i], existing[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false, false
	}
	if len(existing) == 0 {
		delete(s.byUser, conn.UserID)
		return true, true
	}
	s.byUser[conn.UserID] = existing
	return true, false
}

func (s *userSet) conns(userID string) []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, len(s.byUser[userID]))
	copy(out, s.byUser[userID])
	return out
}

func (s *userSet) userIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byUser))
	for id := range s.byUser {
		ids = append(ids, id)
	}
	return ids
}
