package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/proto"
)

// recvFrame waits for the next frame of the wanted type, skipping others.
func recvFrame(t *testing.T, conn *Conn, wantType string) Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		f, ok := conn.NextFrame(ctx)
		if !ok {
			t.Fatalf("expected frame type %q, got none", wantType)
		}
		if f.Type == wantType {
			return f
		}
	}
}

// expectNoFrame asserts no frame of the given type arrives within wait.
func expectNoFrame(t *testing.T, conn *Conn, unwantedType string, wait time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	for {
		f, ok := conn.NextFrame(ctx)
		if !ok {
			return
		}
		if f.Type == unwantedType {
			t.Fatalf("unexpected frame: %+v", f)
		}
	}
}

// presenceStatus decodes the status out of a presence update frame.
func presenceStatus(t *testing.T, f Frame) (user, status string) {
	t.Helper()

	var update proto.PresenceUpdate
	if err := json.Unmarshal(f.Payload, &update); err != nil {
		t.Fatalf("decode presence payload: %v", err)
	}
	return update.User, update.Status
}

// waitStatus polls the tracker until the user reaches the wanted status.
func waitStatus(t *testing.T, tracker *Tracker, userID string, want Status) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.Status(userID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never reached status %s (now %s)", userID, want, tracker.Status(userID))
}

// stubRelations is a canned RelationshipDecider for router tests.
type stubRelations struct {
	friends map[string]bool // pairKey -> accepted
	change  *RelationshipChange
	err     error
}

func (s *stubRelations) AreFriends(_ context.Context, a, b string) bool {
	if a > b {
		a, b = b, a
	}
	return s.friends[a+":"+b]
}

func (s *stubRelations) Apply(_ context.Context, actor, target, action string) (*RelationshipChange, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.change != nil {
		return s.change, nil
	}
	return &RelationshipChange{Actor: actor, Target: target, Action: action, From: "none", To: "pending"}, nil
}

// recordListener counts registry membership callbacks.
type recordListener struct {
	mu       sync.Mutex
	online   []string
	detached []string
}

func (l *recordListener) UserOnline(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = append(l.online, userID)
}

func (l *recordListener) UserDetached(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detached = append(l.detached, userID)
}

func (l *recordListener) UserActivity(string) {}

func (l *recordListener) onlineCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.online)
}

func (l *recordListener) detachedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.detached)
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testConn(id, userID string, channels ...Channel) *Conn {
	return NewConn(id, userID, 16, channels...)
}
