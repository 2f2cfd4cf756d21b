package core

import (
	"context"
	"testing"
	"time"
)

func newPresenceRig(t *testing.T, away, grace time.Duration, friends FriendChecker) (*Registry, *Tracker) {
	t.Helper()

	registry := NewRegistry(nopLogger())
	tracker := NewTracker(registry, friends, away, grace, nopLogger())
	registry.AddListener(tracker)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tracker.Run(ctx)

	return registry, tracker
}

func allFriends() *stubRelations {
	return &stubRelations{friends: map[string]bool{
		"alice:bob": true,
	}}
}

func TestPresenceOnlineIffConnected(t *testing.T) {
	registry, tracker := newPresenceRig(t, 10*time.Second, 40*time.Millisecond, allFriends())

	if tracker.Status("alice") != StatusOffline {
		t.Fatal("unknown user must be offline")
	}

	conn := testConn("c1", "alice", ChannelChat)
	registry.Register(conn)
	waitStatus(t, tracker, "alice", StatusOnline)

	registry.Unregister(conn)
	waitStatus(t, tracker, "alice", StatusOffline)
}

func TestPresenceBroadcastGatedBySubscription(t *testing.T) {
	registry, tracker := newPresenceRig(t, 10*time.Second, 30*time.Millisecond, allFriends())

	observer := testConn("obs", "bob", ChannelFriends)
	registry.Register(observer)
	if err := tracker.Subscribe(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	target := testConn("c1", "alice", ChannelChat)
	registry.Register(target)

	f := recvFrame(t, observer, TypePresenceUpdate)
	if user, status := presenceStatus(t, f); user != "alice" || status != "online" {
		t.Fatalf("unexpected presence update: %s %s", user, status)
	}

	registry.Unregister(target)
	f = recvFrame(t, observer, TypePresenceUpdate)
	if user, status := presenceStatus(t, f); user != "alice" || status != "offline" {
		t.Fatalf("unexpected presence update: %s %s", user, status)
	}
}

func TestPresenceNeverVisibleToNonFriends(t *testing.T) {
	_, tracker := newPresenceRig(t, 10*time.Second, 30*time.Millisecond, &stubRelations{})

	if err := tracker.Subscribe(context.Background(), "mallory", "alice"); err != ErrNotFriends {
		t.Fatalf("expected ErrNotFriends, got %v", err)
	}
}

func TestPresenceAwayAndBack(t *testing.T) {
	registry, tracker := newPresenceRig(t, 60*time.Millisecond, 10*time.Second, allFriends())

	observer := testConn("obs", "bob", ChannelFriends)
	registry.Register(observer)
	if err := tracker.Subscribe(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn := testConn("c1", "alice", ChannelChat)
	registry.Register(conn)
	waitStatus(t, tracker, "alice", StatusOnline)

	// No traffic past the threshold while the connection stays open.
	waitStatus(t, tracker, "alice", StatusAway)

	// Traffic resumes.
	registry.Heartbeat(conn)
	waitStatus(t, tracker, "alice", StatusOnline)
}

func TestPresenceNoDuplicateOnlineEvent(t *testing.T) {
	registry, tracker := newPresenceRig(t, 10*time.Second, 10*time.Second, allFriends())

	observer := testConn("obs", "bob", ChannelFriends)
	registry.Register(observer)
	if err := tracker.Subscribe(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	registry.Register(testConn("c1", "alice", ChannelChat))
	recvFrame(t, observer, TypePresenceUpdate)

	// Second device for an already-online user.
	registry.Register(testConn("c2", "alice", ChannelChat))
	expectNoFrame(t, observer, TypePresenceUpdate, 150*time.Millisecond)
	waitStatus(t, tracker, "alice", StatusOnline)
}

func TestPresenceGraceAbsorbsReconnect(t *testing.T) {
	registry, tracker := newPresenceRig(t, 10*time.Second, 200*time.Millisecond, allFriends())

	observer := testConn("obs", "bob", ChannelFriends)
	registry.Register(observer)
	if err := tracker.Subscribe(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first := testConn("c1", "alice", ChannelChat)
	registry.Register(first)
	recvFrame(t, observer, TypePresenceUpdate)

	// Tab reload: the connection drops and a new one arrives inside grace.
	registry.Unregister(first)
	registry.Register(testConn("c2", "alice", ChannelChat))

	expectNoFrame(t, observer, TypePresenceUpdate, 400*time.Millisecond)
	waitStatus(t, tracker, "alice", StatusOnline)
}

func TestPresenceRevokeStopsUpdates(t *testing.T) {
	registry, tracker := newPresenceRig(t, 10*time.Second, 30*time.Millisecond, allFriends())

	observer := testConn("obs", "bob", ChannelFriends)
	registry.Register(observer)
	tracker.GrantBetween("bob", "alice")

	target := testConn("c1", "alice", ChannelChat)
	registry.Register(target)
	recvFrame(t, observer, TypePresenceUpdate)

	tracker.RevokeBetween("bob", "alice")
	registry.Unregister(target)
	expectNoFrame(t, observer, TypePresenceUpdate, 200*time.Millisecond)
}
