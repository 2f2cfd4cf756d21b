package core

import (
	"context"
	"testing"
	"time"
)

func chatFrame(text string) Frame {
	return Frame{Channel: ChannelChat, Type: "msg", Payload: []byte(text)}
}

func presenceFrame(user string) Frame {
	return Frame{Channel: ChannelPresence, Type: TypePresenceUpdate, Payload: []byte(user)}
}

func TestSendQueueOrdering(t *testing.T) {
	conn := NewConn("c1", "alice", 8, ChannelChat)

	for _, text := range []string{"one", "two", "three"} {
		if err := conn.Enqueue(chatFrame(text)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{"one", "two", "three"} {
		f, ok := conn.NextFrame(ctx)
		if !ok {
			t.Fatalf("queue drained early, want %q", want)
		}
		if string(f.Payload) != want {
			t.Fatalf("out of order: got %q, want %q", f.Payload, want)
		}
	}
}

func TestSendQueueDropsPresenceBeforeChat(t *testing.T) {
	conn := NewConn("c1", "alice", 3, ChannelChat)

	if err := conn.Enqueue(presenceFrame("bob")); err != nil {
		t.Fatalf("enqueue presence: %v", err)
	}
	if err := conn.Enqueue(chatFrame("one")); err != nil {
		t.Fatalf("enqueue chat: %v", err)
	}
	if err := conn.Enqueue(chatFrame("two")); err != nil {
		t.Fatalf("enqueue chat: %v", err)
	}

	// Queue is at capacity; the presence entry must make room.
	if err := conn.Enqueue(chatFrame("three")); err != nil {
		t.Fatalf("expected presence drop to admit chat frame, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{"one", "two", "three"} {
		f, ok := conn.NextFrame(ctx)
		if !ok {
			t.Fatalf("queue drained early, want %q", want)
		}
		if f.Channel == ChannelPresence {
			t.Fatal("presence frame survived overflow")
		}
		if string(f.Payload) != want {
			t.Fatalf("got %q, want %q", f.Payload, want)
		}
	}
}

func TestSendQueueSlowConsumer(t *testing.T) {
	conn := NewConn("c1", "alice", 2, ChannelChat)

	if err := conn.Enqueue(chatFrame("one")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := conn.Enqueue(chatFrame("two")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Nothing droppable left; a critical frame on a full queue is fatal.
	if err := conn.Enqueue(chatFrame("three")); err != ErrSlowConsumer {
		t.Fatalf("expected ErrSlowConsumer, got %v", err)
	}

	// A droppable frame on a full queue is silently discarded instead.
	if err := conn.Enqueue(Frame{Channel: ChannelPresence, Type: TypePresenceUpdate}); err != nil {
		t.Fatalf("droppable frame on full queue should not error, got %v", err)
	}
	if conn.QueueLen() != 2 {
		t.Fatalf("queue length changed: %d", conn.QueueLen())
	}
}

func TestSendQueueClose(t *testing.T) {
	conn := NewConn("c1", "alice", 4, ChannelChat)
	conn.Close()

	if err := conn.Enqueue(chatFrame("late")); err != ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := conn.NextFrame(ctx); ok {
		t.Fatal("closed queue yielded a frame")
	}
}

func TestConnSubscriptions(t *testing.T) {
	conn := NewConn("c1", "alice", 4, ChannelChat, ChannelGame)

	if !conn.Subscribed(ChannelChat) || !conn.Subscribed(ChannelGame) {
		t.Fatal("missing explicit subscriptions")
	}
	if conn.Subscribed(ChannelFriends) {
		t.Fatal("unexpected friends subscription")
	}
	if !conn.Subscribed(ChannelPresence) {
		t.Fatal("presence must be implicit on every connection")
	}
}
