package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is one live bidirectional connection as the core sees it. A user may
// hold several at once (multiple devices or tabs). The transport layer owns
// the socket; the core owns registration, subscriptions and the send queue.
type Conn struct {
	ID     string
	UserID string

	channels map[Channel]struct{}
	queue    *sendQueue
	lastBeat atomic.Int64 // unix nanos
}

// NewConn builds a connection subscribed to the given channels with a send
// queue of the given capacity.
func NewConn(id, userID string, queueCap int, channels ...Channel) *Conn {
	subs := make(map[Channel]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	c := &Conn{
		ID:       id,
		UserID:   userID,
		channels: subs,
		queue:    newSendQueue(queueCap),
	}
	c.lastBeat.Store(time.Now().UnixNano())
	return c
}

// Subscribed reports whether the connection may carry frames for ch.
// Presence is implicit on every connection.
func (c *Conn) Subscribed(ch Channel) bool {
	if ch == ChannelPresence {
		return true
	}
	_, ok := c.channels[ch]
	return ok
}

// Touch refreshes the heartbeat timestamp. Called on every inbound frame.
func (c *Conn) Touch() {
	c.lastBeat.Store(time.Now().UnixNano())
}

// LastBeat returns the time of the last inbound traffic.
func (c *Conn) LastBeat() time.Time {
	return time.Unix(0, c.lastBeat.Load())
}

// Enqueue places a frame on the send queue, applying the overflow policy.
func (c *Conn) Enqueue(f Frame) error {
	return c.queue.push(f)
}

// NextFrame blocks until a frame is available, the queue is closed, or ctx
// is done. The second return is false when no more frames will come.
func (c *Conn) NextFrame(ctx context.Context) (Frame, bool) {
	return c.queue.pop(ctx)
}

// Close shuts the send queue; the transport write loop drains and exits.
func (c *Conn) Close() {
	c.queue.close()
}

// Closed reports whether the connection's queue has been shut.
func (c *Conn) Closed() bool {
	return c.queue.isClosed()
}

// QueueLen returns the number of frames waiting to be written.
func (c *Conn) QueueLen() int {
	return c.queue.len()
}

// sendQueue is a bounded FIFO of outbound frames. On overflow the oldest
// droppable (presence) entries go first; if the queue is still full the push
// fails with ErrSlowConsumer and the registry tears the connection down.
type sendQueue struct {
	mu     sync.Mutex
	frames []Frame
	cap    int
	closed bool
	notify chan struct{}
}

func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &sendQueue{
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

func (q *sendQueue) push(f Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.frames) >= q.cap {
		q.dropNonCritical()
	}
	if len(q.frames) >= q.cap {
		if !f.Critical() {
			// A droppable frame on a full queue is dropped, not fatal.
			return nil
		}
		return ErrSlowConsumer
	}
	q.frames = append(q.frames, f)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// dropNonCritical removes presence frames oldest-first. Caller holds mu.
func (q *sendQueue) dropNonCritical() {
	kept := q.frames[:0]
	dropped := false
	for _, f := range q.frames {
		if !dropped && !f.Critical() {
			dropped = true
			continue
		}
		kept = append(kept, f)
	}
	q.frames = kept
}

func (q *sendQueue) pop(ctx context.Context) (Frame, bool) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, true
		}
		if q.closed {
			q.mu.Unlock()
			return Frame{}, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Frame{}, false
		}
	}
}

func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *sendQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
