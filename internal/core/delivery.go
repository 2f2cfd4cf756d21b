package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/proto"
)

// RetryPolicy bounds redelivery to momentarily-detached users.
type RetryPolicy struct {
	Base        time.Duration
	Factor      float64
	MaxInterval time.Duration
	MaxAttempts int
}

func (p *RetryPolicy) withDefaults() {
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
}

// OutboundEvent is a frame the supervisor owns until delivered or exhausted.
type OutboundEvent struct {
	Sender     string
	Target     string
	Frame      Frame
	Attempts   int
	EnqueuedAt time.Time
}

// Supervisor buffers outbound events for users with no live connection and
// retries with exponential backoff. One goroutine per pending target drains
// that target's queue in enqueue order, so delivery order per sender-
// recipient pair is preserved across retries. Reconnection wakes the
// goroutine immediately; nothing waits for the next scheduled tick.
type Supervisor struct {
	registry *Registry
	policy   RetryPolicy
	log      zerolog.Logger

	ctx context.Context

	mu    sync.Mutex
	boxes map[string]*mailbox
	seqs  map[string]uint64
	wg    sync.WaitGroup
}

type mailbox struct {
	queue  []*OutboundEvent
	notify chan struct{} // buffered; wakes a backoff wait on reconnect
}

// NewSupervisor builds a delivery supervisor over the registry.
func NewSupervisor(registry *Registry, policy RetryPolicy, logger zerolog.Logger) *Supervisor {
	policy.withDefaults()
	return &Supervisor{
		registry: registry,
		policy:   policy,
		log:      logger,
		ctx:      context.Background(),
		boxes:    make(map[string]*mailbox),
		seqs:     make(map[string]uint64),
	}
}

// Start scopes mailbox goroutines to ctx. Events still pending at shutdown
// are dropped; the bound on retries already caps their lifetime.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Wait blocks until all mailbox goroutines have exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// NextSeq returns the next monotonic sequence number for the target user.
func (s *Supervisor) NextSeq(target string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[target]++
	return s.seqs[target]
}

// HasPending reports whether undelivered events exist for the target.
// Callers route new frames through Enqueue while this is true, so live
// delivery cannot overtake buffered events.
func (s *Supervisor) HasPending(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.boxes[target]
	return ok
}

// Enqueue stores an outbound event for retry. Called when the registry
// reported zero live recipients, or to preserve ordering behind earlier
// pending events.
func (s *Supervisor) Enqueue(ev *OutboundEvent) {
	if ev.EnqueuedAt.IsZero() {
		ev.EnqueuedAt = time.Now()
	}

	s.mu.Lock()
	box, ok := s.boxes[ev.Target]
	if !ok {
		box = &mailbox{notify: make(chan struct{}, 1)}
		s.boxes[ev.Target] = box
		s.wg.Add(1)
		go s.runMailbox(s.ctx, ev.Target, box)
	}
	box.queue = append(box.queue, ev)
	s.mu.Unlock()

	s.log.Debug().
		Str("target", ev.Target).
		Uint64("seq", ev.Frame.Seq).
		Msg("outbound event buffered")
}

// RegistryListener implementation: a reconnect is a delivery trigger.

func (s *Supervisor) UserOnline(userID string) {
	s.mu.Lock()
	box, ok := s.boxes[userID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case box.notify <- struct{}{}:
	default:
	}
}

func (s *Supervisor) UserDetached(string) {}
func (s *Supervisor) UserActivity(string) {}

func (s *Supervisor) runMailbox(ctx context.Context, target string, box *mailbox) {
	defer s.wg.Done()

	for {
		ev := s.popHead(target, box)
		if ev == nil {
			return
		}
		if !s.attemptDelivery(ctx, target, box, ev) {
			if ctx.Err() != nil {
				s.discard(target)
				return
			}
			s.reportFailure(ev)
		}
	}
}

// popHead returns the next event, or nil after removing the empty mailbox
// so HasPending flips off atomically with the goroutine's exit.
func (s *Supervisor) popHead(target string, box *mailbox) *OutboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(box.queue) == 0 {
		delete(s.boxes, target)
		return nil
	}
	ev := box.queue[0]
	box.queue = box.queue[1:]
	return ev
}

// discard drops the mailbox without failure notices; used on shutdown.
func (s *Supervisor) discard(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boxes, target)
}

func (s *Supervisor) attemptDelivery(ctx context.Context, target string, box *mailbox, ev *OutboundEvent) bool {
	delay := s.policy.Base
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if n := s.registry.Send(target, ev.Frame); n > 0 {
			s.log.Debug().
				Str("target", target).
				Uint64("seq", ev.Frame.Seq).
				Int("attempt", attempt).
				Msg("buffered event delivered")
			return true
		}
		ev.Attempts = attempt
		if attempt == s.policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-box.notify:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return false
		}

		delay = time.Duration(float64(delay) * s.policy.Factor)
		if delay > s.policy.MaxInterval {
			delay = s.policy.MaxInterval
		}
	}
	return false
}

// reportFailure sends a best-effort delivery_failed notice to the original
// sender and drops the event. The supervisor never retries indefinitely.
func (s *Supervisor) reportFailure(ev *OutboundEvent) {
	s.log.Info().
		Str("sender", ev.Sender).
		Str("target", ev.Target).
		Uint64("seq", ev.Frame.Seq).
		Int("attempts", ev.Attempts).
		Msg("delivery failed, retries exhausted")

	if ev.Sender == "" {
		return
	}
	payload, err := json.Marshal(proto.DeliveryFailure{
		Seq:    ev.Frame.Seq,
		User:   ev.Target,
		Reason: "recipient unreachable",
	})
	if err != nil {
		return
	}
	s.registry.Send(ev.Sender, Frame{
		Channel: ev.Frame.Channel,
		Type:    TypeDeliveryFailed,
		Payload: payload,
	})
}
