package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options is the core's recognized configuration surface.
type Options struct {
	HeartbeatInterval  time.Duration
	AwayThreshold      time.Duration
	OfflineGrace       time.Duration
	RetryBase          time.Duration
	RetryBackoffFactor float64
	RetryMaxInterval   time.Duration
	RetryMaxAttempts   int
	SendQueueCapacity  int
	MaxPayloadBytes    int
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.AwayThreshold <= 0 {
		o.AwayThreshold = 2 * time.Minute
	}
	if o.OfflineGrace <= 0 {
		o.OfflineGrace = 10 * time.Second
	}
	if o.SendQueueCapacity <= 0 {
		o.SendQueueCapacity = 256
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = 64 * 1024
	}
}

// Hub composes the registry, presence tracker, delivery supervisor and
// channel router, and runs the process-wide periodic scheduler.
type Hub struct {
	opts       Options
	registry   *Registry
	tracker    *Tracker
	supervisor *Supervisor
	router     *Router
	log        zerolog.Logger
}

// NewHub wires the core components together. relations decides friend
// transitions; history is the optional write-through collaborator.
func NewHub(opts Options, relations RelationshipDecider, history HistoryWriter, logger zerolog.Logger) *Hub {
	opts.withDefaults()

	registry := NewRegistry(logger)
	tracker := NewTracker(registry, relations, opts.AwayThreshold, opts.OfflineGrace, logger)
	supervisor := NewSupervisor(registry, RetryPolicy{
		Base:        opts.RetryBase,
		Factor:      opts.RetryBackoffFactor,
		MaxInterval: opts.RetryMaxInterval,
		MaxAttempts: opts.RetryMaxAttempts,
	}, logger)
	router := NewRouter(registry, supervisor, tracker, relations, history, opts.MaxPayloadBytes, logger)

	registry.AddListener(tracker)
	registry.AddListener(supervisor)

	return &Hub{
		opts:       opts,
		registry:   registry,
		tracker:    tracker,
		supervisor: supervisor,
		router:     router,
		log:        logger,
	}
}

// Run drives the heartbeat sweep and presence timers until ctx is done.
// Shutdown flushes pending offline notifications before returning.
func (h *Hub) Run(ctx context.Context) {
	h.supervisor.Start(ctx)

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		h.tracker.Run(ctx)
	}()

	// Stale window gives clients a couple of missed heartbeats before the
	// connection is reclaimed.
	staleAfter := 3 * h.opts.HeartbeatInterval
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			h.registry.Sweep(now, staleAfter)
		case <-ctx.Done():
			<-trackerDone
			h.supervisor.Wait()
			h.log.Info().Msg("hub stopped")
			return
		}
	}
}

// NewConn creates a connection for a verified user, subscribed to the given
// channels, with the configured send-queue capacity.
func (h *Hub) NewConn(userID string, channels ...Channel) *Conn {
	return NewConn(uuid.NewString(), userID, h.opts.SendQueueCapacity, channels...)
}

// Register adds the connection to the registry.
func (h *Hub) Register(conn *Conn) *Conn {
	return h.registry.Register(conn)
}

// Unregister removes the connection; supervisor hand-offs keep running.
func (h *Hub) Unregister(conn *Conn) {
	h.registry.Unregister(conn)
}

// Route dispatches one inbound frame.
func (h *Hub) Route(ctx context.Context, conn *Conn, f Frame) error {
	return h.router.Route(ctx, conn, f)
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Tracker exposes the presence tracker.
func (h *Hub) Tracker() *Tracker { return h.tracker }

// Supervisor exposes the delivery supervisor.
func (h *Hub) Supervisor() *Supervisor { return h.supervisor }
