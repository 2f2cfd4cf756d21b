package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/proto"
)

// RelationshipChange describes an accepted friend-state transition.
type RelationshipChange struct {
	Actor  string
	Target string
	Action string
	From   string
	To     string
}

// RelationshipDecider validates and applies friend-state transitions.
// Implemented by the friends service; the core only relays outcomes.
type RelationshipDecider interface {
	FriendChecker
	Apply(ctx context.Context, actor, target, action string) (*RelationshipChange, error)
}

// HistoryEntry is what the core hands to the persistence collaborator.
type HistoryEntry struct {
	Channel  string
	FromUser string
	ToUser   string
	Payload  []byte
	SentAt   time.Time
}

// HistoryWriter is the write-through persistence collaborator. Failures are
// logged, never surfaced to the sender; delivery to an online recipient must
// not depend on storage latency.
type HistoryWriter interface {
	SaveMessage(ctx context.Context, entry HistoryEntry) error
}

// Router classifies inbound frames by channel tag and dispatches them. All
// routing is per-frame; the transport guarantees no frame arrives before
// verification and registration completed.
type Router struct {
	registry   *Registry
	supervisor *Supervisor
	tracker    *Tracker
	relations  RelationshipDecider
	history    HistoryWriter
	maxPayload int
	log        zerolog.Logger
}

// NewRouter wires the router to its collaborators. history may be nil when
// no persistence collaborator is configured.
func NewRouter(registry *Registry, supervisor *Supervisor, tracker *Tracker, relations RelationshipDecider, history HistoryWriter, maxPayload int, logger zerolog.Logger) *Router {
	if maxPayload <= 0 {
		maxPayload = 64 * 1024
	}
	return &Router{
		registry:   registry,
		supervisor: supervisor,
		tracker:    tracker,
		relations:  relations,
		history:    history,
		maxPayload: maxPayload,
		log:        logger,
	}
}

// Route handles one inbound frame from a registered connection. A returned
// *ChannelError or *RelationshipError rejects the frame only; the connection
// stays open.
func (rt *Router) Route(ctx context.Context, conn *Conn, f Frame) error {
	rt.registry.Heartbeat(conn)
	if f.Type == TypePing {
		return nil
	}
	if f.Channel == ChannelPresence {
		return rt.routePresence(ctx, conn, f)
	}

	if !f.Channel.Known() {
		return channelError(ErrCodeUnknownChannel, "unrecognized channel tag")
	}
	if !conn.Subscribed(f.Channel) {
		return channelError(ErrCodeNotSubscribed, "connection not subscribed to channel")
	}

	// The sender identity always comes from the verified connection, never
	// from the frame.
	f.From = conn.UserID

	switch f.Channel {
	case ChannelChat:
		return rt.routeChat(ctx, f)
	case ChannelFriends:
		return rt.routeFriends(ctx, f)
	case ChannelGame:
		return rt.routeGame(f)
	}
	return channelError(ErrCodeUnknownChannel, "unrecognized channel tag")
}

func (rt *Router) routeChat(ctx context.Context, f Frame) error {
	if len(f.Payload) > rt.maxPayload {
		return channelError(ErrCodePayloadTooLarge, "chat payload exceeds size bound")
	}
	if len(f.To) == 0 {
		return channelError(ErrCodeBadFrame, "chat frame requires a recipient")
	}
	for _, target := range f.To {
		rt.writeThrough(ctx, f, target)
		rt.deliver(f.From, target, Frame{
			Channel: f.Channel,
			Type:    f.Type,
			From:    f.From,
			Payload: f.Payload,
		})
	}
	return nil
}

func (rt *Router) routeGame(f Frame) error {
	if len(f.To) == 0 {
		return channelError(ErrCodeBadFrame, "game frame requires session peers")
	}
	for _, peer := range f.To {
		rt.deliver(f.From, peer, Frame{
			Channel: f.Channel,
			Type:    f.Type,
			From:    f.From,
			Payload: f.Payload,
		})
	}
	return nil
}

// routePresence handles subscribe/unsubscribe requests for a friend's
// status changes.
func (rt *Router) routePresence(ctx context.Context, conn *Conn, f Frame) error {
	var sub proto.PresenceSubscribe
	if err := json.Unmarshal(f.Payload, &sub); err != nil || sub.User == "" {
		return channelError(ErrCodeBadFrame, "malformed presence payload")
	}
	switch f.Type {
	case TypeSubscribe:
		if err := rt.tracker.Subscribe(ctx, conn.UserID, sub.User); err != nil {
			return NewRelationshipError(ErrCodeForbiddenTransition, "presence visible to friends only")
		}
		return nil
	case TypeUnsubscribe:
		rt.tracker.Unsubscribe(conn.UserID, sub.User)
		return nil
	}
	return channelError(ErrCodeBadFrame, "unknown presence frame type")
}

func (rt *Router) routeFriends(ctx context.Context, f Frame) error {
	var action proto.FriendAction
	if err := json.Unmarshal(f.Payload, &action); err != nil {
		return channelError(ErrCodeBadFrame, "malformed friends payload")
	}
	if action.User == "" {
		return channelError(ErrCodeBadFrame, "friends action requires a user")
	}

	change, err := rt.relations.Apply(ctx, f.From, action.User, action.Action)
	if err != nil {
		return err
	}

	switch change.To {
	case "accepted":
		rt.tracker.GrantBetween(change.Actor, change.Target)
	default:
		rt.tracker.RevokeBetween(change.Actor, change.Target)
	}

	rt.notifyTransition(change)
	return nil
}

// notifyTransition relays a relationship transition to both parties' live
// connections, each framed from their own point of view.
func (rt *Router) notifyTransition(change *RelationshipChange) {
	rt.deliver("", change.Actor, friendFrame(change.Action, change.Target, change.To))
	rt.deliver("", change.Target, friendFrame(change.Action, change.Actor, change.To))
}

func friendFrame(action, counterpart, state string) Frame {
	payload, _ := json.Marshal(proto.FriendEvent{
		Action: action,
		User:   counterpart,
		State:  state,
	})
	return Frame{
		Channel: ChannelFriends,
		Type:    action,
		Payload: payload,
	}
}

// deliver sends the frame to the target's live connections, handing off to
// the supervisor when none exist or when earlier events are still pending
// (so buffered and live delivery never reorder).
func (rt *Router) deliver(sender, target string, f Frame) {
	f.Seq = rt.supervisor.NextSeq(target)
	if rt.supervisor.HasPending(target) {
		rt.supervisor.Enqueue(&OutboundEvent{Sender: sender, Target: target, Frame: f})
		return
	}
	if rt.registry.Send(target, f) == 0 {
		rt.supervisor.Enqueue(&OutboundEvent{Sender: sender, Target: target, Frame: f})
	}
}

// writeThrough forwards a chat payload to the persistence collaborator
// without blocking the delivery path on its result.
func (rt *Router) writeThrough(ctx context.Context, f Frame, target string) {
	if rt.history == nil {
		return
	}
	entry := HistoryEntry{
		Channel:  string(f.Channel),
		FromUser: f.From,
		ToUser:   target,
		Payload:  f.Payload,
		SentAt:   time.Now(),
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.history.SaveMessage(saveCtx, entry); err != nil {
			rt.log.Warn().Err(err).
				Str("from", entry.FromUser).
				Str("to", entry.ToUser).
				Msg("history write-through failed")
		}
	}()
}
