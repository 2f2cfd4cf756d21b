package proto

import "encoding/json"

// Frame is the wire envelope for everything crossing a websocket, in both
// directions. Payload stays opaque to the transport; only channel and type
// are interpreted by the router.
type Frame struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      []string        `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Channel tags recognized on the wire.
const (
	ChannelChat     = "chat"
	ChannelFriends  = "friends"
	ChannelGame     = "game"
	ChannelPresence = "presence"
)

// Frame types used by the core itself. Channel-specific types (chat message
// kinds, game event names) pass through untouched.
const (
	TypePing           = "ping"
	TypeError          = "error"
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypePresenceUpdate = "update"
	TypeDeliveryFailed = "delivery_failed"
	TypeNotDelivered   = "not_delivered"
)

// PresenceSubscribe is the payload of a presence subscribe/unsubscribe frame.
type PresenceSubscribe struct {
	User string `json:"user"`
}

// FriendAction is the payload of an inbound friends frame.
type FriendAction struct {
	Action string `json:"action"`
	User   string `json:"user"`
}

// Friend actions accepted on the friends channel.
const (
	FriendActionRequest  = "request"
	FriendActionAccept   = "accept"
	FriendActionReject   = "reject"
	FriendActionCancel   = "cancel"
	FriendActionUnfriend = "unfriend"
	FriendActionBlock    = "block"
	FriendActionUnblock  = "unblock"
)

// FriendEvent is the payload of an outbound friends frame describing a
// relationship transition observed by one of the two parties.
type FriendEvent struct {
	Action string `json:"action"`
	User   string `json:"user"`
	State  string `json:"state"`
}

// PresenceUpdate is the payload of an outbound presence frame.
type PresenceUpdate struct {
	User   string `json:"user"`
	Status string `json:"status"`
	TS     int64  `json:"ts"`
}

// DeliveryFailure is the payload of a delivery_failed frame reported to the
// original sender after retries are exhausted.
type DeliveryFailure struct {
	Seq    uint64 `json:"seq"`
	User   string `json:"user"`
	Reason string `json:"reason"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
