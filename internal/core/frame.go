package core

// Channel is a logical message category multiplexed over connections.
type Channel string

const (
	// ChannelChat carries opaque chat payloads between users.
	ChannelChat Channel = "chat"
	// ChannelFriends carries relationship events (request/accept/block/...).
	ChannelFriends Channel = "friends"
	// ChannelGame carries opaque game-session payloads.
	ChannelGame Channel = "game"
	// ChannelPresence carries derived status updates. Every connection is
	// implicitly subscribed; presence frames are droppable under pressure.
	ChannelPresence Channel = "presence"
)

// Known returns true for channels a client may subscribe to explicitly.
func (c Channel) Known() bool {
	switch c {
	case ChannelChat, ChannelFriends, ChannelGame:
		return true
	}
	return false
}

// Frame types the core produces or intercepts itself. Everything else
// passes through as opaque channel traffic.
const (
	TypePing           = "ping"
	TypeError          = "error"
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypePresenceUpdate = "update"
	TypeDeliveryFailed = "delivery_failed"
	TypeNotDelivered   = "not_delivered"
)

// Frame is the domain unit routed through the core. Payload is opaque bytes;
// the core never interprets chat or game semantics.
type Frame struct {
	Channel Channel
	Type    string
	From    string
	To      []string
	Payload []byte
	Seq     uint64
}

// Critical reports whether the frame must survive send-queue pressure.
// Presence updates are the only droppable class.
func (f Frame) Critical() bool {
	return f.Channel != ChannelPresence
}
