package core

import "errors"

// Error codes carried back to clients in error frames.
const (
	ErrCodeNotSubscribed       = "not_subscribed"
	ErrCodeUnknownChannel      = "unknown_channel"
	ErrCodeBadFrame            = "bad_frame"
	ErrCodePayloadTooLarge     = "payload_too_large"
	ErrCodeForbiddenTransition = "forbidden_transition"
	ErrCodeNotDelivered        = "not_delivered"
	ErrCodeDeliveryFailed      = "delivery_failed"
)

var (
	// ErrSlowConsumer is returned by a send queue that stayed over capacity
	// after dropping everything droppable.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrQueueClosed is returned when enqueueing on a closed connection.
	ErrQueueClosed = errors.New("send queue closed")
)

// ChannelError rejects a single frame; the connection stays open.
type ChannelError struct {
	Code    string
	Message string
}

func (e *ChannelError) Error() string {
	return e.Message
}

func channelError(code, msg string) *ChannelError {
	return &ChannelError{Code: code, Message: msg}
}

// RelationshipError rejects a single relationship action. It is reported to
// the initiator only, with a generic reason.
type RelationshipError struct {
	Code    string
	Message string
}

func (e *RelationshipError) Error() string {
	return e.Message
}

// NewRelationshipError builds a RelationshipError with the given code.
func NewRelationshipError(code, msg string) *RelationshipError {
	return &RelationshipError{Code: code, Message: msg}
}
