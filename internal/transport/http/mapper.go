package http

import (
	"encoding/json"

	"github.com/vovakirdan/pulsegate/internal/core"
	"github.com/vovakirdan/pulsegate/internal/proto"
)

func frameFromWire(in proto.Frame) core.Frame {
	return core.Frame{
		Channel: core.Channel(in.Channel),
		Type:    in.Type,
		To:      in.To,
		Payload: in.Payload,
		Seq:     in.Seq,
	}
}

func wireFromFrame(f core.Frame) proto.Frame {
	out := proto.Frame{
		Channel: string(f.Channel),
		Type:    f.Type,
		From:    f.From,
		Payload: f.Payload,
		Seq:     f.Seq,
	}
	if f.Type == core.TypeError {
		// Error frames carry the code/msg pair in the payload; surface it in
		// the envelope's error field instead.
		var perr proto.Error
		if err := json.Unmarshal(f.Payload, &perr); err == nil {
			out.Error = &perr
			out.Payload = nil
		}
	}
	return out
}

// errorFrame wraps a rejection into a frame the write loop can carry.
func errorFrame(ch core.Channel, code, msg string) core.Frame {
	payload, _ := json.Marshal(proto.Error{Code: code, Msg: msg})
	return core.Frame{
		Channel: ch,
		Type:    core.TypeError,
		Payload: payload,
	}
}

// routingError maps a router rejection onto a wire error code.
func routingError(err error) (code, msg string, ok bool) {
	switch e := err.(type) {
	case *core.ChannelError:
		return e.Code, e.Message, true
	case *core.RelationshipError:
		return e.Code, e.Message, true
	}
	return "", "", false
}
