package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulsegate/internal/auth"
	"github.com/vovakirdan/pulsegate/internal/core"
	"github.com/vovakirdan/pulsegate/internal/proto"
)

// writeAttempts bounds retries of a transient socket write failure before
// the connection is torn down.
const writeAttempts = 3

// WSHandler upgrades HTTP connections and bridges them to core connections.
// The verifier is the sole gate: no frame is processed pre-verification, and
// a rejected upgrade allocates no socket resources.
type WSHandler struct {
	hub      *core.Hub
	verifier *auth.Verifier
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, verifier *auth.Verifier, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, verifier: verifier, log: logger}
}

// Channel returns the upgrade handler for one channel path. The path grants
// that channel's subscription; ?channels= may widen it for a multiplexed
// socket.
func (h *WSHandler) Channel(primary core.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serve(c.Writer, c.Request, primary)
	}
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, primary core.Channel) {
	identity, err := h.verifier.VerifyUpgrade(r)
	if err != nil {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("upgrade rejected")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := h.hub.NewConn(identity.UserID, subscriptions(primary, r.URL.Query().Get("channels"))...)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// subscriptions resolves the channel set for a new connection.
func subscriptions(primary core.Channel, extra string) []core.Channel {
	channels := []core.Channel{primary}
	for _, name := range strings.Split(extra, ",") {
		ch := core.Channel(strings.TrimSpace(name))
		if ch == primary || !ch.Known() {
			continue
		}
		channels = append(channels, ch)
	}
	return channels
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		var inbound proto.Frame
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if err := h.hub.Route(ctx, client, frameFromWire(inbound)); err != nil {
			code, msg, ok := routingError(err)
			if !ok {
				h.log.Error().Err(err).Str("user_id", client.UserID).Msg("unexpected routing error")
				code, msg = core.ErrCodeBadFrame, "frame rejected"
			}
			// Rejections go back to this connection only; it stays open.
			_ = client.Enqueue(errorFrame(core.Channel(inbound.Channel), code, msg))
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		f, ok := client.NextFrame(ctx)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if err := h.writeFrame(ctx, conn, wireFromFrame(f)); err != nil {
			h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("write ws frame")
			return err
		}
	}
}

// writeFrame retries a failed write a bounded number of times before the
// connection is declared dead.
func (h *WSHandler) writeFrame(ctx context.Context, conn *websocket.Conn, out proto.Frame) error {
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = wsjson.Write(ctx, conn, out); err == nil {
			return nil
		}
		if ctx.Err() != nil || websocket.CloseStatus(err) != 0 {
			return err
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
