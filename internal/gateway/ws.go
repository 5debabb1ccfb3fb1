package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/telemetry"
)

// WebSocket frames. One connection serves many turns; each turn is a
// sequence of delta frames terminated by a done frame (or one error
// frame). The welcome frame confirms the session after the upgrade.
type welcomeFrame struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type deltaFrame struct {
	Delta string `json:"delta"`
}

type doneFrame struct {
	Done bool `json:"done"`
}

// handleChatSocket returns the GET /ws/chat handler. Auth happens before
// the upgrade so unauthorized clients get a plain 401, not a doomed
// socket. Turns are processed sequentially per connection; ordering
// within a conversation comes free.
func (g *Gateway) handleChatSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := g.authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: codeUnauthorized})
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket accept failed", "user", user.ID, "error", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "connection closed") //nolint:errcheck // best-effort close

		telemetry.ActiveStreams.Inc()
		defer telemetry.ActiveStreams.Dec()

		g.logger.Info("websocket session opened", "user", user.ID)

		ctx := r.Context()

		if err := g.writeFrame(ctx, conn, welcomeFrame{Type: "welcome", Msg: "connected"}); err != nil {
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// Normal client departure is not an error worth logging loudly.
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					g.logger.Info("websocket session closed", "user", user.ID)
				} else {
					g.logger.Warn("websocket read failed", "user", user.ID, "error", err)
				}
				return
			}

			var payload turnPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				if err := g.writeFrame(ctx, conn, errorResponse{Error: codeBadJSON}); err != nil {
					return
				}
				continue
			}

			g.serveTurn(ctx, conn, user, payload.ConversationText)
		}
	}
}

// serveTurn streams one turn's reply over the socket.
func (g *Gateway) serveTurn(ctx context.Context, conn *websocket.Conn, user engine.User, text string) {
	start := time.Now()
	_, err := g.engine.Turn(ctx, engine.TurnRequest{
		User: user,
		Text: text,
		OnDelta: func(delta string) error {
			return g.writeFrame(ctx, conn, deltaFrame{Delta: delta})
		},
	})
	g.observe("ws", start, err)

	if err != nil {
		code, _ := errorCode(err)
		g.logger.Warn("chat turn failed",
			"user", user.ID,
			"transport", "ws",
			"error", err,
		)
		_ = g.writeFrame(ctx, conn, errorResponse{Error: code})
		return
	}

	_ = g.writeFrame(ctx, conn, doneFrame{Done: true})
}

// writeFrame marshals and writes one frame with the configured write
// deadline.
func (g *Gateway) writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, g.config.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
