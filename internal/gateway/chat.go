package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/quota"
	"github.com/parleyhq/parley/internal/telemetry"
)

// turnPayload is the inbound turn request on both transports.
type turnPayload struct {
	ConversationText string `json:"conversation_text"`
}

// chatResponse is the JSON body for a successful POST /chat turn.
type chatResponse struct {
	Message        string `json:"message"`
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// errorResponse carries a stable error code to the client.
type errorResponse struct {
	Error string `json:"error"`
}

// handleChat returns the POST /chat handler: one full turn per request,
// reply delivered whole.
func (g *Gateway) handleChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := g.authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: codeUnauthorized})
			return
		}

		var payload turnPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeBadJSON})
			return
		}

		start := time.Now()
		result, err := g.engine.Turn(r.Context(), engine.TurnRequest{
			User: user,
			Text: payload.ConversationText,
		})
		g.observe("http", start, err)

		if err != nil {
			code, status := errorCode(err)
			g.logger.Warn("chat turn failed",
				"user", user.ID,
				"transport", "http",
				"error", err,
			)
			writeJSON(w, status, errorResponse{Error: code})
			return
		}

		writeJSON(w, http.StatusOK, chatResponse{
			Message:        payload.ConversationText,
			Response:       result.Reply,
			ConversationID: result.ConversationID,
		})
	}
}

// observe records the per-turn metrics shared by both transports.
func (g *Gateway) observe(transport string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, quota.ErrDailyLimit):
		outcome = "rejected"
		telemetry.QuotaRejectionsTotal.Inc()
	case err != nil:
		outcome = "error"
	}
	telemetry.TurnsTotal.WithLabelValues(transport, outcome).Inc()
	telemetry.TurnDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
