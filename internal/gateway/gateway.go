// Package gateway exposes investigation event streams over websocket. A
// client subscribes to one investigation, optionally resuming from its last
// seen sequence number, and receives the buffered backlog followed by live
// events in a single ordered stream.
package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/m-karlsen/inquest/internal/hub"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
)

// Gateway upgrades HTTP requests to websocket subscriptions on the event hub
type Gateway struct {
	events   *hub.Hub
	upgrader websocket.Upgrader
}

// New creates a gateway serving subscriptions from the given hub
func New(events *hub.Hub) *Gateway {
	return &Gateway{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Subscribe handles a websocket subscription for one investigation. The
// investigation ID comes from the investigation_id query parameter; an
// optional last_sequence_number resumes the stream after that event. When the
// requested resume point is no longer buffered, the client receives a single
// system alert naming the gap and the connection is closed: it must not
// believe it resumed seamlessly.
func (g *Gateway) Subscribe(w http.ResponseWriter, r *http.Request) {
	investigationID := r.URL.Query().Get("investigation_id")
	if investigationID == "" {
		http.Error(w, "investigation_id is required", http.StatusBadRequest)
		return
	}

	var afterSeq uint64
	if raw := r.URL.Query().Get("last_sequence_number"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "last_sequence_number must be a non-negative integer", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub, err := g.events.Subscribe(investigationID, afterSeq)
	if err != nil {
		if errors.Is(err, hub.ErrSequenceGap) {
			g.closeWithGapAlert(conn, investigationID, afterSeq)
			return
		}
		logging.Error().Err(err).Str("investigation_id", investigationID).Msg("subscribe failed")
		_ = conn.Close()
		return
	}

	logging.Debug().
		Str("investigation_id", investigationID).
		Uint64("after_sequence", afterSeq).
		Int("backlog", len(sub.Backlog)).
		Msg("websocket subscriber attached")

	newClient(g.events, sub, conn).start()
}

// closeWithGapAlert tells the client its resume point is gone, then closes.
// The alert is the last thing the client sees, so it cannot mistake the
// stream for a seamless continuation.
func (g *Gateway) closeWithGapAlert(conn *websocket.Conn, investigationID string, afterSeq uint64) {
	defer conn.Close()

	alert := models.NewEvent(models.EventSystemAlert, investigationID, "", models.SystemAlertPayload{
		Reason: "sequence_gap",
		Detail: "events after the requested sequence number are no longer buffered",
	})

	data, err := json.Marshal(alert)
	if err != nil {
		return
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "sequence gap"))

	logging.Warn().
		Str("investigation_id", investigationID).
		Uint64("after_sequence", afterSeq).
		Msg("rejected subscription with evicted resume point")
}
