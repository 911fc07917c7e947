package gateway

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/m-karlsen/inquest/internal/hub"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// client is a middleman between one websocket connection and a hub
// subscription. The backlog is flushed before any live event; both travel the
// same socket in sequence order.
type client struct {
	events *hub.Hub
	sub    *hub.Subscription
	conn   *websocket.Conn
}

func newClient(events *hub.Hub, sub *hub.Subscription, conn *websocket.Conn) *client {
	return &client{
		events: events,
		sub:    sub,
		conn:   conn,
	}
}

// start begins reading and writing for the client
func (c *client) start() {
	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; the stream is one-way. Its job is to
// notice the peer going away and detach the hub subscription.
func (c *client) readPump() {
	defer func() {
		c.events.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
	}
}

// writePump flushes the subscription backlog, then pumps live events until
// the hub closes the subscription or the connection fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, event := range c.sub.Backlog {
		if !c.writeEvent(event) {
			return
		}
	}

	for {
		select {
		case event, ok := <-c.sub.Events:
			if !ok {
				// Subscription dropped: the subscriber fell behind or the
				// stream's retention expired
				if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"))
				}
				return
			}
			if !c.writeEvent(event) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) writeEvent(event models.NotificationEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal notification event")
		return false
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}
