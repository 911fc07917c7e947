package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/m-karlsen/inquest/internal/hub"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func newTestGateway(t *testing.T, cfg hub.Config) (*hub.Hub, *httptest.Server) {
	t.Helper()

	events := hub.NewHub(cfg)
	t.Cleanup(events.Close)

	server := httptest.NewServer(http.HandlerFunc(New(events).Subscribe))
	t.Cleanup(server.Close)
	return events, server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", query, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.NotificationEvent {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var event models.NotificationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Unmarshal event: %v", err)
	}
	return event
}

func publishProgress(events *hub.Hub, investigationID string, n int) {
	for i := 0; i < n; i++ {
		events.Publish(models.NewEvent(models.EventInvestigationProgress, investigationID, "", nil))
	}
}

func TestSubscribeStreamsBacklogThenLiveEvents(t *testing.T) {
	events, server := newTestGateway(t, hub.Config{})

	publishProgress(events, "inv-1", 3)

	conn := dial(t, server, "investigation_id=inv-1")

	for want := uint64(1); want <= 3; want++ {
		event := readEvent(t, conn)
		if event.SequenceNumber != want {
			t.Fatalf("backlog sequence = %d, want %d", event.SequenceNumber, want)
		}
	}

	publishProgress(events, "inv-1", 1)
	if event := readEvent(t, conn); event.SequenceNumber != 4 {
		t.Fatalf("live sequence = %d, want 4", event.SequenceNumber)
	}
}

func TestSubscribeResumesAfterSequence(t *testing.T) {
	events, server := newTestGateway(t, hub.Config{})

	publishProgress(events, "inv-1", 5)

	conn := dial(t, server, "investigation_id=inv-1&last_sequence_number=3")

	for want := uint64(4); want <= 5; want++ {
		event := readEvent(t, conn)
		if event.SequenceNumber != want {
			t.Fatalf("resumed sequence = %d, want %d", event.SequenceNumber, want)
		}
	}
}

func TestSubscribeSignalsSequenceGap(t *testing.T) {
	events, server := newTestGateway(t, hub.Config{BufferSize: 4})

	// Overflow the ring so early events are evicted
	publishProgress(events, "inv-1", 10)

	conn := dial(t, server, "investigation_id=inv-1&last_sequence_number=2")

	event := readEvent(t, conn)
	if event.Type != models.EventSystemAlert {
		t.Fatalf("event type = %s, want system_alert", event.Type)
	}
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("alert payload type %T", event.Payload)
	}
	if payload["reason"] != "sequence_gap" {
		t.Errorf("alert reason = %v, want sequence_gap", payload["reason"])
	}

	// The connection is closed after the alert
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection still open after sequence gap alert")
	}
}

func TestSubscribeRequiresInvestigationID(t *testing.T) {
	_, server := newTestGateway(t, hub.Config{})

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestSubscribeRejectsMalformedSequence(t *testing.T) {
	_, server := newTestGateway(t, hub.Config{})

	resp, err := http.Get(server.URL + "?investigation_id=inv-1&last_sequence_number=abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestDisconnectDetachesSubscriber(t *testing.T) {
	events, server := newTestGateway(t, hub.Config{})

	publishProgress(events, "inv-1", 1)
	conn := dial(t, server, "investigation_id=inv-1")
	readEvent(t, conn)

	if got := events.SubscriberCount("inv-1"); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for events.SubscriberCount("inv-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not detached after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
