package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"talkmate-chat/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient(1, nil, ConnInfo{UserID: 1})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected room to be created")
	}

	hub.RemoveClient(1, nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected room to be removed")
	}
	if len(hub.connInfo) != 0 {
		t.Fatalf("expected conn info to be removed")
	}
}

// dialPair connects a client to a test server and hands the server-side conn
// to the hub under the given identity.
func dialPair(t *testing.T, hub *Hub, conversationID, userID int) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	server := <-serverConns
	hub.AddClient(conversationID, server, ConnInfo{UserID: userID, ConnID: newConnID(), ConnectedAt: time.Now()})
	return client
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChatEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var event models.ChatEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return event
}

func TestBroadcastMessageReachesRoom(t *testing.T) {
	hub := NewHub()
	client := dialPair(t, hub, 5, 2)

	hub.BroadcastMessage(5, models.Message{ID: "m-1", ConversationID: 5, Text: "hello"})

	event := readEvent(t, client)
	if event.Type != "message" {
		t.Fatalf("expected message event, got %q", event.Type)
	}
	if event.Message == nil || event.Message.ID != "m-1" {
		t.Fatalf("unexpected payload: %+v", event.Message)
	}
}

func TestBroadcastRevoke(t *testing.T) {
	hub := NewHub()
	client := dialPair(t, hub, 5, 2)

	hub.BroadcastRevoke(5, "m-1")

	event := readEvent(t, client)
	if event.Type != "revoke" || event.MessageID != "m-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestBroadcastDeletionOnlyReachesActingUser(t *testing.T) {
	hub := NewHub()
	mine := dialPair(t, hub, 5, 1)
	theirs := dialPair(t, hub, 5, 2)

	hub.BroadcastDeletion(5, "m-1", 1)

	event := readEvent(t, mine)
	if event.Type != "delete" || event.MessageID != "m-1" || event.UserID != 1 {
		t.Fatalf("unexpected event: %+v", event)
	}

	theirs.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := theirs.ReadMessage(); err == nil {
		t.Fatalf("expected no delete event for other members")
	}
}

func TestBroadcastSeen(t *testing.T) {
	hub := NewHub()
	client := dialPair(t, hub, 5, 2)

	seenAt := time.Now()
	hub.BroadcastSeen(5, 3, seenAt)

	event := readEvent(t, client)
	if event.Type != "seen" || event.UserID != 3 || event.SeenAt == nil {
		t.Fatalf("unexpected event: %+v", event)
	}
}
