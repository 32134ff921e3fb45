package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"talkmate-chat/internal/models"
	"talkmate-chat/internal/observability"
)

const eventsRoutingKey = "ws_events.conversations"

// Hub maintains active websocket rooms, one per conversation.
type Hub struct {
	rooms    map[int]map[*websocket.Conn]bool
	connInfo map[int]map[*websocket.Conn]ConnInfo
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[int]map[*websocket.Conn]bool),
		connInfo: make(map[int]map[*websocket.Conn]ConnInfo),
	}
}

// AddClient registers a websocket connection to a conversation room.
func (h *Hub) AddClient(conversationID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[conversationID][conn] = true
	if _, ok := h.connInfo[conversationID]; !ok {
		h.connInfo[conversationID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[conversationID][conn] = info
}

// RemoveClient removes a websocket connection from a conversation room.
func (h *Hub) RemoveClient(conversationID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if infos, ok := h.connInfo[conversationID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, conversationID)
		}
	}
}

// BroadcastMessage sends a confirmed message to all clients in a conversation.
func (h *Hub) BroadcastMessage(conversationID int, msg models.Message) {
	event := models.ChatEvent{Type: "message", Message: &msg}
	h.broadcast(conversationID, event, nil)
}

// BroadcastRevoke notifies clients that a message's content was retracted.
func (h *Hub) BroadcastRevoke(conversationID int, messageID string) {
	event := models.ChatEvent{Type: "revoke", MessageID: messageID}
	h.broadcast(conversationID, event, nil)
}

// BroadcastDeletion notifies the acting user's other connections of a
// delete-for-self. Other participants keep their copy, so the event is only
// written to connections authenticated as that user.
func (h *Hub) BroadcastDeletion(conversationID int, messageID string, userID int) {
	event := models.ChatEvent{Type: "delete", MessageID: messageID, UserID: userID}
	h.broadcast(conversationID, event, func(info ConnInfo) bool {
		return info.UserID == userID
	})
}

// BroadcastSeen notifies clients of a new read receipt.
func (h *Hub) BroadcastSeen(conversationID int, userID int, seenAt time.Time) {
	event := models.ChatEvent{Type: "seen", UserID: userID, SeenAt: &seenAt}
	h.broadcast(conversationID, event, nil)
}

func (h *Hub) broadcast(conversationID int, event models.ChatEvent, filter func(ConnInfo) bool) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[conversationID]))
	for conn := range h.rooms[conversationID] {
		if filter != nil {
			info, ok := h.connInfo[conversationID][conn]
			if !ok || !filter(info) {
				continue
			}
		}
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(event)
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.RemoveClient(conversationID, conn)
			h.publishWSError(conversationID, conn, err)
		}
	}
}

func (h *Hub) publishWSError(conversationID int, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(conversationID, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"conversation_id": conversationID,
			"event":           "ws_error",
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), eventsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}

func (h *Hub) getConnInfo(conversationID int, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[conversationID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
