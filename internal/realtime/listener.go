package realtime

import (
	"context"
	"fmt"
	"log"

	"github.com/gorilla/websocket"

	"talkmate-chat/internal/models"
	"talkmate-chat/internal/store"
)

// Listener feeds events pushed by the chat service into a MessageStore. The
// store's duplicate guard makes overlapping history loads and pushes safe.
type Listener struct {
	conn  *websocket.Conn
	store *store.MessageStore
	done  chan struct{}
}

// Connect dials the conversation's websocket endpoint and starts dispatching
// events until the connection drops or Close is called.
func Connect(ctx context.Context, baseURL, token string, conversationID int, st *store.MessageStore) (*Listener, error) {
	url := fmt.Sprintf("%s/ws/conversations/%d?token=%s", baseURL, conversationID, token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime transport: %w", err)
	}

	l := &Listener{conn: conn, store: st, done: make(chan struct{})}
	go l.readLoop()
	return l, nil
}

// Close tears the connection down.
func (l *Listener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}

func (l *Listener) readLoop() {
	defer close(l.done)
	for {
		var event models.ChatEvent
		if err := l.conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime read error: %v", err)
			}
			return
		}
		l.dispatch(event)
	}
}

func (l *Listener) dispatch(event models.ChatEvent) {
	switch event.Type {
	case "message":
		if event.Message != nil {
			l.store.AddMessage(*event.Message)
		}
	case "revoke":
		l.store.ApplyRevoke(event.MessageID)
	case "delete":
		l.store.Remove(event.MessageID)
	case "seen":
		if event.SeenAt != nil {
			l.store.ApplySeen(event.UserID, *event.SeenAt)
		}
	default:
		log.Printf("realtime event ignored type=%s", event.Type)
	}
}
