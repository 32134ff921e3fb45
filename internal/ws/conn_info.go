package ws

import "time"

// ConnInfo carries the identity and correlation metadata of one websocket
// connection, captured at handshake time. The hub uses UserID to filter
// per-user broadcasts; the rest feeds connection lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
