package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnID mints a random identifier correlating one connection's lifecycle
// events. Falls back to empty on entropy failure rather than failing the
// handshake.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
