package gateway

import (
	"crypto/rand"
	"encoding/hex"
)

// NewTransactionID returns a random correlation token for a gateway request.
// Janus echoes the token back on matching responses and events.
func NewTransactionID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process is in a very bad state.
		panic(err)
	}
	return hex.EncodeToString(b)
}
