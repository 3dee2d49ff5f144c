package core

import (
	"time"

	"github.com/dkeye/Dialogue/internal/domain"
)

// SessionID identifies one live connection. The transport assigns it and
// guarantees uniqueness per connection.
type SessionID string

// SessionSnap is a read-only copy of a registry entry, safe to use after the
// registry lock is released.
type SessionSnap struct {
	SID          SessionID
	Owner        domain.UserID
	Conn         SignalConnection
	ConnectedAt  time.Time
	LastActivity time.Time
}
