// internal/types/ids.go
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SessionID string
type ActionID string
type MessageID string
type SnapshotID string

// NewSessionID derives a session ID from the creation time. Second
// resolution keeps IDs human-readable and sortable; callers disambiguate
// collisions with CollidedSessionID.
func NewSessionID(t time.Time) SessionID {
	return SessionID(t.Format("20060102150405"))
}

// CollidedSessionID returns the nth disambiguation of a session ID that
// already exists in the store.
func CollidedSessionID(base SessionID, n int) SessionID {
	return SessionID(fmt.Sprintf("%s-%d", base, n))
}

// ResumedSessionID derives the ID of a session that continues a crashed
// one, keeping the parent visible in the ID for human-traceable lineage.
func ResumedSessionID(parent SessionID, t time.Time) SessionID {
	return SessionID(fmt.Sprintf("%s_resumed_%s", parent, t.Format("20060102150405")))
}

func NewActionID() ActionID {
	return ActionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewSnapshotID() SnapshotID {
	return SnapshotID(uuid.New().String())
}
