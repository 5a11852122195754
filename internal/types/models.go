// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCrashed   SessionStatus = "CRASHED"
)

type ActionStatus string

const (
	ActionStarted   ActionStatus = "STARTED"
	ActionCompleted ActionStatus = "COMPLETED"
	ActionFailed    ActionStatus = "FAILED"
	ActionCanceled  ActionStatus = "CANCELED"
)

// RelationResume marks a session that continues a crashed parent.
const RelationResume = "RESUME"

// Session is the store row for one tracked session. EndTime stays nil
// until the session reaches a terminal status.
type Session struct {
	ID           SessionID     `json:"session_id"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
	Status       SessionStatus `json:"status"`
	Summary      string        `json:"summary,omitempty"`
	MessageCount int64         `json:"message_count,omitempty"`
	ResumedFrom  SessionID     `json:"resumed_from,omitempty"`
}

// Relationship is a directed, immutable edge between two sessions.
type Relationship struct {
	ParentID SessionID `json:"parent_session_id"`
	ChildID  SessionID `json:"child_session_id"`
	Type     string    `json:"relation_type"`
}

// Action is one durable unit of work scoped to a session. Params and
// Result are opaque payloads decoded lazily by callers.
type Action struct {
	ID        ActionID        `json:"action_id"`
	SessionID SessionID       `json:"session_id"`
	Type      string          `json:"action_type"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Status    ActionStatus    `json:"status"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Message is one recorded conversation entry.
type Message struct {
	ID        MessageID `json:"message_id"`
	SessionID SessionID `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
}

// SnapshotMeta identifies one state snapshot without its payload.
type SnapshotMeta struct {
	ID        SnapshotID `json:"snapshot_id"`
	SessionID SessionID  `json:"session_id"`
	Timestamp time.Time  `json:"timestamp"`
}

// Snapshot is a full state snapshot row. State holds the serialized
// SessionState exactly as it was written.
type Snapshot struct {
	SnapshotMeta
	State json.RawMessage `json:"state"`
}

// ActionStats summarizes a session's action history.
type ActionStats struct {
	Total        int64            `json:"total"`
	StatusCounts map[string]int64 `json:"status_counts"`
	TypeCounts   map[string]int64 `json:"type_counts"`
}

// SessionState is the on-disk mirror of a session's full state: the
// document written to state.json and the payload of every snapshot row.
type SessionState struct {
	SessionID         SessionID                  `json:"session_id"`
	OriginalSessionID SessionID                  `json:"original_session_id,omitempty"`
	ResumedFrom       SessionID                  `json:"resumed_from,omitempty"`
	StartTime         time.Time                  `json:"start_time"`
	EndTime           *time.Time                 `json:"end_time,omitempty"`
	Status            SessionStatus              `json:"status,omitempty"`
	Summary           string                     `json:"summary,omitempty"`
	Messages          []StateMessage             `json:"messages"`
	Context           map[string]json.RawMessage `json:"context"`
	Actions           []StateAction              `json:"actions,omitempty"`
	LastModified      time.Time                  `json:"last_modified"`
}

// NewSessionState returns an empty state for a freshly started session.
func NewSessionState(id SessionID, start time.Time) *SessionState {
	return &SessionState{
		SessionID:    id,
		StartTime:    start,
		Messages:     []StateMessage{},
		Context:      map[string]json.RawMessage{},
		LastModified: start,
	}
}

// StateMessage mirrors a Message inside the state document.
type StateMessage struct {
	ID        MessageID `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
}

// StateAction mirrors an Action inside the state document. The store row
// is authoritative; this mirror exists so a resumed session sees its
// in-flight work without a store round trip.
type StateAction struct {
	ID        ActionID        `json:"action_id"`
	Type      string          `json:"action_type"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Status    ActionStatus    `json:"status"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}
