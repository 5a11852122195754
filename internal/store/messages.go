// internal/store/messages.go
package store

import (
	"context"

	"github.com/user/sessionhub/internal/types"
)

// InsertMessage records one conversation entry.
func (s *Store) InsertMessage(ctx context.Context, m *types.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (message_id, session_id, timestamp, source, content)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Timestamp, m.Source, m.Content,
	)
	return err
}

// ListMessages returns a session's messages oldest-first.
func (s *Store) ListMessages(ctx context.Context, sessionID types.SessionID, limit int) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, timestamp, source, content FROM conversations
		 WHERE session_id = ? ORDER BY timestamp ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Source, &m.Content); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of messages recorded for a session.
func (s *Store) CountMessages(ctx context.Context, sessionID types.SessionID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
