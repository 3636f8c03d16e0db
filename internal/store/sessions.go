package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karvel/famulus/internal/provider"
)

// AppendMessage stores one conversation turn in the given session.
// Sessions are created implicitly by their first message.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string, metadata map[string]any) error {
	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO session_messages (id, session_id, role, content, metadata)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)`,
		sessionID, role, content, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns the most recent messages for a session in
// chronological order, ready to replay into a chat request.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]provider.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content
		FROM session_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []provider.Message
	for rows.Next() {
		var msg provider.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Newest-first from the query, oldest-first for the caller.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ClearSession removes every message in a session.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM session_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// PruneSession trims a session down to its keepLast newest messages.
func (s *Store) PruneSession(ctx context.Context, sessionID string, keepLast int) (int, error) {
	if keepLast <= 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		DELETE FROM session_messages
		WHERE session_id = $1
		  AND id NOT IN (
			SELECT id FROM session_messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		  )`, sessionID, keepLast)
	if err != nil {
		return 0, fmt.Errorf("prune session: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PruneOldMessages deletes messages older than keepDays across all
// sessions. Used by the maintenance cycle.
func (s *Store) PruneOldMessages(ctx context.Context, keepDays int) (int, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		DELETE FROM session_messages
		WHERE created_at < now() - make_interval(days => $1)`, keepDays)
	if err != nil {
		return 0, fmt.Errorf("prune old messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
