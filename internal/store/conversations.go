package store

import (
	"context"

	"github.com/repoqa/repoqa/pkg/models"
)

// EnsureConversation idempotently creates a conversation row for the
// session. An existing conversation keeps its original scope and
// target; only the updated timestamp is refreshed.
func (s *Store) EnsureConversation(ctx context.Context, sessionID string, scope models.Scope, targetID string) error {
	const q = `
		INSERT INTO conversations (id, scope, target_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET updated_at = now();`

	_, err := s.pool.Exec(ctx, q, sessionID, string(scope), targetID)
	return err
}

// AppendMessage appends one message, strictly ordered after all prior
// messages in the session. Messages are never edited or deleted.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role models.Role, content string) error {
	const q = `
		INSERT INTO conversation_messages (conversation_id, role, content)
		VALUES ($1,$2,$3);`

	_, err := s.pool.Exec(ctx, q, sessionID, string(role), content)
	return err
}

// ConversationHistory returns up to limit messages, oldest first.
// The limit cuts from the start of the history, not the end; callers
// wanting only recent turns must window on their side.
func (s *Store) ConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	const q = `
		SELECT role, content
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY id ASC
		LIMIT $2;`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		msgs = append(msgs, models.Message{Role: models.Role(role), Content: content})
	}
	return msgs, rows.Err()
}
