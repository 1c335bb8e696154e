package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
)

// touchConversation creates the conversation row or advances its last
// message, reporting whether the row was created. An older message never
// overwrites a newer one.
func (r *MessageRepo) touchConversation(ctx context.Context, msg *domain.Message) (bool, error) {
	pair := []string{msg.FromUserID, msg.ToUserID}
	sort.Strings(pair)
	exec := GetExecutor(ctx, r.db)
	var created bool
	err := exec.QueryRowContext(ctx, `
		INSERT INTO chat_conversations (id, user_a, user_b, last_message, last_message_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET last_message = EXCLUDED.last_message,
		    last_message_at = EXCLUDED.last_message_at
		WHERE chat_conversations.last_message_at <= EXCLUDED.last_message_at
		RETURNING (xmax = 0)
	`, msg.ConversationID, pair[0], pair[1], msg.Text, msg.CreatedAt).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		// a newer message already owns the row
		return false, nil
	}
	return created, err
}

func (r *MessageRepo) ListConversations(ctx context.Context, viewer string) ([]domain.ConversationSummary, error) {
	if viewer == "" {
		return nil, domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT c.id,
		       CASE WHEN c.user_a = $1 THEN c.user_b ELSE c.user_a END AS peer_id,
		       c.last_message,
		       c.last_message_at,
		       (SELECT COUNT(*)
		          FROM chat_messages m
		         WHERE m.conversation_id = c.id
		           AND m.to_user_id = $1
		           AND NOT m.seen) AS unread
		FROM chat_conversations c
		WHERE c.user_a = $1 OR c.user_b = $1
		ORDER BY c.last_message_at DESC, c.id
	`, viewer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		var lastAt time.Time
		if err := rows.Scan(&s.ID, &s.Peer.ID, &s.LastMessage, &lastAt, &s.UnreadCount); err != nil {
			return nil, err
		}
		s.LastMessageAt = domain.EpochMillis(lastAt)
		out = append(out, s)
	}
	return out, rows.Err()
}
