package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
)

// MessageRepo implements domain.MessageRepository. Conversation and partner
// queries live in conversation.go and participant.go.
type MessageRepo struct {
	db *sql.DB
	tx *TxManager
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db: db,
		tx: NewTxManager(db),
	}
}

// Save inserts the message and moves the conversation's last message in one
// transaction.
func (r *MessageRepo) Save(ctx context.Context, msg *domain.Message) (bool, error) {
	if msg.ConversationID == "" {
		return false, domain.ErrInvalidConversationID
	}
	var created bool
	err := r.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if created, err = r.touchConversation(txCtx, msg); err != nil {
			return err
		}
		exec := GetExecutor(txCtx, r.db)
		_, err = exec.ExecContext(txCtx, `
			INSERT INTO chat_messages (
				id, conversation_id, from_user_id, to_user_id, text, created_at
			) VALUES ($1, $2, $3, $4, $5, $6)
		`,
			msg.ID,
			msg.ConversationID,
			msg.FromUserID,
			msg.ToUserID,
			msg.Text,
			msg.CreatedAt,
		)
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (r *MessageRepo) ListPage(
	ctx context.Context,
	convID, viewer string,
	before time.Time,
	limit int,
) (domain.MessagePage, error) {
	peer, err := domain.Peer(convID, viewer)
	if err != nil {
		return domain.MessagePage{}, err
	}
	exec := GetExecutor(ctx, r.db)
	var cursor sql.NullTime
	if !before.IsZero() {
		cursor = sql.NullTime{Time: before, Valid: true}
	}
	// one extra row tells whether older messages remain
	rows, err := exec.QueryContext(ctx, `
		SELECT id, conversation_id, from_user_id, to_user_id, text, created_at, seen, seen_at
		FROM chat_messages
		WHERE conversation_id = $1
		  AND ((from_user_id = $2 AND to_user_id = $3) OR (from_user_id = $3 AND to_user_id = $2))
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`, convID, viewer, peer, cursor, limit+1)
	if err != nil {
		return domain.MessagePage{}, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var seenAt sql.NullTime
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.FromUserID,
			&m.ToUserID,
			&m.Text,
			&m.CreatedAt,
			&m.Seen,
			&seenAt,
		); err != nil {
			return domain.MessagePage{}, err
		}
		if seenAt.Valid {
			t := seenAt.Time
			m.SeenAt = &t
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return domain.MessagePage{}, err
	}
	page := domain.MessagePage{}
	if len(msgs) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
	}
	// newest first from the query; pages are served oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	page.Messages = msgs
	return page, nil
}

// MarkSeen flips unseen messages in one statement; seen_at is written only
// on the transition so repeated calls change nothing.
func (r *MessageRepo) MarkSeen(ctx context.Context, convID, viewer string, at time.Time) (int, error) {
	peer, err := domain.Peer(convID, viewer)
	if err != nil {
		return 0, err
	}
	exec := GetExecutor(ctx, r.db)
	res, err := exec.ExecContext(ctx, `
		UPDATE chat_messages
		SET seen = TRUE, seen_at = $4
		WHERE conversation_id = $1
		  AND to_user_id = $2
		  AND from_user_id = $3
		  AND NOT seen
	`, convID, viewer, peer, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
