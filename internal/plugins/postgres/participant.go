package postgres

import (
	"context"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
)

// ListPartners returns every user sharing a conversation with userID.
func (r *MessageRepo) ListPartners(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT user_b FROM chat_conversations WHERE user_a = $1
		UNION
		SELECT user_a FROM chat_conversations WHERE user_b = $1
		ORDER BY 1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
