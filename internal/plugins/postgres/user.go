package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
)

type UserRepo struct {
	db *sql.DB
}

var _ domain.UserRepository = (*UserRepo)(nil)

func NewUserRepository(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUserByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	if id == "" {
		return nil, domain.ErrInvalidUserID
	}
	user := &domain.UserProfile{ID: id}
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, `SELECT name, avatar FROM chat_users WHERE id = $1`, id).
		Scan(&user.Name, &user.Avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) UpsertUser(ctx context.Context, p domain.UserProfile) error {
	if p.ID == "" {
		return domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO chat_users (id, name, avatar)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, avatar = EXCLUDED.avatar, updated_at = now()
	`, p.ID, p.Name, p.Avatar)
	return err
}
