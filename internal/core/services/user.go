package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
)

type UserService struct {
	repo domain.UserRepository
	log  *slog.Logger
}

func NewUserService(log *slog.Logger, repo domain.UserRepository) *UserService {
	return &UserService{
		log:  log,
		repo: repo,
	}
}

// Profile resolves a display profile. Unknown or unreachable users yield the
// placeholder profile, never an error.
func (s *UserService) Profile(ctx context.Context, id string) domain.UserProfile {
	p, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if !isNotFound(err) {
			s.log.ErrorContext(ctx, "user - profile - lookup failed", "user_id", id, "err", err)
		}
		return domain.UserProfile{ID: id, Name: domain.UnknownUserName}
	}
	if p.Name == "" {
		p.Name = domain.UnknownUserName
	}
	return *p
}

// Lookup returns the stored profile or domain.ErrUserNotFound.
func (s *UserService) Lookup(ctx context.Context, id string) (*domain.UserProfile, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidUserID
	}
	return s.repo.GetUserByID(ctx, id)
}

// EnsureUser records the profile shown to chat partners.
func (s *UserService) EnsureUser(ctx context.Context, p domain.UserProfile) error {
	if err := domain.ValidateUserID(p.ID); err != nil {
		return err
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if err := s.repo.UpsertUser(ctx, p); err != nil {
		s.log.ErrorContext(ctx, "user - ensure user - upsert failed", "user_id", p.ID, "err", err)
		return err
	}
	s.log.InfoContext(ctx, "user - ensure user - success", "user_id", p.ID)
	return nil
}

// isNotFound reports whether err means a missing row rather than a failure.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrUserNotFound)
}
