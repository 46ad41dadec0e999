package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
)

// UserService provides user directory operations.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return user, nil
}

func (s *UserService) ListActive(ctx context.Context, offset, limit int) ([]*domain.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.ListActive(ctx, offset, limit)
}

func (s *UserService) ListOnline(ctx context.Context) ([]*domain.User, error) {
	return s.users.ListOnline(ctx)
}

func (s *UserService) Search(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", domain.ErrValidation)
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return s.users.Search(ctx, query, limit)
}
