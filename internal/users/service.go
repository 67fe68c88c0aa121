package users

import (
	"context"
	"fmt"
)

// RepositoryPort describes persistence operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
	ListByRoles(ctx context.Context, roles ...Role) ([]User, error)
	UpdateRole(ctx context.Context, id int64, role Role) error
}

// Service exposes the user directory.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the user service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// ListByRoles returns active users holding any of the given roles.
func (s *Service) ListByRoles(ctx context.Context, roles ...Role) ([]User, error) {
	return s.repo.ListByRoles(ctx, roles...)
}

// AssignRole changes a user's workflow role.
func (s *Service) AssignRole(ctx context.Context, id int64, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("users: unknown role %q", role)
	}
	return s.repo.UpdateRole(ctx, id, role)
}
