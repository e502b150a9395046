package auth

import (
	"context"
	"errors"

	"github.com/kiruthick0007/library-lending/internal/port"
)

// RoleAuthorizer answers privilege checks from the user store: admins hold
// elevated privilege, everyone else does not.
type RoleAuthorizer struct {
	users port.UserRepository
}

func NewRoleAuthorizer(users port.UserRepository) *RoleAuthorizer {
	return &RoleAuthorizer{users: users}
}

func (a *RoleAuthorizer) IsPrivileged(ctx context.Context, userID string) (bool, error) {
	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsAdmin(), nil
}
