package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/platform/access"
)

// UserRepository persists users together with their role profile.
// Implementations return apperr not_found for missing users and
// apperr duplicate_email when the normalized email is taken.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Update writes the name and the profile of the user's current role.
	Update(ctx context.Context, u *User) error
	// ReplaceRole writes the new role and swaps the profile atomically.
	ReplaceRole(ctx context.Context, u *User) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*User, int, error)
	CountByRole(ctx context.Context) (map[access.Role]int, error)
}
