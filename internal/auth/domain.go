package auth

import (
	"time"

	"github.com/atlas-grants/atlas-grants/internal/users"
)

// Credential is the login view of a user account, password hash included.
type Credential struct {
	ID           int64
	Email        string
	Name         string
	Role         users.Role
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
