package users

import "time"

// Role is the single workflow role held by a user.
type Role string

const (
	// RoleProgram proposes activity changes.
	RoleProgram Role = "PROGRAM"
	// RoleFinance reviews submitted changes at the first stage.
	RoleFinance Role = "FINANCE"
	// RoleCommittee reviews finance-approved changes at the second stage.
	RoleCommittee Role = "COMMITTEE"
	// RoleDirector holds finance and committee authority simultaneously.
	RoleDirector Role = "DIRECTOR"
)

// Elevated reports whether the role satisfies both review stages unilaterally.
func (r Role) Elevated() bool {
	return r == RoleDirector
}

// Valid reports whether the role is a known workflow role.
func (r Role) Valid() bool {
	switch r {
	case RoleProgram, RoleFinance, RoleCommittee, RoleDirector:
		return true
	}
	return false
}

// User represents a user account.
type User struct {
	ID        int64
	Email     string
	Name      string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
