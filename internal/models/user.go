package models

import (
	"time"
)

// Role represents a user's permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User represents a system user with RBAC.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose in JSON
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUser creates a new User with initialized timestamps.
func NewUser(username, email string, role Role) *User {
	now := time.Now()
	return &User{
		Username:  username,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsAdmin returns true if user has admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Identity returns the request-scoped view of the user.
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// ParseRole converts a string to Role.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	default:
		return RoleUser
	}
}

// Identity is the authenticated caller as seen by a single request.
// The zero value is an anonymous caller.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Authenticated reports whether the identity carries a user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// IsAdmin returns true if the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Authenticated() && i.Role == RoleAdmin
}
