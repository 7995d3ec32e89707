package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Email          string
	HashedPassword string
	Role           string
}

// Check whether role is one of known roles
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// Identity of the authenticated caller
// Derived from a verified access token and carried through the request explicitly
type Identity struct {
	UserID uuid.UUID
	Role   string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
