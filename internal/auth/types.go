package auth

import (
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// minPasswordLength is the shortest accepted password.
const minPasswordLength = 8

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read devices and telemetry.
	RoleViewer Role = "viewer"

	// RoleAdmin can additionally manage devices and users.
	RoleAdmin Role = "admin"
)

// IsValidRole returns true if the role is known.
func IsValidRole(r Role) bool {
	return r == RoleViewer || r == RoleAdmin
}

// User represents an account that can authenticate against the API.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
