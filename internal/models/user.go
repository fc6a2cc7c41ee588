package models

import "time"

// Role names accepted for a User.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID        int64     `json:"id" yaml:"-"`
	Username  string    `json:"username" yaml:"username"`
	Password  string    `json:"-" yaml:"-"`
	Role      string    `json:"role" yaml:"role"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ValidRole reports whether role is one the store accepts.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}
