package core

import (
	"errors"
	"fmt"
	"time"
)

// Roles assignable to users.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ValidRole reports whether role is one of the assignable roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// User represents an authenticated principal returned to handlers.
type User struct {
	ID        int64
	Username  string
	Role      string
	CreatedAt time.Time
}

var (
	// ErrInvalidInput is returned when username or password is missing.
	ErrInvalidInput = errors.New("username and password are required")

	// ErrUnknownUser is returned when no user matches the supplied username.
	ErrUnknownUser = errors.New("invalid username")

	// ErrInvalidPassword is returned when the password does not match.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrRoleInvalid is returned for roles outside {admin, user}.
	ErrRoleInvalid = errors.New("invalid role, must be admin or user")

	// ErrUsernameTaken is returned when creating a user whose name exists.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrStoreUnavailable is returned when the credential store fails.
	// Lookup I/O failures surface as this, never as ErrUnknownUser.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// RateLimitedError is returned when an identity is locked out. Remaining is
// the time left until the lockout window slides open.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts, try again in %d minute(s)", e.RemainingMinutes())
}

// RemainingMinutes is the remaining lockout rounded up to whole minutes.
func (e *RateLimitedError) RemainingMinutes() int {
	minutes := int((e.Remaining + time.Minute - 1) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	return minutes
}
