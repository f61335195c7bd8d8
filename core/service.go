package core

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// SessionState is what AuthService needs from the session layer. AuthSession
// satisfies it; tests substitute fakes. The service never mutates session
// state itself, it delegates.
type SessionState interface {
	Login(userID int64, username, role string) error
	Logout() error
	IsLoggedIn() bool
	CurrentUser() (User, bool)
	HasRole(role string) bool
	IsAdmin() bool
}

// LoginResult is the outcome of one login attempt.
type LoginResult struct {
	Success bool
	Error   string // user-visible message when Success is false
	Err     error  // rejection kind (ErrInvalidInput, ErrUnknownUser, ...)
	User    *User
}

// AuthService orchestrates login, logout, authorization queries, and account
// creation. The rate limiter and session layer are dependencies, not owned
// state, so each is testable and swappable on its own.
type AuthService struct {
	users   UserRepository
	limiter *RateLimiter
}

func NewAuthService(users UserRepository, limiter *RateLimiter) *AuthService {
	return &AuthService{users: users, limiter: limiter}
}

// Login runs the authentication protocol for one request. Checks run in
// order and short-circuit: rate gate, input presence, credential lookup,
// password verification, session bind. Empty input and failed lookups count
// toward the client's lockout; a success clears the ledger entirely.
//
// The returned error is non-nil only for internal failures (credential store
// down, session write failed); protocol rejections come back in the result.
func (s *AuthService) Login(ctx context.Context, sess SessionState, username, password, clientIdentity string) (LoginResult, error) {
	if s.limiter.IsRateLimited(ctx, clientIdentity) {
		rlErr := &RateLimitedError{Remaining: s.limiter.RemainingLockout(ctx, clientIdentity)}
		return LoginResult{
			Error: fmt.Sprintf("Too many login attempts. Please try again in %d minute(s).", rlErr.RemainingMinutes()),
			Err:   rlErr,
		}, nil
	}

	if username == "" || password == "" {
		s.limiter.RecordAttempt(ctx, clientIdentity)
		return LoginResult{
			Error: "Please enter both username and password",
			Err:   ErrInvalidInput,
		}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	user, err := s.users.FindByUsername(lookupCtx, username)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			s.limiter.RecordAttempt(ctx, clientIdentity)
			return LoginResult{Error: "Invalid username", Err: ErrUnknownUser}, nil
		}
		// Store failure must not masquerade as a missing user.
		return LoginResult{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.limiter.RecordAttempt(ctx, clientIdentity)
		return LoginResult{Error: "Invalid password", Err: ErrInvalidPassword}, nil
	}

	if err := sess.Login(user.ID, user.Username, user.Role); err != nil {
		return LoginResult{}, fmt.Errorf("failed to bind session: %w", err)
	}
	s.limiter.ClearAttempts(ctx, clientIdentity)

	return LoginResult{
		Success: true,
		User:    &User{ID: user.ID, Username: user.Username, Role: user.Role, CreatedAt: user.CreatedAt},
	}, nil
}

// Logout destroys the session. Idempotent: logging out an anonymous session
// is a no-op, not an error.
func (s *AuthService) Logout(sess SessionState) error {
	return sess.Logout()
}

// Authorization queries delegate to the session layer.

func (s *AuthService) IsLoggedIn(sess SessionState) bool { return sess.IsLoggedIn() }

func (s *AuthService) GetCurrentUser(sess SessionState) (User, bool) { return sess.CurrentUser() }

func (s *AuthService) HasRole(sess SessionState, role string) bool { return sess.HasRole(role) }

func (s *AuthService) IsAdmin(sess SessionState) bool { return sess.IsAdmin() }

// CreateUser hashes the password and writes a new credential record,
// returning its assigned id. The exists pre-check gives a friendly error;
// the store's uniqueness constraint remains the final arbiter against
// concurrent creates. Password policy is NOT enforced here; callers that
// want it invoke ValidatePassword first.
func (s *AuthService) CreateUser(ctx context.Context, username, password, role string) (int64, error) {
	if username == "" || password == "" {
		return 0, ErrInvalidInput
	}
	if role == "" {
		role = RoleUser
	}
	if !ValidRole(role) {
		return 0, ErrRoleInvalid
	}

	_, err := s.users.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return 0, ErrUsernameTaken
	case !errors.Is(err, ErrUnknownUser):
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	return s.users.Create(ctx, username, string(hash), role)
}

// ValidatePassword applies the password policy: minimum length 8, at least
// one uppercase letter, one lowercase letter, and one digit. Returns the
// first failing reason, or nil when the password passes. Advisory only.
func (s *AuthService) ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("Password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper {
		return errors.New("Password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("Password must contain at least one lowercase letter")
	}
	if !hasDigit {
		return errors.New("Password must contain at least one number")
	}
	return nil
}
