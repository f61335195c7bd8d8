package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const sessionName = "simpleauth_session"
const sessionMaxAge = 18000 // 5h

// Session value keys. Identity fields are only meaningful while
// keyLoggedIn is true; Logout removes all of them.
const (
	keyLoggedIn  = "user_logged_in"
	keyUserID    = "user_id"
	keyUsername  = "user_username"
	keyUserRole  = "user_role"
	keySessionID = "sid"
)

// SessionManager hands out the per-request AuthSession. There is no hidden
// process-wide session state; every operation goes through the session
// object tied to the incoming request.
type SessionManager struct {
	cfg   Config
	store sessions.Store
}

func NewSessionManager(cfg Config, store sessions.Store) *SessionManager {
	return &SessionManager{cfg: cfg, store: store}
}

// Current returns the AuthSession for the request, loading (or creating) the
// underlying cookie session.
func (m *SessionManager) Current(c *gin.Context) (*AuthSession, error) {
	if v, ok := c.Get("session"); ok {
		if s, ok := v.(*AuthSession); ok && s != nil {
			return s, nil
		}
	}
	sess, err := m.store.Get(c.Request, sessionName)
	if err != nil {
		return nil, fmt.Errorf("session load failed: %w", err)
	}
	return &AuthSession{cfg: m.cfg, sess: sess, req: c.Request, w: c.Writer}, nil
}

// AuthSession wraps one client's cookie session and binds it to a logged-in
// identity. At most one live session exists per client context.
type AuthSession struct {
	cfg  Config
	sess *sessions.Session
	req  *http.Request
	w    http.ResponseWriter
}

// Login binds the session to the given identity. The session values are
// replaced wholesale and a fresh sid is issued before saving, so a
// pre-authentication identifier can never name the authenticated session
// (fixation defense). Field writes and the identifier swap land in the same
// cookie write.
func (s *AuthSession) Login(userID int64, username, role string) error {
	sid, err := generateSessionID()
	if err != nil {
		return fmt.Errorf("failed to issue session id: %w", err)
	}

	s.sess.Values = map[interface{}]interface{}{
		keyLoggedIn:  true,
		keyUserID:    userID,
		keyUsername:  username,
		keyUserRole:  role,
		keySessionID: sid,
	}
	applySessionOptions(s.cfg, s.sess)
	return s.sess.Save(s.req, s.w)
}

// Logout destroys the session entirely: all values are dropped, not just the
// logged-in flag, and the cookie is expired. Calling it on an anonymous
// session is a no-op that still succeeds.
func (s *AuthSession) Logout() error {
	s.sess.Values = map[interface{}]interface{}{}
	applySessionOptions(s.cfg, s.sess)
	s.sess.Options.MaxAge = -1 // Must be set AFTER applySessionOptions to properly delete cookie
	return s.sess.Save(s.req, s.w)
}

// IsLoggedIn reports whether the session is bound to an identity.
func (s *AuthSession) IsLoggedIn() bool {
	v, _ := s.sess.Values[keyLoggedIn].(bool)
	return v
}

// CurrentUser returns the bound identity, or ok=false for anonymous
// sessions. Callers never see identity fields without the logged-in check.
func (s *AuthSession) CurrentUser() (User, bool) {
	if !s.IsLoggedIn() {
		return User{}, false
	}
	id, _ := s.sess.Values[keyUserID].(int64)
	username, _ := s.sess.Values[keyUsername].(string)
	role, _ := s.sess.Values[keyUserRole].(string)
	return User{ID: id, Username: username, Role: role}, true
}

// HasRole reports whether the logged-in user carries the given role.
func (s *AuthSession) HasRole(role string) bool {
	u, ok := s.CurrentUser()
	return ok && u.Role == role
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (s *AuthSession) IsAdmin() bool {
	return s.HasRole(RoleAdmin)
}

// ID returns the session's current identifier nonce ("" when anonymous).
func (s *AuthSession) ID() string {
	sid, _ := s.sess.Values[keySessionID].(string)
	return sid
}

// Generic key-value accessors for collaborators that piggyback scoped state
// on the session. Outside the authentication contract; Set requires Save.

func (s *AuthSession) Set(key string, value interface{}) {
	s.sess.Values[key] = value
}

func (s *AuthSession) Get(key string) (interface{}, bool) {
	v, ok := s.sess.Values[key]
	return v, ok
}

func (s *AuthSession) Has(key string) bool {
	_, ok := s.sess.Values[key]
	return ok
}

func (s *AuthSession) Remove(key string) {
	delete(s.sess.Values, key)
}

// Save persists pending value changes to the cookie.
func (s *AuthSession) Save() error {
	applySessionOptions(s.cfg, s.sess)
	return s.sess.Save(s.req, s.w)
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
