package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// fakeUserRepo is an in-memory UserRepository shared by service and router tests.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*UserRecord
	nextID int64
	// lookupErr, when set, is returned by FindByUsername unconditionally.
	lookupErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*UserRecord)}
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	u, ok := r.users[username]
	if !ok {
		return nil, ErrUnknownUser
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) Create(_ context.Context, username, passwordHash, role string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[username]; ok {
		return 0, ErrUsernameTaken
	}
	r.nextID++
	r.users[username] = &UserRecord{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	return r.nextID, nil
}

func (r *fakeUserRepo) HasAdmin(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Role == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) CountUsers(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), nil
}

func (r *fakeUserRepo) List(_ context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]AdminUserListItem, 0, len(r.users))
	for _, u := range r.users {
		items = append(items, AdminUserListItem{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt})
	}
	return items, len(r.users), nil
}

// fakeSessionState records binding calls for protocol assertions.
type fakeSessionState struct {
	loggedIn    bool
	user        User
	loginErr    error
	logoutCalls int
}

func (f *fakeSessionState) Login(userID int64, username, role string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	f.user = User{ID: userID, Username: username, Role: role}
	return nil
}

func (f *fakeSessionState) Logout() error {
	f.logoutCalls++
	f.loggedIn = false
	f.user = User{}
	return nil
}

func (f *fakeSessionState) IsLoggedIn() bool { return f.loggedIn }

func (f *fakeSessionState) CurrentUser() (User, bool) {
	if !f.loggedIn {
		return User{}, false
	}
	return f.user, true
}

func (f *fakeSessionState) HasRole(role string) bool {
	return f.loggedIn && f.user.Role == role
}

func (f *fakeSessionState) IsAdmin() bool { return f.HasRole(RoleAdmin) }

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func seedUser(t *testing.T, repo *fakeUserRepo, username, password, role string) {
	t.Helper()
	if _, err := repo.Create(context.Background(), username, mustHash(t, password), role); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
}

type serviceHarness struct {
	svc   *AuthService
	repo  *fakeUserRepo
	store *MemoryAttemptStore
	rl    *RateLimiter
	clock *fakeClock
}

func newServiceHarness() *serviceHarness {
	repo := newFakeUserRepo()
	store := NewMemoryAttemptStore()
	rl, clock := newTestLimiter(store)
	return &serviceHarness{
		svc:   NewAuthService(repo, rl),
		repo:  repo,
		store: store,
		rl:    rl,
		clock: clock,
	}
}

func (h *serviceHarness) ledgerLen(t *testing.T, identity string) int {
	t.Helper()
	attempts, err := h.store.Get(context.Background(), identity)
	if err != nil {
		t.Fatalf("ledger read: %v", err)
	}
	return len(attempts)
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()
	seedUser(t, h.repo, "alice", "Secret123", RoleAdmin)
	sess := &fakeSessionState{}

	// A prior failure must not survive the successful boundary.
	h.rl.RecordAttempt(ctx, "10.0.0.1")

	result, err := h.svc.Login(ctx, sess, "alice", "Secret123", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !result.Success {
		t.Fatalf("login rejected: %s", result.Error)
	}
	if result.User == nil || result.User.Username != "alice" || result.User.Role != RoleAdmin {
		t.Fatalf("result user mismatch: %+v", result.User)
	}
	if !sess.loggedIn || sess.user.Username != "alice" || sess.user.Role != RoleAdmin {
		t.Fatalf("session not bound: %+v", sess)
	}
	if got := h.ledgerLen(t, "10.0.0.1"); got != 0 {
		t.Fatalf("ledger not cleared on success: %d entries", got)
	}
}

func TestLoginEmptyInputCountsTowardLockout(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()
	sess := &fakeSessionState{}

	for i, pair := range [][2]string{{"", "x"}, {"x", ""}} {
		result, err := h.svc.Login(ctx, sess, pair[0], pair[1], "10.0.0.1")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if result.Success {
			t.Fatalf("empty input accepted")
		}
		if !errors.Is(result.Err, ErrInvalidInput) {
			t.Fatalf("rejection kind = %v, want ErrInvalidInput", result.Err)
		}
		if result.Error != "Please enter both username and password" {
			t.Fatalf("message = %q", result.Error)
		}
		if got := h.ledgerLen(t, "10.0.0.1"); got != i+1 {
			t.Fatalf("ledger = %d after %d empty attempts", got, i+1)
		}
	}
	if sess.loggedIn {
		t.Fatalf("session bound on rejected login")
	}
}

func TestLoginUnknownUser(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()
	sess := &fakeSessionState{}

	result, err := h.svc.Login(ctx, sess, "ghost", "anything", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Success || !errors.Is(result.Err, ErrUnknownUser) {
		t.Fatalf("result = %+v, want unknown-user rejection", result)
	}
	if result.Error != "Invalid username" {
		t.Fatalf("message = %q", result.Error)
	}
	if got := h.ledgerLen(t, "10.0.0.1"); got != 1 {
		t.Fatalf("ledger = %d, want 1", got)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()
	seedUser(t, h.repo, "alice", "Secret123", RoleUser)
	sess := &fakeSessionState{}

	result, err := h.svc.Login(ctx, sess, "alice", "wrong", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Success || !errors.Is(result.Err, ErrInvalidPassword) {
		t.Fatalf("result = %+v, want invalid-password rejection", result)
	}
	if result.Error != "Invalid password" {
		t.Fatalf("message = %q", result.Error)
	}
	if got := h.ledgerLen(t, "10.0.0.1"); got != 1 {
		t.Fatalf("ledger = %d, want 1", got)
	}
	if sess.loggedIn {
		t.Fatalf("session bound on wrong password")
	}
}

func TestLoginRateLimitedShortCircuits(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()
	// Lookup must never run once the client is locked out.
	h.repo.lookupErr = errors.New("lookup should not be reached")
	sess := &fakeSessionState{}

	for i := 0; i < h.rl.MaxAttempts; i++ {
		h.rl.RecordAttempt(ctx, "10.0.0.1")
	}

	result, err := h.svc.Login(ctx, sess, "alice", "Secret123", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Success {
		t.Fatalf("locked-out login accepted")
	}
	var rl *RateLimitedError
	if !errors.As(result.Err, &rl) {
		t.Fatalf("rejection kind = %v, want RateLimitedError", result.Err)
	}
	if !strings.Contains(result.Error, "Too many login attempts") {
		t.Fatalf("message = %q", result.Error)
	}
	if !strings.Contains(result.Error, "5 minute(s)") {
		t.Fatalf("message lacks ceiling-rounded minutes: %q", result.Error)
	}
	// The rejection itself does not extend the ledger.
	if got := h.ledgerLen(t, "10.0.0.1"); got != h.rl.MaxAttempts {
		t.Fatalf("ledger = %d, want %d", got, h.rl.MaxAttempts)
	}
}

func TestLoginStoreFailureIsNotUnknownUser(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()
	h.repo.lookupErr = ErrStoreUnavailable
	sess := &fakeSessionState{}

	_, err := h.svc.Login(ctx, sess, "alice", "Secret123", "10.0.0.1")
	if err == nil {
		t.Fatalf("store failure did not surface as an error")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
	if got := h.ledgerLen(t, "10.0.0.1"); got != 0 {
		t.Fatalf("store failure recorded an attempt")
	}
}

func TestAttemptCountResetsAcrossSuccess(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()
	seedUser(t, h.repo, "alice", "Secret123", RoleUser)
	sess := &fakeSessionState{}

	for i := 0; i < h.rl.MaxAttempts-1; i++ {
		if _, err := h.svc.Login(ctx, sess, "alice", "wrong", "10.0.0.1"); err != nil {
			t.Fatalf("failed login: %v", err)
		}
	}

	result, err := h.svc.Login(ctx, sess, "alice", "Secret123", "10.0.0.1")
	if err != nil || !result.Success {
		t.Fatalf("success login failed: %v %+v", err, result)
	}

	// One more failure starts the count from zero, not from MaxAttempts-1.
	if _, err := h.svc.Login(ctx, sess, "alice", "wrong", "10.0.0.1"); err != nil {
		t.Fatalf("post-success failure: %v", err)
	}
	if got := h.ledgerLen(t, "10.0.0.1"); got != 1 {
		t.Fatalf("ledger = %d after success boundary, want 1", got)
	}
	if h.rl.IsRateLimited(ctx, "10.0.0.1") {
		t.Fatalf("lockout inherited across a successful login")
	}
}

func TestLogoutDelegatesAndIsIdempotent(t *testing.T) {
	h := newServiceHarness()
	sess := &fakeSessionState{loggedIn: true, user: User{ID: 1, Username: "alice", Role: RoleUser}}

	if err := h.svc.Logout(sess); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.svc.Logout(sess); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if sess.logoutCalls != 2 || h.svc.IsLoggedIn(sess) {
		t.Fatalf("logout not idempotent: calls=%d loggedIn=%v", sess.logoutCalls, sess.loggedIn)
	}
}

func TestAuthorizationQueriesDelegate(t *testing.T) {
	h := newServiceHarness()
	sess := &fakeSessionState{loggedIn: true, user: User{ID: 1, Username: "alice", Role: RoleAdmin}}

	if !h.svc.IsLoggedIn(sess) || !h.svc.IsAdmin(sess) || !h.svc.HasRole(sess, RoleAdmin) {
		t.Fatalf("admin predicates false for admin session")
	}
	user, ok := h.svc.GetCurrentUser(sess)
	if !ok || user.Username != "alice" {
		t.Fatalf("current user = %+v, %v", user, ok)
	}

	anon := &fakeSessionState{}
	if h.svc.IsLoggedIn(anon) || h.svc.IsAdmin(anon) {
		t.Fatalf("anonymous session passed predicates")
	}
	if _, ok := h.svc.GetCurrentUser(anon); ok {
		t.Fatalf("anonymous session returned a user")
	}
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()

	id, err := h.svc.CreateUser(ctx, "alice", "Secret123", RoleUser)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatalf("no id assigned")
	}

	stored, err := h.repo.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("find created user: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Secret123")) != nil {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := h.svc.CreateUser(ctx, "alice", "Other1234", RoleUser); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate create error = %v, want ErrUsernameTaken", err)
	}
	if _, err := h.svc.CreateUser(ctx, "bob", "Secret123", "superuser"); !errors.Is(err, ErrRoleInvalid) {
		t.Fatalf("bad role error = %v, want ErrRoleInvalid", err)
	}
	if _, err := h.svc.CreateUser(ctx, "", "Secret123", RoleUser); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty username error = %v, want ErrInvalidInput", err)
	}
	if _, err := h.svc.CreateUser(ctx, "bob", "", RoleUser); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty password error = %v, want ErrInvalidInput", err)
	}
}

func TestCreateUserDefaultsToUserRole(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness()

	if _, err := h.svc.CreateUser(ctx, "carol", "Secret123", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := h.repo.FindByUsername(ctx, "carol")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Role != RoleUser {
		t.Fatalf("default role = %q, want %q", stored.Role, RoleUser)
	}
}

func TestCreateUserDoesNotEnforcePasswordPolicy(t *testing.T) {
	// The policy check is advisory; createUser accepts what callers send.
	ctx := context.Background()
	h := newServiceHarness()

	if _, err := h.svc.CreateUser(ctx, "dave", "weak", RoleUser); err != nil {
		t.Fatalf("weak password rejected by CreateUser: %v", err)
	}
}

func TestValidatePassword(t *testing.T) {
	h := newServiceHarness()

	cases := []struct {
		password string
		want     string
	}{
		{"short1A", "Password must be at least 8 characters long"},
		{"alllowercase1", "Password must contain at least one uppercase letter"},
		{"ALLUPPERCASE1", "Password must contain at least one lowercase letter"},
		{"NoDigitsHere", "Password must contain at least one number"},
		{"ValidPass1", ""},
	}
	for _, tc := range cases {
		err := h.svc.ValidatePassword(tc.password)
		if tc.want == "" {
			if err != nil {
				t.Fatalf("ValidatePassword(%q) = %v, want success", tc.password, err)
			}
			continue
		}
		if err == nil || err.Error() != tc.want {
			t.Fatalf("ValidatePassword(%q) = %v, want %q", tc.password, err, tc.want)
		}
	}
}
