// Package fake provides an in-memory job-board backend implementing every iam service.
//
// Use fake.New() in unit tests to avoid network calls. Tokens are opaque strings
// registered with WithUser; login, verification and social flows hand them out.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
)

// Option configures the fake backend.
type Option func(*state)

type state struct {
	mu       sync.RWMutex
	users    map[string]*iam.Identity // token → identity
	accounts map[string]account       // email → account
	codes    map[string]string        // email+code → token
	social   map[string]string        // provider+code → token
	failure  error
	calls    map[string]int
	nextID   int
}

type account struct {
	password string
	token    string
}

// WithUser registers a token that resolves to an identity with the given role names.
func WithUser(token, id, email string, roleNames []string) Option {
	return func(s *state) {
		roles := make([]iam.Role, len(roleNames))
		for i, name := range roleNames {
			roles[i] = iam.Role{ID: name, Name: name}
		}
		s.users[token] = &iam.Identity{
			ID:     id,
			Name:   email,
			Email:  email,
			Status: iam.StatusActive,
			Roles:  roles,
		}
	}
}

// WithIdentity registers a token that resolves to the given identity.
func WithIdentity(token string, identity iam.Identity) Option {
	return func(s *state) {
		id := identity
		s.users[token] = &id
	}
}

// WithAccount lets email/password log in and receive token.
func WithAccount(email, password, token string) Option {
	return func(s *state) {
		s.accounts[email] = account{password: password, token: token}
	}
}

// WithVerificationCode lets VerifyCode(email, code) receive token.
func WithVerificationCode(email, code, token string) Option {
	return func(s *state) {
		s.codes[email+"\x00"+code] = token
	}
}

// WithSocialCode lets SocialCallback(provider, code) receive token.
func WithSocialCode(provider, code, token string) Option {
	return func(s *state) {
		s.social[provider+"\x00"+code] = token
	}
}

// WithFailure makes every call fail with err, simulating an unreachable backend.
func WithFailure(err error) Option {
	return func(s *state) { s.failure = err }
}

// RegistrationCode is the one-time code issued to every account created by Register.
const RegistrationCode = "000000"

// Backend is the in-memory backend.
type Backend struct{ s *state }

var (
	_ iam.IdentityService = (*Backend)(nil)
	_ iam.TokenValidator  = (*Backend)(nil)
	_ iam.Authenticator   = (*Backend)(nil)
)

// New creates an in-memory backend.
func New(opts ...Option) *Backend {
	s := &state{
		users:    make(map[string]*iam.Identity),
		accounts: make(map[string]account),
		codes:    make(map[string]string),
		social:   make(map[string]string),
		calls:    make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	return &Backend{s: s}
}

// NewClient creates an *iam.Client with all services wired to a fresh fake backend.
func NewClient(creds iam.CredentialStore, opts ...Option) *iam.Client {
	b := New(opts...)
	c, _ := iam.NewClient(
		iam.Config{Endpoint: "fake://localhost"},
		iam.WithCredentialStore(creds),
		iam.WithIdentityService(b),
		iam.WithTokenValidator(b),
		iam.WithAuthenticator(b),
	)
	return c
}

// SetFailure switches the simulated outage on (non-nil) or off (nil).
func (b *Backend) SetFailure(err error) {
	b.s.mu.Lock()
	b.s.failure = err
	b.s.mu.Unlock()
}

// Revoke invalidates a token, as an expiry on the backend would.
func (b *Backend) Revoke(token string) {
	b.s.mu.Lock()
	delete(b.s.users, token)
	b.s.mu.Unlock()
}

// Calls returns how many times the named operation was invoked
// ("whoami", "validate", "login", "register", "verify", "social", "logout").
func (b *Backend) Calls(op string) int {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.calls[op]
}

// begin counts the call and reports the simulated outage, if any.
func (b *Backend) begin(op string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.calls[op]++
	return b.s.failure
}

// --- IdentityService ---

func (b *Backend) WhoAmI(_ context.Context, token string) (*iam.Identity, error) {
	if err := b.begin("whoami"); err != nil {
		return nil, err
	}
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	user, ok := b.s.users[token]
	if !ok {
		return nil, fmt.Errorf("iam/fake: unknown token: %w", iam.ErrUnauthenticated)
	}
	cp := *user
	return &cp, nil
}

// --- TokenValidator ---

func (b *Backend) Validate(_ context.Context, token string) (*iam.Claims, error) {
	if err := b.begin("validate"); err != nil {
		return nil, err
	}
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	user, ok := b.s.users[token]
	if !ok {
		return nil, fmt.Errorf("iam/fake: unknown token: %w", iam.ErrUnauthenticated)
	}
	return &iam.Claims{
		Subject:   user.ID,
		Email:     user.Email,
		Roles:     user.RoleNames(),
		ExpiresAt: time.Now().Add(1 * time.Hour),
		IssuedAt:  time.Now(),
		Issuer:    "fake",
	}, nil
}

// --- Authenticator ---

func (b *Backend) Login(_ context.Context, req iam.LoginRequest) (*iam.AuthResult, error) {
	if err := b.begin("login"); err != nil {
		return nil, err
	}
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	acc, ok := b.s.accounts[req.Email]
	if !ok || acc.password != req.Password {
		return nil, fmt.Errorf("iam/fake: bad credentials: %w", iam.ErrUnauthenticated)
	}
	return b.result(acc.token), nil
}

// Register creates an account awaiting verification; no token is issued.
func (b *Backend) Register(_ context.Context, req iam.RegisterRequest) (*iam.AuthResult, error) {
	if err := b.begin("register"); err != nil {
		return nil, err
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if _, exists := b.s.accounts[req.Email]; exists {
		return nil, &iam.APIError{StatusCode: 409, Message: "email already registered"}
	}
	b.s.nextID++
	token := fmt.Sprintf("tok-registered-%d", b.s.nextID)
	b.s.users[token] = &iam.Identity{
		ID:     fmt.Sprintf("user-%d", b.s.nextID),
		Name:   req.Name,
		Email:  req.Email,
		Status: iam.StatusInactive,
		Roles:  []iam.Role{{ID: iam.RoleUser, Name: iam.RoleUser}},
	}
	b.s.accounts[req.Email] = account{password: req.Password, token: token}
	b.s.codes[req.Email+"\x00"+RegistrationCode] = token
	return &iam.AuthResult{}, nil
}

func (b *Backend) VerifyCode(_ context.Context, req iam.VerifyRequest) (*iam.AuthResult, error) {
	if err := b.begin("verify"); err != nil {
		return nil, err
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	token, ok := b.s.codes[req.Email+"\x00"+req.Code]
	if !ok {
		return nil, &iam.APIError{StatusCode: 400, Message: "invalid code"}
	}
	if user, ok := b.s.users[token]; ok {
		user.Status = iam.StatusActive
	}
	return b.result(token), nil
}

func (b *Backend) SocialCallback(_ context.Context, req iam.SocialCallback) (*iam.AuthResult, error) {
	if err := b.begin("social"); err != nil {
		return nil, err
	}
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	token, ok := b.s.social[req.Provider+"\x00"+req.Code]
	if !ok {
		return nil, fmt.Errorf("iam/fake: unknown social code: %w", iam.ErrUnauthenticated)
	}
	return b.result(token), nil
}

func (b *Backend) Logout(_ context.Context, _ string) error {
	return b.begin("logout")
}

// result builds an AuthResult; caller holds the lock.
func (b *Backend) result(token string) *iam.AuthResult {
	res := &iam.AuthResult{Token: token}
	if user, ok := b.s.users[token]; ok {
		cp := *user
		res.Identity = &cp
	}
	return res
}
