// Package session holds the identity of the signed-in user for the lifetime of the process.
//
// A Store is initialized once from the persisted credential, exposes the cached
// identity synchronously, and notifies subscribers whenever it changes. It is
// also the only writer of the credential outside the route guard: login-style
// flows save it, Logout clears it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/audit"
	"github.com/chimerakang/jobboard-iam/metrics"
	"golang.org/x/sync/singleflight"
)

// TopicIdentityChanged is published with the new *iam.Identity (nil when signed out).
const TopicIdentityChanged = "session:identity"

// Store caches the current identity.
type Store struct {
	creds      iam.CredentialStore
	identities iam.IdentityService
	auth       iam.Authenticator
	bus        evbus.Bus
	logger     *slog.Logger
	metrics    *metrics.Metrics
	audit      *audit.Logger

	mu       sync.RWMutex
	identity *iam.Identity
	// generation advances on every identity write; lookups started under an
	// older generation do not overwrite a newer state.
	generation uint64

	sf          singleflight.Group
	initialized atomic.Bool
	ready       chan struct{}
	readyOnce   sync.Once
}

// Option configures the Store.
type Option func(*Store)

// WithAuthenticator enables the login-style flows and backend logout.
func WithAuthenticator(a iam.Authenticator) Option {
	return func(s *Store) { s.auth = a }
}

// WithEventBus publishes identity changes on a shared bus instead of a private one.
func WithEventBus(bus evbus.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records identity resolutions, logins and logouts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithAudit records logins and logouts.
func WithAudit(a *audit.Logger) Option {
	return func(s *Store) { s.audit = a }
}

// New creates a Store. Call Initialize once at startup.
func New(creds iam.CredentialStore, identities iam.IdentityService, opts ...Option) *Store {
	s := &Store{
		creds:      creds,
		identities: identities,
		logger:     slog.Default(),
		ready:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = evbus.New()
	}
	return s
}

// NewFromClient creates a Store from the services wired into an iam.Client.
func NewFromClient(c *iam.Client, opts ...Option) *Store {
	base := []Option{WithLogger(c.Logger())}
	if c.Auth() != nil {
		base = append(base, WithAuthenticator(c.Auth()))
	}
	return New(c.Credentials(), c.Identities(), append(base, opts...)...)
}

// Initialize resolves the identity from the persisted credential. Only the first
// call reaches the backend; concurrent callers share its result and later calls
// return the cached identity. Failures resolve to nil and leave the credential
// in place. A caller whose ctx ends early gets the cached identity without
// aborting the lookup.
func (s *Store) Initialize(ctx context.Context) *iam.Identity {
	if s.initialized.Load() {
		return s.Current()
	}
	return s.flight(ctx, "initialize", func(ctx context.Context) *iam.Identity {
		if s.initialized.Load() {
			return s.Current()
		}
		identity := s.resolve(ctx)
		s.initialized.Store(true)
		s.readyOnce.Do(func() { close(s.ready) })
		return identity
	})
}

// Ready is closed once Initialize has completed. Render a loading state until then.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Refresh re-resolves the identity from the persisted credential.
func (s *Store) Refresh(ctx context.Context) *iam.Identity {
	return s.flight(ctx, "refresh", s.resolve)
}

// flight runs fn once per key for all concurrent callers. fn runs detached
// from the caller's cancellation; a caller that gives up gets the cached identity.
func (s *Store) flight(ctx context.Context, key string, fn func(context.Context) *iam.Identity) *iam.Identity {
	detached := context.WithoutCancel(ctx)
	ch := s.sf.DoChan(key, func() (any, error) {
		return fn(detached), nil
	})
	select {
	case res := <-ch:
		identity, _ := res.Val.(*iam.Identity)
		return identity
	case <-ctx.Done():
		return s.Current()
	}
}

// resolve looks up the identity behind the stored credential and caches it.
func (s *Store) resolve(ctx context.Context) *iam.Identity {
	gen := s.currentGeneration()

	token, ok := s.creds.Load(ctx)
	if !ok || token == "" {
		s.metrics.RecordIdentityResolution("anonymous")
		s.setIfCurrent(gen, nil)
		return nil
	}

	identity, err := s.identities.WhoAmI(ctx, token)
	if err != nil || identity == nil {
		// the credential stays: the failure may be transient
		s.logger.WarnContext(ctx, "identity resolution failed", "error", err)
		s.metrics.RecordIdentityResolution("failed")
		s.setIfCurrent(gen, nil)
		return nil
	}

	s.metrics.RecordIdentityResolution("resolved")
	if !s.setIfCurrent(gen, identity) {
		s.logger.DebugContext(ctx, "identity superseded during lookup", "user_id", identity.ID)
		return s.Current()
	}
	return identity
}

// Current returns the cached identity, or nil when nobody is signed in.
func (s *Store) Current() *iam.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetIdentity replaces the cached identity and notifies subscribers on change.
func (s *Store) SetIdentity(identity *iam.Identity) {
	s.mu.Lock()
	changed := s.identity != identity
	s.identity = identity
	s.generation++
	s.mu.Unlock()

	if changed {
		s.publish(identity)
	}
}

func (s *Store) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// setIfCurrent stores identity only if nothing was written since gen.
func (s *Store) setIfCurrent(gen uint64, identity *iam.Identity) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	changed := s.identity != identity
	s.identity = identity
	s.generation++
	s.mu.Unlock()

	if changed {
		s.publish(identity)
	}
	return true
}

func (s *Store) publish(identity *iam.Identity) {
	s.bus.Publish(TopicIdentityChanged, identity)
}

// Subscribe calls fn synchronously with every identity change. fn must not
// subscribe or unsubscribe from within the callback.
func (s *Store) Subscribe(fn func(*iam.Identity)) (unsubscribe func(), err error) {
	if err := s.bus.Subscribe(TopicIdentityChanged, fn); err != nil {
		return nil, fmt.Errorf("iam/session: subscribe: %w", err)
	}
	return func() { _ = s.bus.Unsubscribe(TopicIdentityChanged, fn) }, nil
}

// IdentityFor returns the cached identity, fetching it with token when none is
// cached. The route guard uses it as its identity source.
func (s *Store) IdentityFor(ctx context.Context, token string) (*iam.Identity, error) {
	if identity := s.Current(); identity != nil {
		return identity, nil
	}
	gen := s.currentGeneration()
	v, err, _ := s.sf.Do("whoami:"+token, func() (any, error) {
		identity, err := s.identities.WhoAmI(ctx, token)
		if err != nil {
			s.metrics.RecordIdentityResolution("failed")
			return nil, err
		}
		s.metrics.RecordIdentityResolution("resolved")
		if !s.setIfCurrent(gen, identity) {
			// signed out or replaced meanwhile: answer the caller, keep the cache
			s.logger.DebugContext(ctx, "identity superseded during lookup", "user_id", identity.ID)
		}
		return identity, nil
	})
	if err != nil {
		return nil, fmt.Errorf("iam/session: %w", err)
	}
	identity, _ := v.(*iam.Identity)
	return identity, nil
}

// Logout discards the credential and the identity. The backend is told on a
// best-effort basis; its failure never keeps the user signed in. Calling
// Logout when already signed out is not an error.
func (s *Store) Logout(ctx context.Context) error {
	previous := s.Current()

	if token, ok := s.creds.Load(ctx); ok && token != "" && s.auth != nil {
		if err := s.auth.Logout(ctx, token); err != nil {
			s.logger.WarnContext(ctx, "backend logout failed", "error", err)
		}
	}

	clearErr := s.creds.Clear(ctx)

	s.mu.Lock()
	s.identity = nil
	s.generation++
	s.mu.Unlock()
	s.publish(nil)

	s.metrics.RecordLogout()
	event := audit.Event{Action: audit.ActionLogout, Result: audit.ResultSuccess}
	if previous != nil {
		event.UserID = previous.ID
	}
	if clearErr != nil {
		event.Result = audit.ResultFailure
		event.Error = clearErr.Error()
		s.audit.LogContext(ctx, event)
		return fmt.Errorf("iam/session: clear credential: %w", clearErr)
	}
	s.audit.LogContext(ctx, event)
	return nil
}

// Login signs in with email and password.
func (s *Store) Login(ctx context.Context, req iam.LoginRequest) (*iam.Identity, error) {
	return s.authenticate(ctx, audit.ActionLogin, req, func(a iam.Authenticator) (*iam.AuthResult, error) {
		return a.Login(ctx, req)
	})
}

// Register creates an account. It returns iam.ErrVerificationPending when the
// backend expects a one-time code before issuing a credential.
func (s *Store) Register(ctx context.Context, req iam.RegisterRequest) (*iam.Identity, error) {
	return s.authenticate(ctx, audit.ActionRegister, req, func(a iam.Authenticator) (*iam.AuthResult, error) {
		return a.Register(ctx, req)
	})
}

// VerifyCode completes registration with the one-time code.
func (s *Store) VerifyCode(ctx context.Context, req iam.VerifyRequest) (*iam.Identity, error) {
	return s.authenticate(ctx, audit.ActionVerify, req, func(a iam.Authenticator) (*iam.AuthResult, error) {
		return a.VerifyCode(ctx, req)
	})
}

// SocialLogin completes a social provider callback.
func (s *Store) SocialLogin(ctx context.Context, req iam.SocialCallback) (*iam.Identity, error) {
	return s.authenticate(ctx, audit.ActionSocial, req, func(a iam.Authenticator) (*iam.AuthResult, error) {
		return a.SocialCallback(ctx, req)
	})
}

func (s *Store) authenticate(
	ctx context.Context,
	action string,
	req any,
	call func(iam.Authenticator) (*iam.AuthResult, error),
) (*iam.Identity, error) {
	if s.auth == nil {
		return nil, fmt.Errorf("iam/session: authenticator not configured")
	}
	if err := iam.Validate(req); err != nil {
		return nil, err
	}

	identity, err := s.establish(ctx, call)
	result := audit.ResultSuccess
	event := audit.Event{Action: action}
	switch {
	case errors.Is(err, iam.ErrVerificationPending):
		result = "pending"
	case err != nil:
		result = audit.ResultFailure
		event.Error = err.Error()
	case identity != nil:
		event.UserID = identity.ID
	}
	event.Result = result
	s.metrics.RecordLogin(action, result)
	s.audit.LogContext(ctx, event)
	return identity, err
}

// establish runs a login-style call, persists the credential it yields and
// resolves the identity behind it.
func (s *Store) establish(ctx context.Context, call func(iam.Authenticator) (*iam.AuthResult, error)) (*iam.Identity, error) {
	res, err := call(s.auth)
	if err != nil {
		return nil, fmt.Errorf("iam/session: %w", err)
	}
	if res == nil || res.Token == "" {
		return nil, iam.ErrVerificationPending
	}

	if err := s.creds.Save(ctx, res.Token); err != nil {
		return nil, fmt.Errorf("iam/session: save credential: %w", err)
	}

	identity := res.Identity
	if identity == nil {
		identity, err = s.identities.WhoAmI(ctx, res.Token)
		if err != nil {
			return nil, fmt.Errorf("iam/session: resolve identity: %w", err)
		}
	}
	s.SetIdentity(identity)
	return identity, nil
}
