// Package guard decides, per navigation, whether the target route may render.
//
// A Guard evaluates one target against the stored credential: it validates the
// credential with the backend, checks the route's role policy and produces a
// terminal Decision with the redirect to follow. A Navigator runs those checks
// for a stream of navigations where only the most recent one may take effect.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/audit"
	"github.com/chimerakang/jobboard-iam/metrics"
)

// IdentitySource resolves the identity behind a validated credential.
// *session.Store satisfies it.
type IdentitySource interface {
	IdentityFor(ctx context.Context, token string) (*iam.Identity, error)
}

// IdentitySourceFunc adapts a function, e.g. an IdentityService's WhoAmI.
type IdentitySourceFunc func(ctx context.Context, token string) (*iam.Identity, error)

// IdentityFor calls f.
func (f IdentitySourceFunc) IdentityFor(ctx context.Context, token string) (*iam.Identity, error) {
	return f(ctx, token)
}

// Decision is the terminal outcome for one target.
type Decision struct {
	Path     string
	State    State
	Redirect string // empty when access is granted
	Identity *iam.Identity
	Claims   *iam.Claims
	Err      error // why access was denied, if a call failed
}

// Guard evaluates navigations against a Policy.
type Guard struct {
	creds      iam.CredentialStore
	validator  iam.TokenValidator
	identities IdentitySource
	policy     *Policy

	loginPath     string
	forbiddenPath string
	redirectParam string
	clearOnReject bool
	claimRoles    bool
	onReject      func(context.Context)

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
}

// Option configures the Guard.
type Option func(*Guard)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p *Policy) Option {
	return func(g *Guard) { g.policy = p }
}

// WithLoginPath sets where Unauthenticated navigations are sent.
func WithLoginPath(path string) Option {
	return func(g *Guard) { g.loginPath = path }
}

// WithForbiddenPath sets where Forbidden navigations are sent.
func WithForbiddenPath(path string) Option {
	return func(g *Guard) { g.forbiddenPath = path }
}

// WithRedirectParam sets the query parameter carrying the original target.
func WithRedirectParam(name string) Option {
	return func(g *Guard) { g.redirectParam = name }
}

// WithClearOnReject controls whether a credential the backend rejects as
// unauthorized is removed from the store. Enabled by default.
func WithClearOnReject(enabled bool) Option {
	return func(g *Guard) { g.clearOnReject = enabled }
}

// WithRejectHook is called after a rejected credential has been cleared,
// e.g. to drop the session's cached identity.
func WithRejectHook(fn func(ctx context.Context)) Option {
	return func(g *Guard) { g.onReject = fn }
}

// WithClaimRoles takes roles from the validated token claims instead of the
// identity source.
func WithClaimRoles() Option {
	return func(g *Guard) { g.claimRoles = true }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics records decisions and validation latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithAudit records every terminal decision.
func WithAudit(a *audit.Logger) Option {
	return func(g *Guard) { g.audit = a }
}

// New creates a Guard. identities may be nil when WithClaimRoles is used.
func New(creds iam.CredentialStore, validator iam.TokenValidator, identities IdentitySource, opts ...Option) *Guard {
	g := &Guard{
		creds:         creds,
		validator:     validator,
		identities:    identities,
		policy:        DefaultPolicy(),
		loginPath:     iam.DefaultLoginPath,
		forbiddenPath: iam.DefaultForbiddenPath,
		redirectParam: iam.DefaultRedirectParam,
		clearOnReject: true,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// NewFromClient creates a Guard from an iam.Client, taking the redirect paths
// from its Config. A nil identities falls back to the client's IdentityService.
func NewFromClient(c *iam.Client, identities IdentitySource, opts ...Option) *Guard {
	cfg := c.Config()
	if identities == nil && c.Identities() != nil {
		identities = IdentitySourceFunc(c.Identities().WhoAmI)
	}
	base := []Option{
		WithLoginPath(cfg.LoginPath),
		WithForbiddenPath(cfg.ForbiddenPath),
		WithRedirectParam(cfg.RedirectParam),
		WithLogger(c.Logger()),
	}
	return New(c.Credentials(), c.Validator(), identities, append(base, opts...)...)
}

// Policy returns the route policy in use.
func (g *Guard) Policy() *Policy {
	return g.policy
}

// Check evaluates target with the stored credential.
func (g *Guard) Check(ctx context.Context, target string) Decision {
	token, _ := g.creds.Load(ctx)
	return g.Evaluate(ctx, target, token)
}

// Evaluate decides whether token may enter target. It never returns a
// non-terminal state.
func (g *Guard) Evaluate(ctx context.Context, target, token string) Decision {
	start := time.Now()
	rule, guarded := g.policy.Match(target)

	d := g.evaluate(ctx, token, rule, guarded)
	d.Path = target
	switch d.State {
	case Unauthenticated:
		d.Redirect = g.loginRedirect(target)
	case Forbidden:
		d.Redirect = g.forbiddenPath
	}

	g.metrics.RecordDecision(d.State.String(), time.Since(start).Seconds())
	g.record(ctx, d)
	return d
}

func (g *Guard) evaluate(ctx context.Context, token string, rule Rule, guarded bool) Decision {
	if token == "" {
		if guarded {
			return Decision{State: Unauthenticated}
		}
		return Decision{State: Anonymous}
	}

	claims, err := g.validate(ctx, token)
	if err != nil {
		g.reject(ctx, err)
		if guarded {
			return Decision{State: Unauthenticated, Err: err}
		}
		return Decision{State: Anonymous, Err: err}
	}

	if !guarded || len(rule.Roles) == 0 {
		return Decision{State: Authenticated, Claims: claims, Identity: identityFromClaims(claims)}
	}

	if g.claimRoles {
		if !rolesAllowed(claims.Roles, rule) {
			return Decision{State: Forbidden, Claims: claims, Identity: identityFromClaims(claims)}
		}
		return Decision{State: Authenticated, Claims: claims, Identity: identityFromClaims(claims)}
	}

	identity, err := g.identity(ctx, token)
	if err != nil {
		g.reject(ctx, err)
		return Decision{State: Unauthenticated, Claims: claims, Err: err}
	}
	if !iam.HasAnyRole(identity, rule.Roles...) {
		return Decision{State: Forbidden, Claims: claims, Identity: identity}
	}
	return Decision{State: Authenticated, Claims: claims, Identity: identity}
}

func (g *Guard) validate(ctx context.Context, token string) (*iam.Claims, error) {
	if g.validator == nil {
		return nil, fmt.Errorf("iam/guard: token validator not configured")
	}
	claims, err := g.validator.Validate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("iam/guard: validate: %w", err)
	}
	if claims == nil {
		return nil, fmt.Errorf("iam/guard: validate: %w", iam.ErrMalformedResponse)
	}
	return claims, nil
}

func (g *Guard) identity(ctx context.Context, token string) (*iam.Identity, error) {
	if g.identities == nil {
		return nil, fmt.Errorf("iam/guard: identity source not configured")
	}
	identity, err := g.identities.IdentityFor(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("iam/guard: resolve identity: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("iam/guard: resolve identity: %w", iam.ErrMalformedResponse)
	}
	return identity, nil
}

// reject clears the credential when the backend definitively refused it.
// Transport failures and abandoned navigations leave it alone.
func (g *Guard) reject(ctx context.Context, err error) {
	if !g.clearOnReject || !errors.Is(err, iam.ErrUnauthenticated) || ctx.Err() != nil {
		return
	}
	if cerr := g.creds.Clear(ctx); cerr != nil {
		g.logger.WarnContext(ctx, "failed to clear rejected credential", "error", cerr)
		return
	}
	g.logger.InfoContext(ctx, "cleared credential rejected by backend")
	if g.onReject != nil {
		g.onReject(ctx)
	}
}

func (g *Guard) loginRedirect(target string) string {
	if g.redirectParam == "" {
		return g.loginPath
	}
	q := url.Values{}
	q.Set(g.redirectParam, target)
	return g.loginPath + "?" + q.Encode()
}

func (g *Guard) record(ctx context.Context, d Decision) {
	event := audit.Event{Action: audit.ActionNavigate, Path: d.Path, Result: d.State.String()}
	if d.Identity != nil {
		event.UserID = d.Identity.ID
	}
	if d.Err != nil {
		event.Error = d.Err.Error()
	}

	switch d.State {
	case Forbidden:
		g.logger.WarnContext(ctx, "navigation forbidden",
			"path", d.Path,
			"user_id", event.UserID,
			"roles", d.Identity.RoleNames(),
		)
	case Unauthenticated:
		g.logger.InfoContext(ctx, "navigation requires login", "path", d.Path, "error", d.Err)
	default:
		g.logger.DebugContext(ctx, "navigation granted", "path", d.Path, "state", d.State.String())
	}
	g.audit.LogContext(ctx, event)
}

func identityFromClaims(c *iam.Claims) *iam.Identity {
	if c == nil || c.Subject == "" {
		return nil
	}
	roles := make([]iam.Role, len(c.Roles))
	for i, name := range c.Roles {
		roles[i] = iam.Role{Name: name}
	}
	return &iam.Identity{ID: c.Subject, Email: c.Email, Roles: roles}
}
