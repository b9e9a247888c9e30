// Package iam provides the session and route-authorization layer of the job-board front-end.
//
// The SDK defines interfaces for credential persistence, identity lookup, token
// validation and the login-style backend flows. Concrete implementations are
// injected via Option functions, so the same session store and route guard run
// against the REST backend, a local JWKS validator or the in-memory fake.
//
// Example usage with the REST backend:
//
//	api := restapi.New("https://api.jobboard.example")
//	client, err := iam.NewClient(
//	    iam.Config{Endpoint: "https://api.jobboard.example"},
//	    iam.WithCredentialStore(credential.NewMemory()),
//	    iam.WithIdentityService(api),
//	    iam.WithTokenValidator(api),
//	    iam.WithAuthenticator(api),
//	)
package iam

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// Client aggregates the services a front-end needs.
// Service implementations are injected via Option functions.
type Client struct {
	config      Config
	logger      *slog.Logger
	credentials CredentialStore
	identities  IdentityService
	validator   TokenValidator
	auth        Authenticator
}

// Config holds connection and routing configuration.
type Config struct {
	// Endpoint is the base URL of the job-board REST backend.
	Endpoint string `validate:"required"`

	// LoginPath is where unauthenticated navigations are sent. Default: "/auth/login".
	LoginPath string `validate:"omitempty,startswith=/"`

	// ForbiddenPath is where navigations lacking a role are sent. Default: "/forbidden".
	ForbiddenPath string `validate:"omitempty,startswith=/"`

	// RedirectParam names the query parameter carrying the original destination.
	// Default: "redirect".
	RedirectParam string

	// RequestTimeout bounds each backend call. Default: 10 seconds.
	RequestTimeout time.Duration `validate:"gte=0"`
}

// Defaults applied by NewClient.
const (
	DefaultLoginPath      = "/auth/login"
	DefaultForbiddenPath  = "/forbidden"
	DefaultRedirectParam  = "redirect"
	DefaultRequestTimeout = 10 * time.Second
)

var validate = validator.New()

// Validate checks a request or config struct against its `validate` tags.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("iam: invalid %T: %w", v, err)
	}
	return nil
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCredentialStore sets where the bearer credential is persisted.
func WithCredentialStore(s CredentialStore) Option {
	return func(c *Client) { c.credentials = s }
}

// WithIdentityService sets the "who am I" implementation.
func WithIdentityService(s IdentityService) Option {
	return func(c *Client) { c.identities = s }
}

// WithTokenValidator sets the token validation implementation.
func WithTokenValidator(v TokenValidator) Option {
	return func(c *Client) { c.validator = v }
}

// WithAuthenticator sets the login/registration implementation.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// NewClient creates a new client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.ForbiddenPath == "" {
		cfg.ForbiddenPath = DefaultForbiddenPath
	}
	if cfg.RedirectParam == "" {
		cfg.RedirectParam = DefaultRedirectParam
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Logger returns the configured logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Credentials returns the credential store, or nil if not configured.
func (c *Client) Credentials() CredentialStore { return c.credentials }

// Identities returns the identity service, or nil if not configured.
func (c *Client) Identities() IdentityService { return c.identities }

// Validator returns the token validator, or nil if not configured.
func (c *Client) Validator() TokenValidator { return c.validator }

// Auth returns the authenticator, or nil if not configured.
func (c *Client) Auth() Authenticator { return c.auth }

// HealthCheck reports whether the services required by the session store and
// route guard are wired.
func (c *Client) HealthCheck(_ context.Context) error {
	switch {
	case c.credentials == nil:
		return fmt.Errorf("iam: credential store not configured")
	case c.identities == nil:
		return fmt.Errorf("iam: identity service not configured")
	case c.validator == nil:
		return fmt.Errorf("iam: token validator not configured")
	}
	return nil
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed once.
func (c *Client) Close() error {
	services := []any{c.credentials, c.identities, c.validator, c.auth}
	seen := make(map[io.Closer]bool)
	var firstErr error
	for _, svc := range services {
		cl, ok := svc.(io.Closer)
		if !ok || cl == nil || seen[cl] {
			continue
		}
		seen[cl] = true
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
