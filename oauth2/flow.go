// Package oauth2 drives the browser side of social login.
//
// A Flow builds the provider authorization URL with a one-time state value and,
// when the provider redirects back, checks that state before handing the code
// to the backend as an iam.SocialCallback.
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/google/uuid"
)

// DefaultStateTTL bounds how long a login attempt may take.
const DefaultStateTTL = 10 * time.Minute

var (
	// ErrUnknownProvider means no provider is registered under the name.
	ErrUnknownProvider = errors.New("oauth2: unknown provider")

	// ErrInvalidState means the state is unknown, expired, already used or
	// was issued for another provider.
	ErrInvalidState = errors.New("oauth2: invalid state")
)

// Provider is a social identity provider.
type Provider struct {
	Name        string   `mapstructure:"name" validate:"required"`
	AuthURL     string   `mapstructure:"auth_url" validate:"required,url"`
	ClientID    string   `mapstructure:"client_id" validate:"required"`
	RedirectURL string   `mapstructure:"redirect_url" validate:"required,url"`
	Scopes      []string `mapstructure:"scopes"`
}

// Flow issues and verifies authorization requests.
type Flow struct {
	providers map[string]Provider
	states    StateStore
	ttl       time.Duration
}

// Option configures the Flow.
type Option func(*Flow)

// WithStateStore keeps states somewhere other than process memory.
func WithStateStore(s StateStore) Option {
	return func(f *Flow) { f.states = s }
}

// WithStateTTL sets how long an issued state stays valid.
func WithStateTTL(d time.Duration) Option {
	return func(f *Flow) { f.ttl = d }
}

// New creates a Flow for providers.
func New(providers []Provider, opts ...Option) (*Flow, error) {
	f := &Flow{providers: make(map[string]Provider, len(providers)), ttl: DefaultStateTTL}
	for _, p := range providers {
		if err := iam.Validate(p); err != nil {
			return nil, fmt.Errorf("oauth2: provider %q: %w", p.Name, err)
		}
		f.providers[strings.ToLower(p.Name)] = p
	}
	for _, o := range opts {
		o(f)
	}
	if f.states == nil {
		f.states = NewMemoryStates()
	}
	return f, nil
}

// Providers returns the registered provider names, sorted.
func (f *Flow) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthCodeURL returns the URL to send the browser to and the state it carries.
func (f *Flow) AuthCodeURL(ctx context.Context, provider string) (string, string, error) {
	p, ok := f.providers[strings.ToLower(provider)]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	state := uuid.NewString()
	if err := f.states.Put(ctx, state, strings.ToLower(p.Name), f.ttl); err != nil {
		return "", "", fmt.Errorf("oauth2: store state: %w", err)
	}

	u, err := url.Parse(p.AuthURL)
	if err != nil {
		return "", "", fmt.Errorf("oauth2: auth url: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURL)
	q.Set("state", state)
	if len(p.Scopes) > 0 {
		q.Set("scope", strings.Join(p.Scopes, " "))
	}
	u.RawQuery = q.Encode()
	return u.String(), state, nil
}

// Callback consumes state and returns the request to forward to the backend.
// A state verifies at most once.
func (f *Flow) Callback(ctx context.Context, provider, state, code string) (iam.SocialCallback, error) {
	name := strings.ToLower(provider)
	if _, ok := f.providers[name]; !ok {
		return iam.SocialCallback{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if state == "" {
		return iam.SocialCallback{}, ErrInvalidState
	}

	issuedFor, ok, err := f.states.Take(ctx, state)
	if err != nil {
		return iam.SocialCallback{}, fmt.Errorf("oauth2: load state: %w", err)
	}
	if !ok || issuedFor != name {
		return iam.SocialCallback{}, ErrInvalidState
	}

	cb := iam.SocialCallback{Provider: name, Code: code, State: state}
	if err := iam.Validate(cb); err != nil {
		return iam.SocialCallback{}, fmt.Errorf("oauth2: callback: %w", err)
	}
	return cb, nil
}
