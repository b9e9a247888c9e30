// Package jwks validates job-board tokens locally against a JSON Web Key Set.
//
// The Validator fetches RS256 public keys from a JWKS endpoint (RFC 7517),
// caches them, and reads subject, email and roles straight from the token, so
// the route guard can decide without a "validate" round trip per navigation.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// DefaultRolesClaim is the claim holding role names.
const DefaultRolesClaim = "roles"

// Validator implements iam.TokenValidator with cached JWKS public keys.
type Validator struct {
	jwksURL         string
	httpClient      *http.Client
	refreshInterval time.Duration
	issuer          string
	audience        string
	rolesClaim      string
	leeway          time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey // kid → public key
	lastFetch time.Time
	fetches   singleflight.Group
}

var _ iam.TokenValidator = (*Validator)(nil)

// Option configures the Validator.
type Option func(*Validator)

// WithHTTPClient sets the client used to fetch the key set.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) { v.httpClient = c }
}

// WithRefreshInterval sets how long fetched keys are trusted. Default: 1 hour.
func WithRefreshInterval(d time.Duration) Option {
	return func(v *Validator) { v.refreshInterval = d }
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *Validator) { v.issuer = issuer }
}

// WithAudience requires aud to contain audience.
func WithAudience(audience string) Option {
	return func(v *Validator) { v.audience = audience }
}

// WithRolesClaim reads roles from a different claim.
func WithRolesClaim(name string) Option {
	return func(v *Validator) { v.rolesClaim = name }
}

// WithLeeway tolerates clock skew on exp and iat.
func WithLeeway(d time.Duration) Option {
	return func(v *Validator) { v.leeway = d }
}

// NewValidator creates a JWKS-backed validator.
func NewValidator(jwksURL string, opts ...Option) *Validator {
	v := &Validator{
		jwksURL:         jwksURL,
		httpClient:      http.DefaultClient,
		refreshInterval: time.Hour,
		rolesClaim:      DefaultRolesClaim,
		keys:            make(map[string]*rsa.PublicKey),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate checks the token signature and expiry and returns its claims.
// Signature, expiry, issuer and audience failures wrap iam.ErrUnauthenticated;
// failing to fetch keys does not.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*iam.Claims, error) {
	var keyErr error
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, err := v.key(ctx, kid)
		keyErr = err
		return key, err
	}, v.parserOptions()...)
	if keyErr != nil {
		return nil, keyErr
	}
	if err != nil {
		return nil, fmt.Errorf("iam/jwks: %w: %w", iam.ErrUnauthenticated, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("iam/jwks: invalid claims: %w", iam.ErrUnauthenticated)
	}
	return v.toClaims(mapClaims), nil
}

func (v *Validator) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	return opts
}

// key returns the public key for kid, refreshing the set when kid is unknown
// or the cache is stale. A stale key is used if the refresh fails.
func (v *Validator) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, found := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.refreshInterval
	v.mu.RUnlock()

	if found && !stale {
		return key, nil
	}

	if _, err, _ := v.fetches.Do("jwks", func() (any, error) {
		return nil, v.refresh(ctx)
	}); err != nil {
		if found {
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if kid == "" && len(v.keys) == 1 {
		for _, k := range v.keys {
			return k, nil
		}
	}
	return nil, fmt.Errorf("iam/jwks: no key for kid %q: %w", kid, iam.ErrUnauthenticated)
}

func (v *Validator) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("iam/jwks: create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("iam/jwks: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("iam/jwks: fetch returned status %d", resp.StatusCode)
	}

	var set keySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("iam/jwks: decode: %w", errors.Join(iam.ErrMalformedResponse, err))
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("iam/jwks: no RSA signing keys: %w", iam.ErrMalformedResponse)
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

type keySet struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

var registered = map[string]bool{
	"sub": true, "email": true, "iss": true, "exp": true,
	"iat": true, "aud": true, "nbf": true, "jti": true,
}

func (v *Validator) toClaims(m jwt.MapClaims) *iam.Claims {
	c := &iam.Claims{Extra: make(map[string]any)}

	c.Subject, _ = m.GetSubject()
	c.Issuer, _ = m.GetIssuer()
	c.Email, _ = m["email"].(string)
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	c.Roles = roleNames(m[v.rolesClaim])

	for k, val := range m {
		if !registered[k] && k != v.rolesClaim {
			c.Extra[k] = val
		}
	}
	return c
}

// roleNames accepts ["ADMIN"] as well as [{"name": "ADMIN"}], the shape the
// backend uses for role objects.
func roleNames(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		if s, ok := raw.(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	var names []string
	for _, r := range list {
		switch r := r.(type) {
		case string:
			names = append(names, r)
		case map[string]any:
			if name, ok := r["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}
