// Package restapi connects the iam interfaces to the job-board REST backend.
//
// Usage:
//
//	api := restapi.New("https://api.jobboard.example")
//	client, err := iam.NewClient(
//	    iam.Config{Endpoint: "https://api.jobboard.example"},
//	    iam.WithIdentityService(api),
//	    iam.WithTokenValidator(api),
//	    iam.WithAuthenticator(api),
//	)
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
)

// Paths are the backend endpoints, relative to the base URL.
// Social must contain one %s for the provider name.
type Paths struct {
	Me       string
	Validate string
	Login    string
	Register string
	Verify   string
	Social   string
	Logout   string
}

// DefaultPaths returns the endpoint layout of the job-board API.
func DefaultPaths() Paths {
	return Paths{
		Me:       "/auth/me",
		Validate: "/auth/validate",
		Login:    "/auth/login",
		Register: "/auth/register",
		Verify:   "/auth/verify",
		Social:   "/auth/social/%s/callback",
		Logout:   "/auth/logout",
	}
}

// maxBody caps how much of a reply is read.
const maxBody = 1 << 20

// Client is the REST backend adapter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	paths      Paths
	logger     *slog.Logger
}

var (
	_ iam.IdentityService = (*Client)(nil)
	_ iam.TokenValidator  = (*Client)(nil)
	_ iam.Authenticator   = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}

// WithPaths overrides the endpoint layout.
func WithPaths(p Paths) Option {
	return func(c *Client) { c.paths = p }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a REST adapter for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: iam.DefaultRequestTimeout},
		paths:      DefaultPaths(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// --- IdentityService ---

// WhoAmI implements iam.IdentityService.
func (c *Client) WhoAmI(ctx context.Context, token string) (*iam.Identity, error) {
	var out identityDTO
	if err := c.do(ctx, http.MethodGet, c.paths.Me, token, nil, &out); err != nil {
		return nil, fmt.Errorf("iam/restapi: who am i: %w", err)
	}
	identity, err := out.toIdentity()
	if err != nil {
		return nil, fmt.Errorf("iam/restapi: who am i: %w", err)
	}
	return identity, nil
}

// --- TokenValidator ---

// Validate implements iam.TokenValidator against the validation endpoint.
// Anything but an explicit {"valid": true} is an error.
func (c *Client) Validate(ctx context.Context, token string) (*iam.Claims, error) {
	var out validateResponse
	if err := c.do(ctx, http.MethodGet, c.paths.Validate, token, nil, &out); err != nil {
		return nil, fmt.Errorf("iam/restapi: validate: %w", err)
	}
	if out.Valid == nil {
		return nil, fmt.Errorf("iam/restapi: validate: missing valid flag: %w", iam.ErrMalformedResponse)
	}
	if !*out.Valid {
		return nil, fmt.Errorf("iam/restapi: validate: %w", iam.ErrUnauthenticated)
	}

	claims := &iam.Claims{Extra: make(map[string]any)}
	if out.User != nil {
		claims.Subject = out.User.ID
		claims.Email = out.User.Email
		for _, r := range out.User.Roles {
			claims.Roles = append(claims.Roles, r.Name)
		}
	}
	return claims, nil
}

// --- Authenticator ---

func (c *Client) Login(ctx context.Context, req iam.LoginRequest) (*iam.AuthResult, error) {
	body := map[string]string{"email": req.Email, "password": req.Password}
	return c.authenticate(ctx, "login", c.paths.Login, body, true)
}

// Register creates an account. The result carries no token while the backend
// waits for the one-time code.
func (c *Client) Register(ctx context.Context, req iam.RegisterRequest) (*iam.AuthResult, error) {
	body := map[string]string{"name": req.Name, "email": req.Email, "password": req.Password}
	return c.authenticate(ctx, "register", c.paths.Register, body, false)
}

func (c *Client) VerifyCode(ctx context.Context, req iam.VerifyRequest) (*iam.AuthResult, error) {
	body := map[string]string{"email": req.Email, "code": req.Code}
	return c.authenticate(ctx, "verify", c.paths.Verify, body, true)
}

func (c *Client) SocialCallback(ctx context.Context, req iam.SocialCallback) (*iam.AuthResult, error) {
	path := fmt.Sprintf(c.paths.Social, url.PathEscape(req.Provider))
	body := map[string]string{"code": req.Code, "state": req.State}
	return c.authenticate(ctx, "social callback", path, body, true)
}

// Logout notifies the backend. Callers treat failures as best-effort.
func (c *Client) Logout(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodPost, c.paths.Logout, token, nil, nil); err != nil {
		return fmt.Errorf("iam/restapi: logout: %w", err)
	}
	return nil
}

func (c *Client) authenticate(ctx context.Context, op, path string, body any, requireToken bool) (*iam.AuthResult, error) {
	var out authResponse
	if err := c.do(ctx, http.MethodPost, path, "", body, &out); err != nil {
		return nil, fmt.Errorf("iam/restapi: %s: %w", op, err)
	}
	if requireToken && out.Token == "" {
		return nil, fmt.Errorf("iam/restapi: %s: empty token: %w", op, iam.ErrMalformedResponse)
	}

	res := &iam.AuthResult{Token: out.Token}
	if out.User != nil {
		identity, err := out.User.toIdentity()
		if err != nil {
			return nil, fmt.Errorf("iam/restapi: %s: %w", op, err)
		}
		res.Identity = identity
	}
	return res, nil
}

// do sends one request. A nil out discards the body.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.DebugContext(ctx, "backend call rejected",
			"method", method, "path", path, "status", resp.StatusCode)
		return &iam.APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, iam.ErrMalformedResponse)
	}
	return nil
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from a reply.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
