// Package ginmw runs the route guard inside a Gin server.
//
// Guard evaluates each request path with the credential the browser sent, in
// the Authorization header or a cookie, and either lets the handler render or
// answers with the redirect the guard chose. Under an API prefix the denial is
// a JSON 401 or 403 instead of a redirect.
package ginmw

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/guard"
	"github.com/gin-gonic/gin"
)

// Context keys for the guard's results in gin.Context.
const (
	KeyDecision = "jobboard_decision"
	KeyIdentity = "jobboard_identity"
	KeyToken    = "jobboard_token"
)

// DefaultCookieName is the cookie the BFF stores the credential in.
const DefaultCookieName = "jobboard_token"

// GuardOption configures Guard.
type GuardOption func(*guardConfig)

type guardConfig struct {
	cookieName    string
	excludedPaths map[string]bool
	apiPrefix     string
}

// WithCookieName reads the credential from a different cookie.
func WithCookieName(name string) GuardOption {
	return func(cfg *guardConfig) { cfg.cookieName = name }
}

// WithExcludedPaths skips the guard for exact paths (e.g. health checks, assets).
func WithExcludedPaths(paths ...string) GuardOption {
	return func(cfg *guardConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// WithAPIPrefix answers denials under prefix with JSON errors instead of redirects.
func WithAPIPrefix(prefix string) GuardOption {
	return func(cfg *guardConfig) { cfg.apiPrefix = prefix }
}

// Guard returns middleware that evaluates every request with g.
// Granted requests carry the decision, identity and token in the context.
func Guard(g *guard.Guard, opts ...GuardOption) gin.HandlerFunc {
	cfg := &guardConfig{cookieName: DefaultCookieName, excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		// gin routes on the decoded path; the policy must see the same one
		routed := c.Request.URL.Path
		if clean := cleanPath(routed); clean != routed {
			redirectClean(c, clean)
			return
		}

		token := Token(c, cfg.cookieName)
		target := requestTarget(routed, c.Request.URL.RawQuery)
		d := g.Evaluate(c.Request.Context(), target, token)
		c.Set(KeyDecision, d)

		if d.State.Granted() {
			if d.State == guard.Authenticated {
				c.Set(KeyToken, token)
				c.Set(KeyIdentity, d.Identity)
				ctx := iam.WithToken(c.Request.Context(), token)
				c.Request = c.Request.WithContext(iam.WithIdentity(ctx, d.Identity))
			}
			c.Next()
			return
		}

		if d.State == guard.Unauthenticated && errors.Is(d.Err, iam.ErrUnauthenticated) {
			// the backend rejected the cookie; stop sending it
			ClearCookie(c, cfg.cookieName)
		}
		if cfg.apiPrefix != "" && strings.HasPrefix(c.Request.URL.Path, cfg.apiPrefix) {
			deny(c, d)
			return
		}
		c.Redirect(http.StatusFound, d.Redirect)
		c.Abort()
	}
}

// RequireRoles rejects requests whose identity holds none of roles, for
// handlers outside the guard's policy. Run it after Guard.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := GetIdentity(c)
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !iam.HasAnyRole(identity, roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// cleanPath returns the canonical form of p, keeping a trailing slash.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := path.Clean(p)
	if p[len(p)-1] == '/' && np != "/" {
		np += "/"
	}
	return np
}

// requestTarget re-encodes a decoded path so that escaped '?' or '#' stay in the path.
func requestTarget(p, rawQuery string) string {
	return (&url.URL{Path: p, RawQuery: rawQuery}).RequestURI()
}

func redirectClean(c *gin.Context, clean string) {
	code := http.StatusMovedPermanently
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		code = http.StatusPermanentRedirect
	}
	c.Redirect(code, requestTarget(clean, c.Request.URL.RawQuery))
	c.Abort()
}

func deny(c *gin.Context, d guard.Decision) {
	if d.State == guard.Forbidden {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "redirect": d.Redirect})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "redirect": d.Redirect})
}

// SetCookie stores the credential in an HTTP-only cookie.
func SetCookie(c *gin.Context, name, token string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, token, 0, "/", "", secure, true)
}

// ClearCookie expires the credential cookie.
func ClearCookie(c *gin.Context, name string) {
	if _, err := c.Cookie(name); err != nil {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", false, true)
}

// --- Context helpers ---

// GetDecision returns the guard decision for the request.
func GetDecision(c *gin.Context) (guard.Decision, bool) {
	v, ok := c.Get(KeyDecision)
	if !ok {
		return guard.Decision{}, false
	}
	d, ok := v.(guard.Decision)
	return d, ok
}

// GetIdentity returns the identity resolved for the request, if any.
func GetIdentity(c *gin.Context) *iam.Identity {
	v, _ := c.Get(KeyIdentity)
	id, _ := v.(*iam.Identity)
	return id
}

// GetToken returns the credential the request was authenticated with.
func GetToken(c *gin.Context) string {
	v, _ := c.Get(KeyToken)
	s, _ := v.(string)
	return s
}

// Token extracts the credential from the Bearer header, falling back to cookie.
func Token(c *gin.Context, cookie string) string {
	if t := bearerToken(c.Request); t != "" {
		return t
	}
	if cookie == "" {
		return ""
	}
	t, err := c.Cookie(cookie)
	if err != nil {
		return ""
	}
	return t
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
