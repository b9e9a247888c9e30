package ginmw_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/credential"
	"github.com/chimerakang/jobboard-iam/fake"
	"github.com/chimerakang/jobboard-iam/guard"
	"github.com/chimerakang/jobboard-iam/middleware/ginmw"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(opts ...ginmw.GuardOption) *gin.Engine {
	backend := fake.New(
		fake.WithUser("tok-admin", "u1", "admin@example.com", []string{"ADMIN"}),
		fake.WithUser("tok-user", "u2", "user@example.com", []string{"USER"}),
		fake.WithUser("tok-hr", "u3", "hr@example.com", []string{"HR"}),
	)
	rules := append(guard.DefaultPolicy().Rules(), guard.Rule{Prefix: "/api/admin", Roles: []string{iam.RoleAdmin}})
	g := guard.New(credential.NewMemory(), backend, guard.IdentitySourceFunc(backend.WhoAmI),
		guard.WithClearOnReject(false),
		guard.WithPolicy(guard.NewPolicy(rules...)),
	)

	r := gin.New()
	r.Use(ginmw.Guard(g, opts...))
	handler := func(c *gin.Context) {
		id := ginmw.GetIdentity(c)
		name := "anonymous"
		if id != nil {
			name = id.ID
		}
		if ctxID := iam.IdentityFromContext(c.Request.Context()); ctxID != id {
			c.String(http.StatusInternalServerError, "context identity mismatch")
			return
		}
		c.String(http.StatusOK, name)
	}
	r.GET("/jobs", handler)
	r.GET("/healthz", handler)
	r.GET("/admin/users", handler)
	r.GET("/api/admin/users", handler)
	r.GET("/reports", ginmw.RequireRoles("ADMIN"), handler)
	return r
}

func do(r http.Handler, path string, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if setup != nil {
		setup(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func cookie(token string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: ginmw.DefaultCookieName, Value: token}) }
}

func TestGuard_RedirectsToLogin(t *testing.T) {
	w := do(newRouter(), "/admin/users?page=2", nil)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/auth/login?redirect=%2Fadmin%2Fusers%3Fpage%3D2" {
		t.Errorf("Location = %q", loc)
	}
}

func TestGuard_Forbidden(t *testing.T) {
	w := do(newRouter(), "/admin/users", bearer("tok-user"))

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/forbidden" {
		t.Errorf("got %d -> %q, want 302 -> /forbidden", w.Code, w.Header().Get("Location"))
	}
}

func TestGuard_GrantsAdmin(t *testing.T) {
	for name, setup := range map[string]func(*http.Request){
		"bearer": bearer("tok-admin"),
		"cookie": cookie("tok-admin"),
	} {
		t.Run(name, func(t *testing.T) {
			w := do(newRouter(), "/admin/users", setup)
			if w.Code != http.StatusOK || w.Body.String() != "u1" {
				t.Errorf("got %d %q, want 200 u1", w.Code, w.Body.String())
			}
		})
	}
}

func TestGuard_OpenRoute(t *testing.T) {
	r := newRouter()
	if w := do(r, "/jobs", nil); w.Code != http.StatusOK || w.Body.String() != "anonymous" {
		t.Errorf("anonymous: %d %q", w.Code, w.Body.String())
	}
	if w := do(r, "/jobs", bearer("tok-user")); w.Code != http.StatusOK || w.Body.String() != "u2" {
		t.Errorf("signed in: %d %q", w.Code, w.Body.String())
	}
}

func TestGuard_EncodedPathMatchesRoutedPath(t *testing.T) {
	r := newRouter()

	w := do(r, "/%61dmin/users", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("anonymous status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/auth/login?redirect=%2Fadmin%2Fusers" {
		t.Errorf("Location = %q", loc)
	}

	// HR passes the /admin rule but not the stricter /admin/users one.
	w = do(r, "/admin/%75sers", bearer("tok-hr"))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/forbidden" {
		t.Errorf("hr got %d -> %q, want 302 -> /forbidden", w.Code, w.Header().Get("Location"))
	}
}

func TestGuard_RedirectsToCleanPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/admin//users", "/admin/users"},
		{"/admin//users?page=2", "/admin/users?page=2"},
		{"/jobs/../admin/users", "/admin/users"},
		{"/admin/./users/", "/admin/users/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(newRouter(), tt.path, bearer("tok-hr"))
			if w.Code != http.StatusMovedPermanently {
				t.Fatalf("status = %d, want 301", w.Code)
			}
			if loc := w.Header().Get("Location"); loc != tt.want {
				t.Errorf("Location = %q, want %q", loc, tt.want)
			}
		})
	}
}

func TestGuard_RejectedCookieIsCleared(t *testing.T) {
	w := do(newRouter(), "/admin/users", cookie("tok-revoked"))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	set := w.Header().Get("Set-Cookie")
	if !strings.Contains(set, ginmw.DefaultCookieName+"=;") || !strings.Contains(set, "Max-Age=0") {
		t.Errorf("Set-Cookie = %q, want the credential cookie expired", set)
	}
}

func TestGuard_APIPrefix(t *testing.T) {
	r := newRouter(ginmw.WithAPIPrefix("/api/"))

	if w := do(r, "/api/admin/users", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous api status = %d, want 401", w.Code)
	}
	w := do(r, "/api/admin/users", bearer("tok-user"))
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), `"redirect":"/forbidden"`) {
		t.Errorf("user api = %d %s, want 403 with redirect", w.Code, w.Body.String())
	}
}

func TestGuard_ExcludedPaths(t *testing.T) {
	r := newRouter(ginmw.WithExcludedPaths("/healthz"))
	w := do(r, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	r := newRouter()
	if w := do(r, "/reports", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", w.Code)
	}
	if w := do(r, "/reports", bearer("tok-user")); w.Code != http.StatusForbidden {
		t.Errorf("user = %d, want 403", w.Code)
	}
	if w := do(r, "/reports", bearer("tok-admin")); w.Code != http.StatusOK {
		t.Errorf("admin = %d, want 200", w.Code)
	}
}
