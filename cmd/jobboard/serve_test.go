package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/chimerakang/jobboard-iam/credential"
	"github.com/chimerakang/jobboard-iam/fake"
	"github.com/chimerakang/jobboard-iam/guard"
	"github.com/chimerakang/jobboard-iam/metrics"
	"github.com/chimerakang/jobboard-iam/oauth2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T) (*gin.Engine, *fake.Backend) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := fake.New(
		fake.WithUser("tok-admin", "u1", "admin@example.com", []string{"ADMIN"}),
		fake.WithUser("tok-user", "u2", "user@example.com", []string{"USER"}),
		fake.WithAccount("admin@example.com", "secret", "tok-admin"),
		fake.WithSocialCode("google", "g-code", "tok-user"),
	)
	flow, err := oauth2.New([]oauth2.Provider{{
		Name:        "google",
		AuthURL:     "https://accounts.example.com/auth",
		ClientID:    "cid",
		RedirectURL: "https://jobs.example.com/auth/social/google/callback",
	}})
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := &server{
		auth:       backend,
		identities: backend,
		guard: guard.New(credential.NewMemory(), backend, guard.IdentitySourceFunc(backend.WhoAmI),
			guard.WithClearOnReject(false), guard.WithLogger(logger)),
		flow:       flow,
		metrics:    metrics.NewWithRegistry(reg, reg),
		logger:     logger,
		cookieName: "jobboard_token",
		apiPrefix:  "/api/",
	}
	return s.routes(), backend
}

func serve(r http.Handler, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func tokenCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "jobboard_token" {
			return c
		}
	}
	return nil
}

func TestServer_LoginThenAdmin(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodPost, "/auth/login", `{"email":"admin@example.com","password":"secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	cookie := tokenCookie(w)
	if cookie == nil || cookie.Value != "tok-admin" || !cookie.HttpOnly {
		t.Fatalf("cookie = %+v, want http-only tok-admin", cookie)
	}

	if w := serve(r, http.MethodGet, "/admin/users", "", cookie); w.Code != http.StatusOK {
		t.Errorf("/admin/users status = %d, want 200", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/me", "", cookie); !strings.Contains(w.Body.String(), `"id":"u1"`) {
		t.Errorf("/api/me = %s", w.Body.String())
	}
}

func TestServer_LoginRejected(t *testing.T) {
	r, _ := newTestServer(t)

	if w := serve(r, http.MethodPost, "/auth/login", `{"email":"admin@example.com","password":"nope"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", w.Code)
	}
	if w := serve(r, http.MethodPost, "/auth/login", `{"email":"nope","password":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want 400", w.Code)
	}
}

func TestServer_GuardRedirects(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodGet, "/admin/users", "")
	if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "/auth/login?redirect=") {
		t.Errorf("anonymous = %d %q", w.Code, w.Header().Get("Location"))
	}

	user := &http.Cookie{Name: "jobboard_token", Value: "tok-user"}
	w = serve(r, http.MethodGet, "/admin/users", "", user)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/forbidden" {
		t.Errorf("user = %d %q", w.Code, w.Header().Get("Location"))
	}
	if w := serve(r, http.MethodGet, "/profile", "", user); w.Code != http.StatusOK {
		t.Errorf("/profile = %d, want 200", w.Code)
	}
}

func TestServer_Menu(t *testing.T) {
	r, _ := newTestServer(t)

	admin := &http.Cookie{Name: "jobboard_token", Value: "tok-admin"}
	w := serve(r, http.MethodGet, "/api/menu", "", admin)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"/admin/users"`) {
		t.Errorf("admin menu = %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/menu", "")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), `"/admin`) {
		t.Errorf("anonymous menu = %d %s", w.Code, w.Body.String())
	}
}

func TestServer_Logout(t *testing.T) {
	r, backend := newTestServer(t)

	w := serve(r, http.MethodPost, "/auth/logout", "", &http.Cookie{Name: "jobboard_token", Value: "tok-admin"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", w.Code)
	}
	if c := tokenCookie(w); c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie = %+v, want expired", c)
	}
	if backend.Calls("logout") != 1 {
		t.Error("backend logout should be called")
	}

	if w := serve(r, http.MethodPost, "/auth/logout", ""); w.Code != http.StatusNoContent {
		t.Errorf("second logout status = %d", w.Code)
	}
}

func TestServer_RegisterPending(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodPost, "/auth/register", `{"name":"Cy","email":"cy@example.com","password":"longenough"}`)
	if w.Code != http.StatusAccepted || tokenCookie(w) != nil {
		t.Fatalf("register = %d, cookie %v", w.Code, tokenCookie(w))
	}

	w = serve(r, http.MethodPost, "/auth/verify", `{"email":"cy@example.com","code":"`+fake.RegistrationCode+`"}`)
	if w.Code != http.StatusOK || tokenCookie(w) == nil {
		t.Errorf("verify = %d %s", w.Code, w.Body.String())
	}
}

func TestServer_SocialLogin(t *testing.T) {
	r, _ := newTestServer(t)

	w := serve(r, http.MethodGet, "/auth/social/google", "")
	if w.Code != http.StatusFound {
		t.Fatalf("start status = %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")

	w = serve(r, http.MethodGet, "/auth/social/google/callback?code=g-code&state="+url.QueryEscape(state), "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Fatalf("callback = %d %q: %s", w.Code, w.Header().Get("Location"), w.Body.String())
	}
	if c := tokenCookie(w); c == nil || c.Value != "tok-user" {
		t.Errorf("cookie = %+v", c)
	}

	if w := serve(r, http.MethodGet, "/auth/social/google/callback?code=g-code&state=forged", ""); w.Code != http.StatusBadRequest {
		t.Errorf("forged state status = %d, want 400", w.Code)
	}
	if w := serve(r, http.MethodGet, "/auth/social/myspace", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	r, _ := newTestServer(t)
	serve(r, http.MethodGet, "/admin", "")

	w := serve(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `jobboard_guard_decisions_total{state="unauthenticated"} 1`) {
		t.Errorf("metrics = %d\n%s", w.Code, w.Body.String())
	}
}
