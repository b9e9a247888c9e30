package restapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/restapi"
)

const adminJSON = `{"id":"u1","name":"Ada","email":"ada@example.com","status":"active",
	"roles":[{"id":"r1","name":"ADMIN"}],"company":{"id":"c1","name":"Acme"}}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = w.Write([]byte(adminJSON))
		case "Bearer garbled":
			_, _ = w.Write([]byte(`{"id":`))
		case "Bearer anonymous":
			_, _ = w.Write([]byte(`{"name":"no id"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
		}
	})

	mux.HandleFunc("/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_, _ = w.Write([]byte(`{"valid":true,"user":` + adminJSON + `}`))
		case "Bearer revoked":
			_, _ = w.Write([]byte(`{"valid":false}`))
		case "Bearer noflag":
			_, _ = w.Write([]byte(`{}`))
		case "Bearer crash":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch {
		case body["email"] == "ada@example.com" && body["password"] == "secret":
			_, _ = w.Write([]byte(`{"token":"good","user":` + adminJSON + `}`))
		case body["email"] == "empty@example.com":
			_, _ = w.Write([]byte(`{"token":""}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"wrong email or password"}`))
		}
	})

	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":""}`))
	})

	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"verified"}`))
	})

	mux.HandleFunc("/auth/social/google/callback", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["code"] != "abc" || body["state"] != "st" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"token":"social"}`))
	})

	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWhoAmI_Success(t *testing.T) {
	c := restapi.New(newTestServer(t).URL)

	identity, err := c.WhoAmI(context.Background(), "good")
	if err != nil {
		t.Fatalf("WhoAmI() error: %v", err)
	}
	if identity.ID != "u1" || identity.Email != "ada@example.com" {
		t.Errorf("identity = %+v", identity)
	}
	if identity.Status != iam.StatusActive {
		t.Errorf("Status = %q, want active", identity.Status)
	}
	if !iam.HasAnyRole(identity, iam.RoleAdmin) {
		t.Errorf("Roles = %v, want ADMIN", identity.RoleNames())
	}
	if identity.Company == nil || identity.Company.Name != "Acme" {
		t.Errorf("Company = %+v, want Acme", identity.Company)
	}
}

func TestWhoAmI_Failures(t *testing.T) {
	c := restapi.New(newTestServer(t).URL)

	tests := []struct {
		token string
		want  error
	}{
		{"bad", iam.ErrUnauthenticated},
		{"garbled", iam.ErrMalformedResponse},
		{"anonymous", iam.ErrMalformedResponse},
	}
	for _, tt := range tests {
		_, err := c.WhoAmI(context.Background(), tt.token)
		if !errors.Is(err, tt.want) {
			t.Errorf("WhoAmI(%q) error = %v, want %v", tt.token, err, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	c := restapi.New(newTestServer(t).URL)

	claims, err := c.Validate(context.Background(), "good")
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if claims.Subject != "u1" || len(claims.Roles) != 1 || claims.Roles[0] != "ADMIN" {
		t.Errorf("claims = %+v", claims)
	}

	tests := []struct {
		token string
		want  error
	}{
		{"revoked", iam.ErrUnauthenticated},
		{"bad", iam.ErrUnauthenticated},
		{"noflag", iam.ErrMalformedResponse},
	}
	for _, tt := range tests {
		if _, err := c.Validate(context.Background(), tt.token); !errors.Is(err, tt.want) {
			t.Errorf("Validate(%q) error = %v, want %v", tt.token, err, tt.want)
		}
	}

	_, err = c.Validate(context.Background(), "crash")
	var apiErr *iam.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Validate(crash) error = %v, want APIError 500", err)
	}
	if errors.Is(err, iam.ErrUnauthenticated) {
		t.Error("a 500 must not read as a definitive rejection")
	}
}

func TestValidate_NetworkError(t *testing.T) {
	srv := newTestServer(t)
	c := restapi.New(srv.URL)
	srv.Close()

	if _, err := c.Validate(context.Background(), "good"); err == nil {
		t.Fatal("Validate() expected error with backend down")
	}
}

func TestLogin(t *testing.T) {
	c := restapi.New(newTestServer(t).URL)

	res, err := c.Login(context.Background(), iam.LoginRequest{Email: "ada@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.Token != "good" || res.Identity == nil || res.Identity.ID != "u1" {
		t.Errorf("result = %+v", res)
	}

	_, err = c.Login(context.Background(), iam.LoginRequest{Email: "ada@example.com", Password: "nope"})
	var apiErr *iam.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "wrong email or password" {
		t.Errorf("Login() error = %v, want APIError with message", err)
	}

	_, err = c.Login(context.Background(), iam.LoginRequest{Email: "empty@example.com", Password: "x"})
	if !errors.Is(err, iam.ErrMalformedResponse) {
		t.Errorf("Login() empty token error = %v, want ErrMalformedResponse", err)
	}
}

func TestRegisterVerifySocial(t *testing.T) {
	c := restapi.New(newTestServer(t).URL)
	ctx := context.Background()

	res, err := c.Register(ctx, iam.RegisterRequest{Name: "Bo", Email: "bo@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if res.Token != "" {
		t.Errorf("Register() token = %q, want empty", res.Token)
	}

	res, err = c.VerifyCode(ctx, iam.VerifyRequest{Email: "bo@example.com", Code: "123456"})
	if err != nil || res.Token != "verified" {
		t.Errorf("VerifyCode() = %+v, %v", res, err)
	}

	res, err = c.SocialCallback(ctx, iam.SocialCallback{Provider: "google", Code: "abc", State: "st"})
	if err != nil || res.Token != "social" {
		t.Errorf("SocialCallback() = %+v, %v", res, err)
	}
}

func TestLogout(t *testing.T) {
	c := restapi.New(newTestServer(t).URL)

	if err := c.Logout(context.Background(), "good"); err != nil {
		t.Errorf("Logout() error: %v", err)
	}
	if err := c.Logout(context.Background(), "bad"); !errors.Is(err, iam.ErrUnauthenticated) {
		t.Errorf("Logout() error = %v, want ErrUnauthenticated", err)
	}
}

func TestWithPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users/me" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(adminJSON))
	}))
	defer srv.Close()

	paths := restapi.DefaultPaths()
	paths.Me = "/api/v1/users/me"
	c := restapi.New(srv.URL+"/", restapi.WithPaths(paths))

	if _, err := c.WhoAmI(context.Background(), "good"); err != nil {
		t.Errorf("WhoAmI() with custom paths error: %v", err)
	}
}
