package oauth2_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chimerakang/jobboard-iam/oauth2"
	"github.com/redis/go-redis/v9"
)

func google() oauth2.Provider {
	return oauth2.Provider{
		Name:        "Google",
		AuthURL:     "https://accounts.example.com/o/oauth2/auth?prompt=select_account",
		ClientID:    "client-1",
		RedirectURL: "https://jobs.example.com/auth/social/google/callback",
		Scopes:      []string{"openid", "email"},
	}
}

func newFlow(t *testing.T, opts ...oauth2.Option) *oauth2.Flow {
	t.Helper()
	f, err := oauth2.New([]oauth2.Provider{google()}, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return f
}

func TestAuthCodeURL(t *testing.T) {
	f := newFlow(t)

	raw, state, err := f.AuthCodeURL(context.Background(), "google")
	if err != nil {
		t.Fatalf("AuthCodeURL() error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	checks := map[string]string{
		"response_type": "code",
		"client_id":     "client-1",
		"redirect_uri":  "https://jobs.example.com/auth/social/google/callback",
		"scope":         "openid email",
		"state":         state,
		"prompt":        "select_account",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if state == "" {
		t.Error("state should not be empty")
	}
}

func TestCallback_StateUsedOnce(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	_, state, _ := f.AuthCodeURL(ctx, "google")

	cb, err := f.Callback(ctx, "GOOGLE", state, "code-1")
	if err != nil {
		t.Fatalf("Callback() error: %v", err)
	}
	if cb.Provider != "google" || cb.Code != "code-1" || cb.State != state {
		t.Errorf("callback = %+v", cb)
	}

	if _, err := f.Callback(ctx, "google", state, "code-1"); !errors.Is(err, oauth2.ErrInvalidState) {
		t.Errorf("replayed state error = %v, want ErrInvalidState", err)
	}
}

func TestCallback_Rejections(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()

	if _, err := f.Callback(ctx, "google", "forged", "code"); !errors.Is(err, oauth2.ErrInvalidState) {
		t.Errorf("forged state error = %v", err)
	}
	if _, err := f.Callback(ctx, "google", "", "code"); !errors.Is(err, oauth2.ErrInvalidState) {
		t.Errorf("empty state error = %v", err)
	}
	if _, err := f.Callback(ctx, "github", "x", "code"); !errors.Is(err, oauth2.ErrUnknownProvider) {
		t.Errorf("unknown provider error = %v", err)
	}
	if _, _, err := f.AuthCodeURL(ctx, "github"); !errors.Is(err, oauth2.ErrUnknownProvider) {
		t.Errorf("AuthCodeURL unknown provider error = %v", err)
	}

	_, state, _ := f.AuthCodeURL(ctx, "google")
	if _, err := f.Callback(ctx, "google", state, ""); err == nil {
		t.Error("missing code should fail validation")
	}
}

func TestCallback_ExpiredState(t *testing.T) {
	f := newFlow(t, oauth2.WithStateTTL(10*time.Millisecond))
	ctx := context.Background()
	_, state, _ := f.AuthCodeURL(ctx, "google")

	time.Sleep(20 * time.Millisecond)
	if _, err := f.Callback(ctx, "google", state, "code"); !errors.Is(err, oauth2.ErrInvalidState) {
		t.Errorf("expired state error = %v, want ErrInvalidState", err)
	}
}

func TestNew_ValidatesProviders(t *testing.T) {
	bad := google()
	bad.AuthURL = "not a url"
	if _, err := oauth2.New([]oauth2.Provider{bad}); err == nil {
		t.Error("New() should reject an invalid auth url")
	}

	f := newFlow(t)
	if got := f.Providers(); len(got) != 1 || got[0] != "google" {
		t.Errorf("Providers() = %v", got)
	}
}

func TestRedisStates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFlow(t, oauth2.WithStateStore(oauth2.NewRedisStates(client, "")))
	ctx := context.Background()
	_, state, err := f.AuthCodeURL(ctx, "google")
	if err != nil {
		t.Fatalf("AuthCodeURL() error: %v", err)
	}
	if !mr.Exists("jobboard:oauth2:state:" + state) {
		t.Fatal("state should be stored in redis")
	}
	if ttl := mr.TTL("jobboard:oauth2:state:" + state); ttl != oauth2.DefaultStateTTL {
		t.Errorf("TTL = %v, want %v", ttl, oauth2.DefaultStateTTL)
	}

	if _, err := f.Callback(ctx, "google", state, "code"); err != nil {
		t.Fatalf("Callback() error: %v", err)
	}
	if mr.Exists("jobboard:oauth2:state:" + state) {
		t.Error("state should be consumed")
	}
	if _, err := f.Callback(ctx, "google", state, "code"); !errors.Is(err, oauth2.ErrInvalidState) {
		t.Errorf("replay error = %v", err)
	}
}
