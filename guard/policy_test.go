package guard_test

import (
	"testing"

	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/guard"
)

func TestDefaultPolicy_Match(t *testing.T) {
	p := guard.DefaultPolicy()

	tests := []struct {
		path    string
		guarded bool
		prefix  string
	}{
		{"/", false, ""},
		{"/profile", false, ""},
		{"/jobs/42", false, ""},
		{"/administrator", false, ""},
		{"/admin", true, "/admin"},
		{"/admin/", true, "/admin"},
		{"/admin/users", true, "/admin/users"},
		{"/admin/users/7/edit", true, "/admin/users"},
		{"/admin/users?page=2", true, "/admin/users"},
		{"/admin/hr", true, "/admin/hr"},
		{"/admin/hr/candidates", true, "/admin/hr"},
		{"/admin/hrx", true, "/admin"},
		{"/admin/form-of-work", true, "/admin/form-of-work"},
		{"/admin//users", true, "/admin/users"},
		{"//admin/users", true, "/admin/users"},
		{"/admin/./users", true, "/admin/users"},
		{"/jobs/../admin/users", true, "/admin/users"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rule, ok := p.Match(tt.path)
			if ok != tt.guarded {
				t.Fatalf("Match(%q) guarded = %v, want %v", tt.path, ok, tt.guarded)
			}
			if rule.Prefix != tt.prefix {
				t.Errorf("Match(%q) prefix = %q, want %q", tt.path, rule.Prefix, tt.prefix)
			}
		})
	}
}

func TestPolicy_Allows(t *testing.T) {
	p := guard.DefaultPolicy()
	admin := &iam.Identity{ID: "a", Roles: []iam.Role{{Name: "admin"}}}
	hr := &iam.Identity{ID: "h", Roles: []iam.Role{{Name: "HR"}}}
	user := &iam.Identity{ID: "u", Roles: []iam.Role{{Name: "USER"}}}

	tests := []struct {
		name     string
		identity *iam.Identity
		path     string
		want     bool
	}{
		{"anonymous on open route", nil, "/profile", true},
		{"anonymous on admin", nil, "/admin", false},
		{"admin lowercase role", admin, "/admin/users", true},
		{"admin not in hr area", admin, "/admin/hr", false},
		{"hr in panel", hr, "/admin", true},
		{"hr in hr area", hr, "/admin/hr/jobs", true},
		{"hr not in users", hr, "/admin/users", false},
		{"user not in panel", user, "/admin", false},
		{"user on open route", user, "/jobs", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Allows(tt.identity, tt.path); got != tt.want {
				t.Errorf("Allows(%v, %q) = %v, want %v", tt.identity.RoleNames(), tt.path, got, tt.want)
			}
		})
	}
}

func TestNewPolicy_EmptyRolesRequiresAuthOnly(t *testing.T) {
	p := guard.NewPolicy(guard.Rule{Prefix: "/account/"})

	if !p.Guarded("/account/settings") {
		t.Fatal("/account/settings should be guarded")
	}
	if p.Allows(nil, "/account") {
		t.Error("anonymous should not enter an auth-only route")
	}
	if !p.Allows(&iam.Identity{ID: "x"}, "/account") {
		t.Error("any identity should enter an auth-only route")
	}
}

func TestNewPolicy_LaterRuleReplaces(t *testing.T) {
	p := guard.NewPolicy(
		guard.Rule{Prefix: "/reports", Roles: []string{"ADMIN"}},
		guard.Rule{Prefix: "/reports/", Roles: []string{"HR"}},
	)
	rules := p.Rules()
	if len(rules) != 1 || rules[0].Roles[0] != "HR" {
		t.Errorf("Rules() = %+v, want single HR rule", rules)
	}
}

func TestStateHelpers(t *testing.T) {
	if guard.Checking.Terminal() || guard.Unknown.Terminal() {
		t.Error("Unknown and Checking are not terminal")
	}
	for _, s := range []guard.State{guard.Authenticated, guard.Anonymous, guard.Unauthenticated, guard.Forbidden} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if !guard.Anonymous.Granted() || guard.Forbidden.Granted() {
		t.Error("Granted() mismatch")
	}
	if guard.Forbidden.String() != "forbidden" {
		t.Errorf("String() = %q", guard.Forbidden.String())
	}
}
