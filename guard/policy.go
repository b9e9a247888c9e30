package guard

import (
	"path"
	"sort"
	"strings"

	iam "github.com/chimerakang/jobboard-iam"
)

// Rule gates every path under Prefix. An empty Roles list requires
// authentication only.
type Rule struct {
	Prefix string
	Roles  []string
}

// Policy maps path prefixes to the roles allowed to enter them. Paths that
// match no rule are open.
type Policy struct {
	rules []Rule // longest prefix first
}

// NewPolicy builds a Policy. Trailing slashes are ignored; a later rule with
// the same prefix replaces an earlier one.
func NewPolicy(rules ...Rule) *Policy {
	byPrefix := make(map[string]Rule, len(rules))
	for _, r := range rules {
		r.Prefix = normalize(r.Prefix)
		r.Roles = append([]string(nil), r.Roles...)
		byPrefix[r.Prefix] = r
	}
	p := &Policy{rules: make([]Rule, 0, len(byPrefix))}
	for _, r := range byPrefix {
		p.rules = append(p.rules, r)
	}
	sort.Slice(p.rules, func(i, j int) bool {
		if len(p.rules[i].Prefix) != len(p.rules[j].Prefix) {
			return len(p.rules[i].Prefix) > len(p.rules[j].Prefix)
		}
		return p.rules[i].Prefix < p.rules[j].Prefix
	})
	return p
}

// DefaultPolicy is the job-board admin area: HR and admins share the panel,
// HR tooling is HR-only and everything else under it is admin-only.
func DefaultPolicy() *Policy {
	admin := []string{iam.RoleAdmin}
	rules := []Rule{
		{Prefix: "/admin", Roles: []string{iam.RoleAdmin, iam.RoleHR}},
		{Prefix: "/admin/hr", Roles: []string{iam.RoleHR}},
	}
	for _, page := range []string{
		"dashboard", "users", "roles",
		"tags", "levels", "areas", "categories", "positions", "form-of-work", "companies",
	} {
		rules = append(rules, Rule{Prefix: "/admin/" + page, Roles: admin})
	}
	return NewPolicy(rules...)
}

// Rules returns the rules, longest prefix first.
func (p *Policy) Rules() []Rule {
	if p == nil {
		return nil
	}
	return append([]Rule(nil), p.rules...)
}

// Match returns the rule that governs path.
func (p *Policy) Match(path string) (Rule, bool) {
	if p == nil {
		return Rule{}, false
	}
	path = normalize(path)
	for _, r := range p.rules {
		if under(path, r.Prefix) {
			return r, true
		}
	}
	return Rule{}, false
}

// Guarded reports whether path requires a credential.
func (p *Policy) Guarded(path string) bool {
	_, ok := p.Match(path)
	return ok
}

// Allows reports whether identity may enter path. Open paths admit everyone,
// including a nil identity.
func (p *Policy) Allows(identity *iam.Identity, path string) bool {
	rule, ok := p.Match(path)
	if !ok {
		return true
	}
	if identity == nil {
		return false
	}
	return len(rule.Roles) == 0 || iam.HasAnyRole(identity, rule.Roles...)
}

func rolesAllowed(held []string, rule Rule) bool {
	return len(rule.Roles) == 0 || iam.HasAnyRoleName(held, rule.Roles...)
}

// under reports whether path equals prefix or lies below it on a segment boundary.
func under(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// normalize strips query and fragment, then cleans the path so repeated
// slashes and dot segments cannot select a looser rule.
func normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
