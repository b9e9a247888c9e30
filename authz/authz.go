// Package authz derives what the signed-in user may do and see.
//
// Capabilities answer the coarse questions the UI asks ("is this an admin?")
// from the identity's roles. Menus are filtered through the same guard.Policy
// the route guard enforces, so a link is shown exactly when following it
// would be allowed.
package authz

import (
	iam "github.com/chimerakang/jobboard-iam"
	"github.com/chimerakang/jobboard-iam/guard"
)

// Capabilities are derived from an identity's roles. The zero value grants nothing.
type Capabilities struct {
	SignedIn bool
	Admin    bool
	HR       bool
	User     bool
}

// For derives capabilities from identity. A nil identity is signed out.
func For(identity *iam.Identity) Capabilities {
	if identity == nil {
		return Capabilities{}
	}
	return Capabilities{
		SignedIn: true,
		Admin:    iam.HasAnyRole(identity, iam.RoleAdmin),
		HR:       iam.HasAnyRole(identity, iam.RoleHR),
		User:     iam.HasAnyRole(identity, iam.RoleUser),
	}
}

// Panel reports whether the admin panel is reachable at all.
func (c Capabilities) Panel() bool {
	return c.Admin || c.HR
}

// MenuItem is a navigation entry. Children are filtered independently of
// their parent's own path.
type MenuItem struct {
	Title    string     `json:"title"`
	Path     string     `json:"path"`
	Children []MenuItem `json:"children,omitempty"`
}

// AdminMenu is the admin panel sidebar.
func AdminMenu() []MenuItem {
	return []MenuItem{
		{Title: "Dashboard", Path: "/admin/dashboard"},
		{Title: "Users", Path: "/admin/users"},
		{Title: "Roles", Path: "/admin/roles"},
		{Title: "Catalog", Path: "/admin", Children: []MenuItem{
			{Title: "Tags", Path: "/admin/tags"},
			{Title: "Levels", Path: "/admin/levels"},
			{Title: "Areas", Path: "/admin/areas"},
			{Title: "Categories", Path: "/admin/categories"},
			{Title: "Positions", Path: "/admin/positions"},
			{Title: "Form of work", Path: "/admin/form-of-work"},
			{Title: "Companies", Path: "/admin/companies"},
		}},
		{Title: "HR", Path: "/admin/hr", Children: []MenuItem{
			{Title: "Vacancies", Path: "/admin/hr/vacancies"},
			{Title: "Candidates", Path: "/admin/hr/candidates"},
			{Title: "Company profile", Path: "/admin/hr/company"},
		}},
	}
}

// Visible returns the items identity may open under policy. A parent with
// visible children is kept even when its own path is denied; a parent with
// children none of which survive is dropped.
func Visible(policy *guard.Policy, identity *iam.Identity, items []MenuItem) []MenuItem {
	var out []MenuItem
	for _, item := range items {
		if len(item.Children) == 0 {
			if policy.Allows(identity, item.Path) {
				out = append(out, item)
			}
			continue
		}
		children := Visible(policy, identity, item.Children)
		if len(children) == 0 {
			continue
		}
		item.Children = children
		out = append(out, item)
	}
	return out
}
