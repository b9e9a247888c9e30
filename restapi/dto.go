package restapi

import (
	"fmt"

	iam "github.com/chimerakang/jobboard-iam"
)

// JSON wire types of the job-board API.

type identityDTO struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Email   string      `json:"email"`
	Status  string      `json:"status"`
	Avatar  string      `json:"avatar"`
	Roles   []roleDTO   `json:"roles"`
	Company *companyDTO `json:"company,omitempty"`
}

type roleDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type companyDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type validateResponse struct {
	Valid *bool        `json:"valid"`
	User  *identityDTO `json:"user,omitempty"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *identityDTO `json:"user,omitempty"`
}

func (d *identityDTO) toIdentity() (*iam.Identity, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("identity without id: %w", iam.ErrMalformedResponse)
	}
	identity := &iam.Identity{
		ID:     d.ID,
		Name:   d.Name,
		Email:  d.Email,
		Status: iam.AccountStatus(d.Status),
		Avatar: d.Avatar,
		Roles:  make([]iam.Role, 0, len(d.Roles)),
	}
	for _, r := range d.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("role without name: %w", iam.ErrMalformedResponse)
		}
		identity.Roles = append(identity.Roles, iam.Role{ID: r.ID, Name: r.Name, Description: r.Description})
	}
	if d.Company != nil {
		identity.Company = &iam.Company{ID: d.Company.ID, Name: d.Company.Name}
	}
	return identity, nil
}
