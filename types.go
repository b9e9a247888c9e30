package iam

import "time"

// AccountStatus is the lifecycle state of an account as reported by the backend.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusBanned   AccountStatus = "banned"
)

// Identity is the authenticated principal resolved from a credential.
type Identity struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Email   string        `json:"email"`
	Status  AccountStatus `json:"status,omitempty"`
	Avatar  string        `json:"avatar,omitempty"`
	Roles   []Role        `json:"roles"`
	Company *Company      `json:"company,omitempty"` // set for HR principals
}

// Role is a named permission group.
type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Company is the organisation an HR principal acts for.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Claims is what a TokenValidator learned about a credential.
// Remote validators may only fill Subject; local validators decode the full set.
type Claims struct {
	Subject   string
	Email     string
	Roles     []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
	Extra     map[string]any
}

// AuthResult is returned by the login-style backend calls.
// Token is empty when the backend still expects a verification step.
type AuthResult struct {
	Token    string
	Identity *Identity
}

// LoginRequest carries email/password credentials.
type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

// RegisterRequest creates a new candidate account.
type RegisterRequest struct {
	Name     string `json:"name" form:"name" validate:"required"`
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required,min=8"`
}

// VerifyRequest confirms a one-time code sent after registration.
type VerifyRequest struct {
	Email string `json:"email" form:"email" validate:"required,email"`
	Code  string `json:"code" form:"code" validate:"required"`
}

// SocialCallback is the authorization code returned by a social provider.
type SocialCallback struct {
	Provider string `json:"provider" form:"provider" validate:"required"`
	Code     string `json:"code" form:"code" validate:"required"`
	State    string `json:"state,omitempty" form:"state"`
}
