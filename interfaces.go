package iam

import "context"

// CredentialStore holds exactly one bearer credential.
// Implementations: credential/ (memory, file, redis, sqlite).
type CredentialStore interface {
	// Save overwrites any stored token.
	Save(ctx context.Context, token string) error

	// Load returns the stored token, or ok=false when nothing usable is stored.
	// Storage failures are reported as absent.
	Load(ctx context.Context) (token string, ok bool)

	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// IdentityService resolves the principal behind a credential ("who am I").
type IdentityService interface {
	WhoAmI(ctx context.Context, token string) (*Identity, error)
}

// TokenValidator checks that a credential is still accepted.
// Implementations: restapi/ (remote), jwks/ (local signature check), fake/ (testing).
type TokenValidator interface {
	// Validate returns an error for any token that must not be trusted.
	Validate(ctx context.Context, token string) (*Claims, error)
}

// Authenticator exchanges user input for credentials.
type Authenticator interface {
	Login(ctx context.Context, req LoginRequest) (*AuthResult, error)
	Register(ctx context.Context, req RegisterRequest) (*AuthResult, error)
	VerifyCode(ctx context.Context, req VerifyRequest) (*AuthResult, error)
	SocialCallback(ctx context.Context, req SocialCallback) (*AuthResult, error)

	// Logout notifies the backend that the token is no longer used.
	Logout(ctx context.Context, token string) error
}
