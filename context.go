package iam

import "context"

type ctxKey string

const (
	ctxKeyIdentity     ctxKey = "iam_identity"
	ctxKeyToken        ctxKey = "iam_token"
	ctxKeyNavigationID ctxKey = "iam_navigation_id"
)

// WithIdentity stores the resolved identity in the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, identity)
}

// IdentityFromContext extracts the resolved identity from the context.
func IdentityFromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(ctxKeyIdentity).(*Identity)
	return v
}

// WithToken stores the bearer credential in the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyToken, token)
}

// TokenFromContext extracts the bearer credential from the context.
func TokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyToken).(string)
	return v
}

// WithNavigationID tags the context with the navigation that spawned it.
func WithNavigationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyNavigationID, id)
}

// NavigationIDFromContext returns the navigation ID, or "" outside a navigation.
func NavigationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyNavigationID).(string)
	return v
}
