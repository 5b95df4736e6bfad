// ABOUTME: Request context helpers carrying the caller's credential through handlers
// ABOUTME: Provides WithCredential/CredentialFromContext for the HTTP middleware

package auth

import (
	"context"
)

// credentialKey is the key type for storing the credential in context.Context.
type credentialKey struct{}

// WithCredential returns a new context carrying the caller's bearer token.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, token)
}

// CredentialFromContext returns the bearer token, or "" if none was attached.
func CredentialFromContext(ctx context.Context) string {
	token, _ := ctx.Value(credentialKey{}).(string)
	return token
}
