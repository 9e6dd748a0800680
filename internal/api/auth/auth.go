// Package auth implements bearer token authentication for the control
// and publish APIs. Tokens are kept hashed; a request is authenticated into
// a Principal which is then checked against the permission a route needs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Permission names a class of API operations
type Permission string

const (
	// PermissionRead allows status, session listing and queue reads
	PermissionRead Permission = "read"
	// PermissionControl allows mode, state and session configuration changes
	PermissionControl Permission = "control"
	// PermissionPublish allows publishing messages for recording
	PermissionPublish Permission = "publish"
)

// AllPermissions lists every permission
var AllPermissions = []Permission{PermissionRead, PermissionControl, PermissionPublish}

// ErrTokenNotFound is returned by a TokenStore for unknown tokens
var ErrTokenNotFound = errors.New("token not found")

// UnauthorizedError rejects a request without valid credentials
type UnauthorizedError struct {
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// ForbiddenError rejects an authenticated request lacking a permission
type ForbiddenError struct {
	Holder  string
	Action  string
	Missing Permission
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s requires the %s permission (token %q)", e.Action, e.Missing, e.Holder)
}

// Token is a registered API token. Only the hash of the secret is kept.
type Token struct {
	Hash        string
	Name        string
	Permissions []Permission
	CreatedAt   int64 // unix seconds
	ExpiresAt   int64 // unix seconds, 0 never expires
}

// Expired reports whether the token is past its expiry at now (unix seconds)
func (t *Token) Expired(now int64) bool {
	return t.ExpiresAt != 0 && now >= t.ExpiresAt
}

// Principal is the authenticated caller of one request
type Principal struct {
	Name        string
	TokenHash   string
	Permissions []Permission
}

// Can reports whether the principal holds perm
func (p *Principal) Can(perm Permission) bool {
	return p != nil && slices.Contains(p.Permissions, perm)
}

// Authenticate resolves an Authorization header value to a principal
func Authenticate(store TokenStore, header string) (*Principal, error) {
	if header == "" {
		return nil, UnauthorizedError{Reason: "missing authorization header"}
	}
	secret, ok := BearerToken(header)
	if !ok {
		return nil, UnauthorizedError{Reason: "expected a bearer token"}
	}
	tok, err := store.ValidateToken(secret)
	if err != nil {
		return nil, UnauthorizedError{Reason: "invalid or expired token"}
	}
	return &Principal{Name: tok.Name, TokenHash: tok.Hash, Permissions: tok.Permissions}, nil
}

// Authorize checks that p may perform action, which needs perm
func Authorize(p *Principal, action string, perm Permission) error {
	if p == nil {
		return UnauthorizedError{Reason: "no principal"}
	}
	if !p.Can(perm) {
		return ForbiddenError{Holder: p.Name, Action: action, Missing: perm}
	}
	return nil
}

// BearerToken extracts the secret of a "Bearer <token>" header
func BearerToken(header string) (string, bool) {
	scheme, secret, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || secret == "" {
		return "", false
	}
	return secret, true
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by WithPrincipal
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Holder names the caller in ctx for audit logs; "anonymous" when the
// request was not authenticated
func Holder(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok && p != nil {
		return p.Name
	}
	return "anonymous"
}
