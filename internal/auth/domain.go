package auth

import (
	"context"
	"errors"

	"github.com/assessly/assessly/internal/rbac"
)

// ErrNoPrincipal reports that the request carries no verified identity.
var ErrNoPrincipal = errors.New("auth: no principal")

// Principal is the verified identity making a request. It is supplied by the
// identity provider and only read here.
type Principal struct {
	ID             string    `json:"id"`
	Role           rbac.Role `json:"role"`
	OrganizationID string    `json:"organizationId,omitempty"`
}

// HasOrganization reports whether the principal belongs to a tenant.
func (p *Principal) HasOrganization() bool {
	return p != nil && p.OrganizationID != ""
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
