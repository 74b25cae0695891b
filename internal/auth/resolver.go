package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/assessly/assessly/internal/rbac"
	"github.com/assessly/assessly/internal/shared"
)

// Resolver turns an inbound request into a Principal. Implementations return
// ErrNoPrincipal when nobody is signed in and other errors when the identity
// could not be established.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*Principal, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, r *http.Request) (*Principal, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, r *http.Request) (*Principal, error) {
	return f(ctx, r)
}

// SessionResolver reads the identity stored in the request session.
type SessionResolver struct{}

// Resolve implements Resolver.
func (SessionResolver) Resolve(ctx context.Context, r *http.Request) (*Principal, error) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		return nil, ErrNoPrincipal
	}
	userID := strings.TrimSpace(sess.User())
	if userID == "" {
		return nil, ErrNoPrincipal
	}
	return &Principal{
		ID:             userID,
		Role:           rbac.ParseRole(sess.Get(shared.SessionKeyRole)),
		OrganizationID: strings.TrimSpace(sess.Get(shared.SessionKeyOrgID)),
	}, nil
}

// Identity headers set by a trusted upstream proxy.
const (
	HeaderUserID = "X-Auth-User-Id"
	HeaderRole   = "X-Auth-Role"
	HeaderOrgID  = "X-Auth-Org-Id"
)

// HeaderResolver trusts identity headers injected by an authenticating proxy.
// It must only be enabled behind a proxy that strips these headers from
// client traffic.
type HeaderResolver struct{}

// Resolve implements Resolver.
func (HeaderResolver) Resolve(ctx context.Context, r *http.Request) (*Principal, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return nil, ErrNoPrincipal
	}
	return &Principal{
		ID:             userID,
		Role:           rbac.ParseRole(r.Header.Get(HeaderRole)),
		OrganizationID: strings.TrimSpace(r.Header.Get(HeaderOrgID)),
	}, nil
}

// ChainResolver tries each resolver in order until one yields a principal.
// Errors other than ErrNoPrincipal stop the chain.
type ChainResolver []Resolver

// Resolve implements Resolver.
func (c ChainResolver) Resolve(ctx context.Context, r *http.Request) (*Principal, error) {
	for _, res := range c {
		p, err := res.Resolve(ctx, r)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNoPrincipal) {
			return nil, err
		}
	}
	return nil, ErrNoPrincipal
}

// NewResolver selects a resolver by name: session, header or chain.
func NewResolver(source string) (Resolver, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", "session":
		return SessionResolver{}, nil
	case "header":
		return HeaderResolver{}, nil
	case "chain":
		return ChainResolver{SessionResolver{}, HeaderResolver{}}, nil
	default:
		return nil, errors.New("auth: unknown identity source " + source)
	}
}

// RoleFromRequest reports the role of the principal stored in the request
// context.
func RoleFromRequest(r *http.Request) (rbac.Role, bool) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		return "", false
	}
	return p.Role, true
}
