package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// DefaultOwnerHeader carries the authenticated owner id set by the gateway in
// front of the service.
const DefaultOwnerHeader = "X-Owner-ID"

// ErrUnauthenticated is returned by resolvers when the request carries no identity.
var ErrUnauthenticated = errors.New("api: unauthenticated")

// IdentityResolver maps a request to the owner it acts for.
type IdentityResolver interface {
	Resolve(r *http.Request) (ownerID string, err error)
}

// HeaderIdentity trusts an owner id header set upstream.
type HeaderIdentity struct {
	// Header defaults to DefaultOwnerHeader
	Header string
}

// Resolve implements IdentityResolver.
func (h HeaderIdentity) Resolve(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = DefaultOwnerHeader
	}
	owner := strings.TrimSpace(r.Header.Get(name))
	if owner == "" {
		return "", ErrUnauthenticated
	}
	return owner, nil
}

type ownerKey struct{}

func withOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFrom returns the owner resolved for the request context.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// authenticated resolves the caller before running next.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.identity.Resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid identity")
			return
		}
		next(w, r.WithContext(withOwner(r.Context(), owner)))
	})
}
