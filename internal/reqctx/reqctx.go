// Package reqctx carries the per-request caller identity from the gateway to the
// subgraphs. The value is passed explicitly through resolvers and services; it is
// never stored in a context.Context.
package reqctx

import (
	"net/http"
	"strings"

	"github.com/charlesng35/studyhub/internal/auth"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// Header names forwarded from the gateway to every subgraph call.
const (
	HeaderUserID  = "user-id"
	HeaderIsAdmin = "is-admin"
	HeaderFrom    = "from"
)

// FromAdminConsole is the from tag sent by the admin console.
const FromAdminConsole = "admin"

// RequestContext describes the caller of a single request. The zero value is anonymous.
type RequestContext struct {
	UserID  string
	IsAdmin bool
	From    string
}

// TokenVerifier validates bearer credentials.
type TokenVerifier interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// Derive builds a RequestContext from an Authorization header value and the from tag.
// An absent or invalid credential yields an anonymous context rather than an error.
func Derive(verifier TokenVerifier, authorization, from string) RequestContext {
	rc := RequestContext{From: strings.TrimSpace(from)}

	token := BearerToken(authorization)
	if token == "" || verifier == nil {
		return rc
	}

	claims, err := verifier.ValidateAccessToken(token)
	if err != nil {
		return rc
	}

	rc.UserID = claims.UserID
	rc.IsAdmin = claims.IsAdmin
	return rc
}

// BearerToken strips an optional "Bearer " prefix from an Authorization value.
func BearerToken(authorization string) string {
	value := strings.TrimSpace(authorization)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		value = strings.TrimSpace(value[7:])
	}
	return value
}

// FromHeaders reads a context forwarded by the gateway.
func FromHeaders(h http.Header) RequestContext {
	return RequestContext{
		UserID:  strings.TrimSpace(h.Get(HeaderUserID)),
		IsAdmin: strings.EqualFold(strings.TrimSpace(h.Get(HeaderIsAdmin)), "true"),
		From:    strings.TrimSpace(h.Get(HeaderFrom)),
	}
}

// Apply writes the context onto outbound headers. Absent values are removed so a
// stale header can never leak into another call.
func (rc RequestContext) Apply(h http.Header) {
	setOrDelete(h, HeaderUserID, rc.UserID)
	if rc.IsAdmin {
		h.Set(HeaderIsAdmin, "true")
	} else {
		h.Del(HeaderIsAdmin)
	}
	setOrDelete(h, HeaderFrom, rc.From)
}

// Anonymous reports whether no verified identity is attached.
func (rc RequestContext) Anonymous() bool {
	return rc.UserID == ""
}

// RequireUser returns the caller id or an authorization error.
func (rc RequestContext) RequireUser() (string, error) {
	if rc.UserID == "" {
		return "", apperrors.ErrUnauthorized
	}
	return rc.UserID, nil
}

// IsAdminConsole reports whether the caller is an admin coming through the admin console.
// is-admin alone is never enough.
func (rc RequestContext) IsAdminConsole() bool {
	return rc.IsAdmin && rc.From == FromAdminConsole
}

// RequireAdmin rejects callers that do not pass the admin console check.
func (rc RequestContext) RequireAdmin() error {
	if rc.UserID == "" {
		return apperrors.ErrUnauthorized
	}
	if !rc.IsAdminConsole() {
		return apperrors.ErrForbidden.WithMessage("Admin access required")
	}
	return nil
}

func setOrDelete(h http.Header, key, value string) {
	if value == "" {
		h.Del(key)
		return
	}
	h.Set(key, value)
}
