package reqctx

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/auth"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

func newVerifier(t *testing.T, clock func() time.Time) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: "test-secret", Issuer: "studyhub", AccessTokenTTL: time.Hour, Clock: clock})
	require.NoError(t, err)
	return svc
}

func TestDeriveFromValidBearer(t *testing.T) {
	svc := newVerifier(t, nil)
	token, err := svc.GenerateAccessToken(auth.AccessTokenInput{UserID: "user-1", IsAdmin: true})
	require.NoError(t, err)

	rc := Derive(svc, "Bearer "+token, " admin ")
	require.Equal(t, RequestContext{UserID: "user-1", IsAdmin: true, From: "admin"}, rc)

	raw := Derive(svc, token, "")
	require.Equal(t, "user-1", raw.UserID)
}

func TestDeriveExpiredTokenIsAnonymous(t *testing.T) {
	current := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc := newVerifier(t, func() time.Time { return current })
	token, err := svc.GenerateAccessToken(auth.AccessTokenInput{UserID: "user-1", IsAdmin: true})
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)

	rc := Derive(svc, "Bearer "+token, "admin")
	require.True(t, rc.Anonymous())
	require.False(t, rc.IsAdmin)
	require.Equal(t, "admin", rc.From)

	_, err = rc.RequireUser()
	require.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestDeriveGarbageTokenIsAnonymous(t *testing.T) {
	rc := Derive(newVerifier(t, nil), "Bearer not-a-token", "")
	require.Equal(t, RequestContext{}, rc)
}

func TestHeadersRoundTrip(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderUserID, "stale")
	h.Set(HeaderIsAdmin, "true")

	RequestContext{From: "web"}.Apply(h)
	require.Empty(t, h.Get(HeaderUserID))
	require.Empty(t, h.Get(HeaderIsAdmin))
	require.Equal(t, "web", h.Get(HeaderFrom))

	in := RequestContext{UserID: "u-9", IsAdmin: true, From: "admin"}
	in.Apply(h)
	require.Equal(t, in, FromHeaders(h))
}

func TestRequireAdminNeedsBothFlags(t *testing.T) {
	cases := []struct {
		name string
		rc   RequestContext
		want error
	}{
		{"anonymous", RequestContext{IsAdmin: true, From: "admin"}, apperrors.ErrUnauthorized},
		{"admin without console", RequestContext{UserID: "u", IsAdmin: true}, apperrors.ErrForbidden},
		{"console without admin", RequestContext{UserID: "u", From: "admin"}, apperrors.ErrForbidden},
		{"admin console", RequestContext{UserID: "u", IsAdmin: true, From: "admin"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rc.RequireAdmin()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}
