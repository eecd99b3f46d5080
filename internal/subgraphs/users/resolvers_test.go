package users

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
)

type fixture struct {
	schema *graphql.Schema
	jwt    *auth.JWTService
	users  *services.UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	jwt, err := auth.NewJWTService(auth.JWTConfig{Secret: "users-secret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)
	users, err := services.NewUserService(db, jwt)
	require.NoError(t, err)
	return &fixture{schema: NewSchema(users), jwt: jwt, users: users}
}

func (f *fixture) run(t *testing.T, rc reqctx.RequestContext, query string, vars map[string]any) (map[string]any, gqlerror.List) {
	t.Helper()
	resp := f.schema.Execute(context.Background(), rc, graphql.Request{Query: query, Variables: vars})
	body, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(body, &data))
	return data, resp.Errors
}

func (f *fixture) signUp(t *testing.T, name, email string) string {
	t.Helper()
	data, errs := f.run(t, reqctx.RequestContext{}, `mutation($input: SignUpInput!) {
		signUp(input: $input) { token user { id name } }
	}`, map[string]any{"input": map[string]any{"name": name, "email": email, "password": "correct-horse"}})
	require.Empty(t, errs)
	payload := data["signUp"].(map[string]any)
	require.NotEmpty(t, payload["token"])

	claims, err := f.jwt.ValidateAccessToken(payload["token"].(string))
	require.NoError(t, err)
	user := payload["user"].(map[string]any)
	require.Equal(t, user["id"], claims.UserID)
	return claims.UserID
}

func TestSignUpLoginAndMe(t *testing.T) {
	f := newFixture(t)
	id := f.signUp(t, "Ada", "ada@example.com")

	data, errs := f.run(t, reqctx.RequestContext{}, `mutation { login(email: "ADA@example.com", password: "correct-horse") { user { id } } }`, nil)
	require.Empty(t, errs)
	require.Equal(t, id, data["login"].(map[string]any)["user"].(map[string]any)["id"])

	_, errs = f.run(t, reqctx.RequestContext{}, `mutation { login(email: "ada@example.com", password: "wrong-password") { token } }`, nil)
	require.Len(t, errs, 1)
	require.Equal(t, "INVALID_CREDENTIALS", graphql.ErrorCode(errs[0]))

	data, errs = f.run(t, reqctx.RequestContext{UserID: id}, `{ me { id name email isAdmin } }`, nil)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"id": id, "name": "Ada", "email": "ada@example.com", "isAdmin": false}, data["me"])

	data, errs = f.run(t, reqctx.RequestContext{}, `{ me { id } }`, nil)
	require.Empty(t, errs)
	require.Nil(t, data["me"])
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "Ada", "ada@example.com")

	_, errs := f.run(t, reqctx.RequestContext{}, `mutation { signUp(input: {name: "Other", email: "ada@example.com", password: "long-enough"}) { token } }`, nil)
	require.Len(t, errs, 1)
	require.Equal(t, "CONFLICT", graphql.ErrorCode(errs[0]))
}

func TestEmailIsHiddenFromOtherUsers(t *testing.T) {
	f := newFixture(t)
	ada := f.signUp(t, "Ada", "ada@example.com")
	bob := f.signUp(t, "Bob", "bob@example.com")

	data, errs := f.run(t, reqctx.RequestContext{UserID: bob}, `query($id: ID!) { user(id: $id) { name email } }`, map[string]any{"id": ada})
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"name": "Ada", "email": nil}, data["user"])

	admin := reqctx.RequestContext{UserID: bob, IsAdmin: true, From: reqctx.FromAdminConsole}
	data, errs = f.run(t, admin, `query($id: ID!) { user(id: $id) { email } }`, map[string]any{"id": ada})
	require.Empty(t, errs)
	require.Equal(t, "ada@example.com", data["user"].(map[string]any)["email"])
}

func TestAdminQueriesRequireAdminConsole(t *testing.T) {
	f := newFixture(t)
	id := f.signUp(t, "Ada", "ada@example.com")
	f.signUp(t, "Bob", "bob@example.com")

	cases := []struct {
		name string
		rc   reqctx.RequestContext
		code string
	}{
		{name: "anonymous", rc: reqctx.RequestContext{}, code: "UNAUTHORIZED"},
		{name: "user", rc: reqctx.RequestContext{UserID: id}, code: "FORBIDDEN"},
		{name: "admin outside console", rc: reqctx.RequestContext{UserID: id, IsAdmin: true, From: "web"}, code: "FORBIDDEN"},
		{name: "console without admin", rc: reqctx.RequestContext{UserID: id, From: reqctx.FromAdminConsole}, code: "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, errs := f.run(t, tc.rc, `{ adminCountUsers }`, nil)
			require.Len(t, errs, 1)
			require.Equal(t, tc.code, graphql.ErrorCode(errs[0]))
		})
	}

	admin := reqctx.RequestContext{UserID: id, IsAdmin: true, From: reqctx.FromAdminConsole}
	data, errs := f.run(t, admin, `{ adminCountUsers adminGetUsers(limit: 1) { name } }`, nil)
	require.Empty(t, errs)
	require.EqualValues(t, 2, data["adminCountUsers"])
	require.Equal(t, []any{map[string]any{"name": "Ada"}}, data["adminGetUsers"])
}

func TestUserReferencesResolveDeletedAccountsToNull(t *testing.T) {
	f := newFixture(t)
	ada := f.signUp(t, "Ada", "ada@example.com")
	bob := f.signUp(t, "Bob", "bob@example.com")
	require.NoError(t, f.users.Delete(context.Background(), bob))

	data, errs := f.run(t, reqctx.RequestContext{}, `query($r: [_Any!]!) {
		_entities(representations: $r) { ... on User { id name } }
	}`, map[string]any{"r": []any{
		map[string]any{"__typename": "User", "id": bob},
		map[string]any{"__typename": "User", "id": ada},
	}})
	require.Empty(t, errs)
	require.Equal(t, []any{nil, map[string]any{"id": ada, "name": "Ada"}}, data["_entities"])
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	id := f.signUp(t, "Ada", "ada@example.com")

	data, errs := f.run(t, reqctx.RequestContext{UserID: id}, `mutation { updateProfile(input: {name: "Ada Lovelace"}) { name } }`, nil)
	require.Empty(t, errs)
	require.Equal(t, "Ada Lovelace", data["updateProfile"].(map[string]any)["name"])

	_, errs = f.run(t, reqctx.RequestContext{}, `mutation { updateProfile(input: {name: "Nobody"}) { name } }`, nil)
	require.Equal(t, "UNAUTHORIZED", graphql.ErrorCode(errs[0]))
}
