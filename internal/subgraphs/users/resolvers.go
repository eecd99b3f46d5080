// Package users is the users subgraph: accounts, sign-up and login.
package users

import (
	"context"
	_ "embed"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/internal/subgraphs"
)

//go:embed schema.graphql
var SDL string

type resolvers struct {
	users *services.UserService
}

// NewSchema builds the executable users subgraph.
func NewSchema(users *services.UserService) *graphql.Schema {
	r := &resolvers{users: users}

	return graphql.MustNewSchema(SDL).
		Resolve("Query", "me", r.me).
		Resolve("Query", "user", r.user).
		Resolve("Query", "adminGetUsers", subgraphs.Admin(r.adminGetUsers)).
		Resolve("Query", "adminCountUsers", subgraphs.Admin(r.adminCountUsers)).
		Resolve("Mutation", "signUp", r.signUp).
		Resolve("Mutation", "login", r.login).
		Resolve("Mutation", "updateProfile", r.updateProfile).
		Resolve("Mutation", "adminRemoveUser", subgraphs.Admin(r.adminRemoveUser)).
		Resolve("User", "email", r.email).
		ResolveReference("User", r.reference)
}

func (r *resolvers) me(ctx context.Context, p graphql.ResolveParams) (any, error) {
	if p.Request.Anonymous() {
		return nil, nil
	}
	return r.users.FindByID(ctx, p.Request.UserID)
}

func (r *resolvers) user(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.users.FindByID(ctx, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) adminGetUsers(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.users.List(ctx, services.UserFilter{
		Search: graphql.StringArg(p.Args, "search"),
		Page:   subgraphs.Page(p.Args),
	})
}

func (r *resolvers) adminCountUsers(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.users.Count(ctx, services.UserFilter{Search: graphql.StringArg(p.Args, "search")})
}

func (r *resolvers) signUp(ctx context.Context, p graphql.ResolveParams) (any, error) {
	var input services.SignUpInput
	if err := graphql.DecodeArg(p.Args, "input", &input); err != nil {
		return nil, err
	}
	return r.users.SignUp(ctx, input)
}

func (r *resolvers) login(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.users.Login(ctx, services.LoginInput{
		Email:    graphql.StringArg(p.Args, "email"),
		Password: graphql.StringArg(p.Args, "password"),
	})
}

func (r *resolvers) updateProfile(ctx context.Context, p graphql.ResolveParams) (any, error) {
	var input services.UpdateProfileInput
	if err := graphql.DecodeArg(p.Args, "input", &input); err != nil {
		return nil, err
	}
	return r.users.UpdateProfile(ctx, p.Request.UserID, input)
}

func (r *resolvers) adminRemoveUser(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.users.Delete(ctx, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) email(_ context.Context, p graphql.ResolveParams) (any, error) {
	user, ok := p.Source.(*models.User)
	if !ok {
		return nil, nil
	}
	if p.Request.UserID == user.ID || p.Request.IsAdminConsole() {
		return user.Email, nil
	}
	return nil, nil
}

// reference resolves User entities for the other subgraphs. Deleted accounts come
// back as null.
func (r *resolvers) reference(ctx context.Context, _ reqctx.RequestContext, ref graphql.Reference) (any, error) {
	return r.users.FindByID(ctx, ref.ID)
}
