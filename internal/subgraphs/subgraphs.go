// Package subgraphs holds helpers shared by the subgraph resolver packages.
package subgraphs

import (
	"context"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/services"
)

// Subgraph names as they appear in gateway configuration.
const (
	Users         = "users"
	Posts         = "posts"
	Messages      = "messages"
	Notifications = "notifications"
	Reports       = "reports"
)

// Page reads the limit and offset arguments every list field accepts.
func Page(args map[string]any) services.Page {
	return services.Page{
		Limit:  graphql.IntArg(args, "limit", 0),
		Offset: graphql.IntArg(args, "offset", 0),
	}
}

// Admin wraps a resolver so it only runs for callers passing the admin console check.
func Admin(next graphql.FieldResolver) graphql.FieldResolver {
	return func(ctx context.Context, p graphql.ResolveParams) (any, error) {
		if err := p.Request.RequireAdmin(); err != nil {
			return nil, err
		}
		return next(ctx, p)
	}
}

// Authenticated wraps a resolver so it only runs for callers with a verified identity.
func Authenticated(next graphql.FieldResolver) graphql.FieldResolver {
	return func(ctx context.Context, p graphql.ResolveParams) (any, error) {
		if _, err := p.Request.RequireUser(); err != nil {
			return nil, err
		}
		return next(ctx, p)
	}
}

// Done adapts an operation without a result into a Boolean mutation field.
func Done(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return true, nil
}
