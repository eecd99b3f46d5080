// Package reports is the reports subgraph: moderation reports on posts and messages.
package reports

import (
	"context"
	_ "embed"
	"errors"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/internal/subgraphs"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

//go:embed schema.graphql
var SDL string

type resolvers struct {
	reports *services.ReportService
}

// NewSchema builds the executable reports subgraph.
func NewSchema(reports *services.ReportService) *graphql.Schema {
	r := &resolvers{reports: reports}

	schema := graphql.MustNewSchema(SDL).
		Resolve("Query", "adminGetReports", subgraphs.Admin(r.list)).
		Resolve("Query", "adminCountReports", subgraphs.Admin(r.count)).
		Resolve("Mutation", "createReport", r.create).
		Resolve("Mutation", "adminResolveReport", subgraphs.Admin(r.resolve)).
		Resolve("Mutation", "adminRemoveReport", subgraphs.Admin(r.remove)).
		Resolve("Report", "user", reportUser).
		Resolve("Report", "resolved", reportResolved).
		Resolve("Report", "resolvedBy", reportResolvedBy).
		Resolve("Report", "post", reportTarget(models.ReportEntityPost, "Post")).
		Resolve("Report", "message", reportTarget(models.ReportEntityMessage, "Message")).
		ResolveReference("Report", r.reference)
	for _, typename := range []string{"User", "Post", "Message"} {
		schema.ResolveReference(typename, passThrough)
	}
	return schema
}

func (r *resolvers) list(ctx context.Context, p graphql.ResolveParams) (any, error) {
	filter := reportFilter(p.Args)
	filter.Page = subgraphs.Page(p.Args)
	return r.reports.List(ctx, filter)
}

func (r *resolvers) count(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.reports.Count(ctx, reportFilter(p.Args))
}

func (r *resolvers) create(ctx context.Context, p graphql.ResolveParams) (any, error) {
	var input services.CreateReportInput
	if err := graphql.DecodeArg(p.Args, "input", &input); err != nil {
		return nil, err
	}
	return r.reports.Create(ctx, p.Request.UserID, input)
}

func (r *resolvers) resolve(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.reports.Resolve(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) remove(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.reports.Delete(ctx, graphql.StringArg(p.Args, "id")))
}

func reportUser(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.Report).UserID), nil
}

func reportResolved(_ context.Context, p graphql.ResolveParams) (any, error) {
	return p.Source.(*models.Report).ResolvedBy != nil, nil
}

func reportResolvedBy(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.RefPtr("User", p.Source.(*models.Report).ResolvedBy), nil
}

// reportTarget points at the reported entity when it has the given kind.
func reportTarget(entity, typename string) graphql.FieldResolver {
	return func(_ context.Context, p graphql.ResolveParams) (any, error) {
		report := p.Source.(*models.Report)
		if report.Entity != entity {
			return nil, nil
		}
		return graphql.Ref(typename, report.EntityID), nil
	}
}

// reference resolves reports for admins only.
func (r *resolvers) reference(ctx context.Context, rc reqctx.RequestContext, ref graphql.Reference) (any, error) {
	if !rc.IsAdminConsole() {
		return nil, nil
	}
	report, err := r.reports.Get(ctx, ref.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return report, err
}

func passThrough(_ context.Context, _ reqctx.RequestContext, ref graphql.Reference) (any, error) {
	return &ref, nil
}

func reportFilter(args map[string]any) services.ReportFilter {
	filter := services.ReportFilter{Entity: graphql.StringArg(args, "entity")}
	if resolved, ok := args["resolved"].(bool); ok {
		filter.Resolved = &resolved
	}
	return filter
}
