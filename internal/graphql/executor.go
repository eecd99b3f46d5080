package graphql

import (
	"context"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

// Request is a GraphQL request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response body. Data is null when execution could not start
// or a non-null root field failed.
type Response struct {
	Data   any           `json:"data"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

// Prepared is a parsed and validated operation with coerced variables.
type Prepared struct {
	Document  *ast.QueryDocument
	Operation *ast.OperationDefinition
	Variables map[string]any
}

// Prepare parses, validates and selects the operation of req against schema. Running
// it ahead of graphql-go gives the gateway and the subgraphs the same validation
// errors and codes.
func Prepare(schema *ast.Schema, req Request) (*Prepared, gqlerror.List) {
	if req.Query == "" {
		return nil, gqlerror.List{codedError("BAD_REQUEST", "query is required")}
	}

	doc, errs := gqlparser.LoadQuery(schema, req.Query)
	if len(errs) > 0 {
		for _, err := range errs {
			if err.Extensions == nil {
				err.Extensions = map[string]any{}
			}
			err.Extensions["code"] = "GRAPHQL_VALIDATION_FAILED"
		}
		return nil, errs
	}

	var op *ast.OperationDefinition
	switch {
	case req.OperationName != "":
		op = doc.Operations.ForName(req.OperationName)
	case len(doc.Operations) == 1:
		op = doc.Operations[0]
	}
	if op == nil {
		return nil, gqlerror.List{codedError("BAD_REQUEST", "operation %q not found or ambiguous", req.OperationName)}
	}

	vars, err := validator.VariableValues(schema, op, req.Variables)
	if err != nil {
		return nil, gqlerror.List{ToGQLError(err, nil)}
	}
	return &Prepared{Document: doc, Operation: op, Variables: vars}, nil
}

// Execute runs a query or mutation. Root mutation fields run one after another in
// document order; every field error is reported with its path and the rest of the
// response is still returned.
func (s *Schema) Execute(ctx context.Context, rc reqctx.RequestContext, req Request) *Response {
	prepared, errs := Prepare(s.schema, req)
	if len(errs) > 0 {
		metrics.GraphQLOperations.WithLabelValues("invalid", "error").Inc()
		return &Response{Errors: errs}
	}

	op := prepared.Operation
	if op.Operation == ast.Subscription {
		return &Response{Errors: gqlerror.List{codedError("BAD_REQUEST", "%s operations are not supported over HTTP", op.Operation)}}
	}

	resp := s.run(ctx, req, op.Name, map[string]any{requestKey: rc})

	result := "ok"
	if len(resp.Errors) > 0 {
		result = "error"
	}
	metrics.GraphQLOperations.WithLabelValues(string(op.Operation), result).Inc()
	return resp
}

// Subscribe starts a subscription. It returns either a stream of responses, closed
// when ctx is done or the source ends, or an error response. Each source event is
// executed against the subscription's selection set as its own operation.
func (s *Schema) Subscribe(ctx context.Context, rc reqctx.RequestContext, req Request) (<-chan *Response, *Response) {
	prepared, errs := Prepare(s.schema, req)
	if len(errs) > 0 {
		return nil, &Response{Errors: errs}
	}
	op := prepared.Operation
	if op.Operation != ast.Subscription || s.schema.Subscription == nil {
		return nil, &Response{Errors: gqlerror.List{codedError("BAD_REQUEST", "operation is not a subscription")}}
	}

	var field *ast.Field
	if len(op.SelectionSet) == 1 {
		field, _ = op.SelectionSet[0].(*ast.Field)
	}
	if field == nil {
		return nil, &Response{Errors: gqlerror.List{codedError("BAD_REQUEST", "subscriptions must select exactly one field")}}
	}

	stream := s.streams[field.Name]
	if stream == nil {
		return nil, &Response{Errors: gqlerror.List{codedError("BAD_REQUEST", "no subscription %q", field.Name)}}
	}

	key := field.Alias
	if key == "" {
		key = field.Name
	}
	path := ast.Path{ast.PathName(key)}
	source, err := stream(ctx, ResolveParams{
		Args:    field.ArgumentMap(prepared.Variables),
		Request: rc,
		Path:    path,
	})
	if err != nil {
		return nil, &Response{Errors: gqlerror.List{ToGQLError(err, path)}}
	}

	out := make(chan *Response)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-source:
				if !ok {
					return
				}
				resp := s.run(ctx, req, op.Name, map[string]any{requestKey: rc, eventKey: event})
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// run executes the selected operation with graphql-go.
func (s *Schema) run(ctx context.Context, req Request, operation string, root map[string]any) *Response {
	result := gql.Do(gql.Params{
		Schema:         s.executable,
		RequestString:  req.Query,
		RootObject:     root,
		VariableValues: req.Variables,
		OperationName:  operation,
		Context:        ctx,
	})

	resp := &Response{Errors: fromFormatted(result.Errors)}
	if data, ok := result.Data.(map[string]any); ok && data != nil {
		resp.Data = data
	}
	return resp
}

// fromFormatted converts graphql-go errors. Errors raised by graphql-go itself, such
// as a null in a non-null position, carry no code and are reported as internal.
func fromFormatted(list []gqlerrors.FormattedError) gqlerror.List {
	if len(list) == 0 {
		return nil
	}
	out := make(gqlerror.List, 0, len(list))
	for _, fe := range list {
		err := &gqlerror.Error{
			Message:    fe.Message,
			Path:       toPath(fe.Path),
			Extensions: fe.Extensions,
		}
		if len(err.Path) == 0 {
			err.Path = nil
		}
		for _, loc := range fe.Locations {
			err.Locations = append(err.Locations, gqlerror.Location{Line: loc.Line, Column: loc.Column})
		}
		if ErrorCode(err) == "" {
			if err.Extensions == nil {
				err.Extensions = map[string]any{}
			}
			err.Extensions["code"] = "INTERNAL_SERVER_ERROR"
		}
		out = append(out, err)
	}
	return out
}
