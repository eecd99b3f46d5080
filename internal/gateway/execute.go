package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/reqctx"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
	"github.com/charlesng35/studyhub/pkg/metrics"
)

// unresolvedKey marks an object whose entity fetch came back null. Projection turns
// the object into null.
const unresolvedKey = "_gw_unresolved"

// target is one object in a subgraph response awaiting more fields.
type target struct {
	obj  map[string]any
	path ast.Path
}

type execution struct {
	gw    *Gateway
	super *Supergraph
	rc    reqctx.RequestContext
	op    *ast.OperationDefinition
	vars  map[string]any

	mu     sync.Mutex
	errors gqlerror.List
}

// Execute runs a query or mutation across the subgraphs. Root fields are grouped by
// owning subgraph; query groups run concurrently and mutation groups run in document
// order. Fields owned elsewhere are fetched through _entities and merged in before
// the result is projected onto the client selection.
func (g *Gateway) Execute(ctx context.Context, rc reqctx.RequestContext, req graphql.Request) *graphql.Response {
	super := g.Supergraph()
	if super == nil {
		return &graphql.Response{Errors: gqlerror.List{coded(nil, apperrors.ErrServiceUnavailable.Code, "gateway is not ready")}}
	}

	prepared, errs := graphql.Prepare(super.schema, req)
	if len(errs) > 0 {
		metrics.GraphQLOperations.WithLabelValues("invalid", "error").Inc()
		return &graphql.Response{Errors: errs}
	}

	op := prepared.Operation
	var root *ast.Definition
	switch op.Operation {
	case ast.Query:
		root = super.schema.Query
	case ast.Mutation:
		root = super.schema.Mutation
	}
	if root == nil {
		return &graphql.Response{Errors: gqlerror.List{coded(nil, apperrors.ErrBadRequest.Code,
			"%s operations are not served by the gateway", op.Operation)}}
	}

	x := &execution{gw: g, super: super, rc: rc, op: op, vars: prepared.Variables}
	fields := x.collect(root, op.SelectionSet)
	data := x.executeRoot(ctx, root, fields)

	resp := &graphql.Response{}
	if projected, ok := x.project(root, fields, data, nil); ok {
		resp.Data = projected
	}
	resp.Errors = x.errors

	result := "ok"
	if len(resp.Errors) > 0 {
		result = "error"
	}
	metrics.GraphQLOperations.WithLabelValues("gateway_"+string(op.Operation), result).Inc()
	return resp
}

// rootGroup is a run of root fields answered by one service.
type rootGroup struct {
	service string
	fields  []*selection
}

func (x *execution) groupRoot(root *ast.Definition, fields []*selection, serial bool) []rootGroup {
	var groups []rootGroup
	index := make(map[string]int)
	for _, f := range fields {
		service, ok := x.rootOwner(root, f)
		if !ok {
			continue
		}
		if serial {
			if n := len(groups); n > 0 && groups[n-1].service == service {
				groups[n-1].fields = append(groups[n-1].fields, f)
				continue
			}
			groups = append(groups, rootGroup{service: service, fields: []*selection{f}})
			continue
		}
		if i, ok := index[service]; ok {
			groups[i].fields = append(groups[i].fields, f)
			continue
		}
		index[service] = len(groups)
		groups = append(groups, rootGroup{service: service, fields: []*selection{f}})
	}
	return groups
}

// rootOwner picks the service for a root field. __typename needs no fetch.
func (x *execution) rootOwner(root *ast.Definition, f *selection) (string, bool) {
	switch f.field.Name {
	case "__typename":
		return "", false
	case "__schema", "__type":
		return localService, true
	}
	return x.super.Owner(root.Name, f.field.Name), true
}

func (x *execution) executeRoot(ctx context.Context, root *ast.Definition, fields []*selection) map[string]any {
	serial := x.op.Operation == ast.Mutation
	groups := x.groupRoot(root, fields, serial)
	data := make(map[string]any, len(fields))

	run := func(ctx context.Context, group rootGroup) {
		partial := x.fetchRoot(ctx, group.service, root, group.fields)
		x.mu.Lock()
		for key, value := range partial {
			data[key] = value
		}
		x.mu.Unlock()
	}

	if serial {
		for _, group := range groups {
			run(ctx, group)
		}
		return data
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		g.Go(func() error {
			run(gctx, group)
			return nil
		})
	}
	_ = g.Wait()
	return data
}

// fetchRoot sends the root fields of one group to their service and completes the
// returned objects. The returned map is private to the group until merged.
func (x *execution) fetchRoot(ctx context.Context, service string, root *ast.Definition, fields []*selection) map[string]any {
	query, vars := x.document(x.op.Operation, x.subSelection(service, root, fields))
	res, err := x.send(ctx, service, "root", query, vars)
	if err != nil {
		x.gw.log.Warn("subgraph root fetch failed", zap.String("subgraph", service), zap.Error(err))
		for _, f := range fields {
			x.addError(coded(ast.Path{ast.PathName(f.key)}, apperrors.ErrServiceUnavailable.Code, "%s is unavailable", serviceLabel(service)))
		}
		return nil
	}

	x.addErrors(res.Errors...)
	data := res.Data
	if data == nil {
		return nil
	}

	if service != localService {
		for _, f := range fields {
			x.completeField(ctx, service, root, f, []target{{obj: data}})
		}
	}
	return data
}

// complete makes sure every field of fields is present on each target, fetching
// fields owned by other services through _entities, then descends into children.
func (x *execution) complete(ctx context.Context, service string, typ *ast.Definition, fields []*selection, targets []target) {
	if len(targets) == 0 || len(fields) == 0 {
		return
	}

	var owners []string
	remote := make(map[string][]*selection)
	for _, f := range fields {
		if x.super.canResolve(service, typ.Name, f.field.Name) {
			continue
		}
		owner := x.super.Owner(typ.Name, f.field.Name)
		if _, ok := remote[owner]; !ok {
			owners = append(owners, owner)
		}
		remote[owner] = append(remote[owner], f)
	}

	if len(owners) > 0 {
		reps, included := representations(targets, x.super.keys)
		g, gctx := errgroup.WithContext(ctx)
		for _, owner := range owners {
			g.Go(func() error {
				x.fetchEntities(gctx, owner, typ, remote[owner], targets, reps, included)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, f := range fields {
		by := service
		if !x.super.canResolve(service, typ.Name, f.field.Name) {
			by = x.super.Owner(typ.Name, f.field.Name)
		}
		x.completeField(ctx, by, typ, f, targets)
	}
}

// completeField descends into the objects f selected on each target.
func (x *execution) completeField(ctx context.Context, service string, typ *ast.Definition, f *selection, targets []target) {
	child := x.objectType(f.def)
	if child == nil {
		return
	}
	var children []target
	for _, t := range targets {
		if t.obj == nil || t.obj[unresolvedKey] == true {
			continue
		}
		children = appendTargets(children, t.obj[f.key], appendPath(t.path, ast.PathName(f.key)))
	}
	x.complete(ctx, service, child, x.collect(child, f.children), children)
}

// fetchEntities loads fields from service for every target that has a representation
// and merges them into the target objects.
func (x *execution) fetchEntities(ctx context.Context, service string, typ *ast.Definition, fields []*selection, targets []target, reps []any, included []int) {
	if !x.super.entities[service][typ.Name] {
		for _, t := range targets {
			x.addError(coded(t.path, apperrors.ErrInternalServer.Code, "%s cannot resolve %s references", serviceLabel(service), typ.Name))
		}
		return
	}
	if len(reps) == 0 {
		return
	}

	sel, repsDef := entitiesSelection(typ.Name, x.subSelection(service, typ, fields))
	query, vars := x.document(ast.Query, sel, repsDef)
	vars[representationsVar] = reps

	res, err := x.send(ctx, service, "entities", query, vars)
	if err != nil {
		x.gw.log.Warn("subgraph entity fetch failed",
			zap.String("subgraph", service),
			zap.String("type", typ.Name),
			zap.Error(err))
		x.mu.Lock()
		for _, i := range included {
			targets[i].obj[unresolvedKey] = true
			x.errors = append(x.errors, coded(targets[i].path, apperrors.ErrServiceUnavailable.Code, "%s is unavailable", serviceLabel(service)))
		}
		x.mu.Unlock()
		return
	}

	list, _ := res.Data["_entities"].([]any)

	x.mu.Lock()
	defer x.mu.Unlock()
	for n, i := range included {
		var entity map[string]any
		if n < len(list) {
			entity, _ = list[n].(map[string]any)
		}
		obj := targets[i].obj
		if entity == nil {
			obj[unresolvedKey] = true
			continue
		}
		for key, value := range entity {
			if key == typenameAlias || key == keyAlias {
				continue
			}
			obj[key] = value
		}
	}
	for _, err := range res.Errors {
		cp := *err
		cp.Path = remapEntityPath(err.Path, targets, included)
		x.errors = append(x.errors, &cp)
	}
}

// representations builds the _entities argument for targets, naming each key after
// the field its type declares in @key. included maps each representation back to
// its target index.
func representations(targets []target, keys map[string]string) ([]any, []int) {
	reps := make([]any, 0, len(targets))
	included := make([]int, 0, len(targets))
	for i, t := range targets {
		if t.obj == nil || t.obj[unresolvedKey] == true {
			continue
		}
		typename, _ := t.obj[typenameAlias].(string)
		field := keys[typename]
		key, ok := t.obj[keyAlias]
		if field == "" || !ok || key == nil {
			continue
		}
		reps = append(reps, map[string]any{"__typename": typename, field: key})
		included = append(included, i)
	}
	return reps, included
}

// remapEntityPath rewrites ["_entities", n, rest...] onto the client path of the
// n-th representation's target.
func remapEntityPath(path ast.Path, targets []target, included []int) ast.Path {
	if len(path) < 2 {
		return nil
	}
	if name, ok := path[0].(ast.PathName); !ok || name != "_entities" {
		return nil
	}
	n, ok := path[1].(ast.PathIndex)
	if !ok || int(n) < 0 || int(n) >= len(included) {
		return nil
	}
	out := append(ast.Path(nil), targets[included[n]].path...)
	return append(out, path[2:]...)
}

func appendTargets(out []target, value any, path ast.Path) []target {
	switch v := value.(type) {
	case map[string]any:
		return append(out, target{obj: v, path: path})
	case []any:
		for i, item := range v {
			out = appendTargets(out, item, appendPath(path, ast.PathIndex(i)))
		}
	}
	return out
}

// send executes a document on service. The local service answers introspection.
func (x *execution) send(ctx context.Context, service, kind, query string, vars map[string]any) (*result, error) {
	req := graphql.Request{Query: query, Variables: vars}
	if service == localService {
		return localResult(x.super.introspection.Execute(ctx, x.rc, req))
	}
	c, ok := x.gw.clients[service]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown subgraph %q", service)
	}
	return c.execute(ctx, x.rc, kind, req)
}

func localResult(resp *graphql.Response) (*result, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode introspection result: %w", err)
	}
	return decodeResult(bytes.NewReader(body))
}

func (x *execution) addError(err *gqlerror.Error) {
	x.mu.Lock()
	x.errors = append(x.errors, err)
	x.mu.Unlock()
}

func (x *execution) addErrors(errs ...*gqlerror.Error) {
	if len(errs) == 0 {
		return
	}
	x.mu.Lock()
	x.errors = append(x.errors, errs...)
	x.mu.Unlock()
}

func coded(path ast.Path, code, format string, args ...any) *gqlerror.Error {
	return &gqlerror.Error{
		Message:    fmt.Sprintf(format, args...),
		Path:       path,
		Extensions: map[string]any{"code": code},
	}
}

func appendPath(path ast.Path, elem ast.PathElement) ast.Path {
	out := make(ast.Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func serviceLabel(service string) string {
	if service == localService {
		return "gateway"
	}
	return "subgraph " + service
}
