package gateway

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/charlesng35/studyhub/internal/graphql"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// project shapes the merged subgraph data into the client's selection, in selection
// order and under the client's response keys. A null in a non-null position nulls the
// nearest nullable parent; ok is false when that reaches typ itself.
func (x *execution) project(typ *ast.Definition, fields []*selection, data map[string]any, path ast.Path) (*graphql.OrderedMap, bool) {
	out := graphql.NewOrderedMap(len(fields))
	for _, f := range fields {
		if f.field.Name == "__typename" {
			out.Set(f.key, typ.Name)
			continue
		}
		if f.def == nil {
			continue
		}
		value, ok := x.projectValue(f.def.Type, f, data[f.key], appendPath(path, ast.PathName(f.key)))
		if !ok {
			return nil, false
		}
		out.Set(f.key, value)
	}
	return out, true
}

func (x *execution) projectValue(t *ast.Type, f *selection, value any, path ast.Path) (any, bool) {
	if obj, isObj := value.(map[string]any); value == nil || (isObj && obj[unresolvedKey] == true) {
		if t.NonNull {
			if !x.hasErrorUnder(path) {
				x.addError(coded(path, apperrors.ErrInternalServer.Code, "Cannot return null for non-nullable field"))
			}
			return nil, false
		}
		return nil, true
	}

	if t.Elem != nil {
		list, ok := value.([]any)
		if !ok {
			x.addError(coded(path, apperrors.ErrInternalServer.Code, "expected a list, got %T", value))
			return nil, !t.NonNull
		}
		items := make([]any, len(list))
		for i, item := range list {
			projected, ok := x.projectValue(t.Elem, f, item, appendPath(path, ast.PathIndex(i)))
			if !ok {
				return nil, !t.NonNull
			}
			items[i] = projected
		}
		return items, true
	}

	def := x.super.schema.Types[t.NamedType]
	if def == nil || def.Kind != ast.Object {
		return value, true
	}
	obj, ok := value.(map[string]any)
	if !ok {
		x.addError(coded(path, apperrors.ErrInternalServer.Code, "expected an object, got %T", value))
		return nil, !t.NonNull
	}
	projected, ok := x.project(def, x.collect(def, f.children), obj, path)
	if !ok {
		return nil, !t.NonNull
	}
	return projected, true
}

// hasErrorUnder reports whether an error was already recorded at path or below it.
func (x *execution) hasErrorUnder(path ast.Path) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, err := range x.errors {
		if len(err.Path) < len(path) {
			continue
		}
		match := true
		for i := range path {
			if err.Path[i] != path[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
