package gateway

import (
	"bytes"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// Aliases and variables the gateway adds to subgraph documents. The leading
// underscore keeps them apart from anything a client can select.
const (
	typenameAlias      = "_gw_typename"
	keyAlias           = "_gw_key"
	representationsVar = "_gw_representations"

	// localService answers introspection inside the gateway.
	localService = ""
)

// selection is every client field sharing one response key, merged across fragments.
type selection struct {
	key      string
	field    *ast.Field
	def      *ast.FieldDefinition
	children ast.SelectionSet
}

func (x *execution) collect(typ *ast.Definition, sel ast.SelectionSet) []*selection {
	var out []*selection
	index := make(map[string]*selection)
	collectFields(x.super.schema, typ, sel, x.vars, nil, func(key string, field *ast.Field) {
		if existing, ok := index[key]; ok {
			existing.children = append(existing.children, field.SelectionSet...)
			return
		}
		def := field.Definition
		if def == nil {
			def = typ.Fields.ForName(field.Name)
		}
		s := &selection{key: key, field: field, def: def, children: append(ast.SelectionSet(nil), field.SelectionSet...)}
		index[key] = s
		out = append(out, s)
	})
	return out
}

// collectFields walks sel for objType, applying @skip, @include and fragment type
// conditions, and calls visit for each field in document order.
func collectFields(schema *ast.Schema, objType *ast.Definition, sel ast.SelectionSet, vars map[string]any, visited map[string]bool, visit func(key string, field *ast.Field)) {
	if visited == nil {
		visited = make(map[string]bool)
	}
	for _, selection := range sel {
		switch s := selection.(type) {
		case *ast.Field:
			if !shouldInclude(s.Directives, vars) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			visit(key, s)
		case *ast.InlineFragment:
			if !shouldInclude(s.Directives, vars) || !typeApplies(schema, objType, s.TypeCondition) {
				continue
			}
			collectFields(schema, objType, s.SelectionSet, vars, visited, visit)
		case *ast.FragmentSpread:
			if !shouldInclude(s.Directives, vars) || visited[s.Name] || s.Definition == nil {
				continue
			}
			if !typeApplies(schema, objType, s.Definition.TypeCondition) {
				continue
			}
			visited[s.Name] = true
			collectFields(schema, objType, s.Definition.SelectionSet, vars, visited, visit)
		}
	}
}

func shouldInclude(directives ast.DirectiveList, vars map[string]any) bool {
	if d := directives.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(vars)["if"].(bool); skip {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

func typeApplies(schema *ast.Schema, objType *ast.Definition, condition string) bool {
	if condition == "" || condition == objType.Name {
		return true
	}
	abstract := schema.Types[condition]
	if abstract == nil {
		return false
	}
	for _, possible := range schema.GetPossibleTypes(abstract) {
		if possible.Name == objType.Name {
			return true
		}
	}
	return false
}

// objectType returns the object definition a field selects into, or nil for leaves.
func (x *execution) objectType(def *ast.FieldDefinition) *ast.Definition {
	if def == nil {
		return nil
	}
	named := x.super.schema.Types[def.Type.Name()]
	if named == nil || named.Kind != ast.Object {
		return nil
	}
	return named
}

func (x *execution) resolvable(service string, typ *ast.Definition, field string) bool {
	return service == localService || x.super.canResolve(service, typ.Name, field)
}

// subSelection rewrites fields of typ into the selection sent to service: fields the
// service cannot resolve are left out, and every entity object carries its typename
// and key so the missing fields can be fetched from their owner afterwards.
func (x *execution) subSelection(service string, typ *ast.Definition, fields []*selection) ast.SelectionSet {
	var out ast.SelectionSet
	if service != localService && !rootTypeNames[typ.Name] {
		out = append(out, &ast.Field{Alias: typenameAlias, Name: "__typename"})
		if key, ok := x.super.keys[typ.Name]; ok && x.super.canResolve(service, typ.Name, key) {
			out = append(out, &ast.Field{Alias: keyAlias, Name: key})
		}
	}

	for _, f := range fields {
		if !x.resolvable(service, typ, f.field.Name) {
			continue
		}
		field := &ast.Field{Alias: f.key, Name: f.field.Name, Arguments: f.field.Arguments}
		if child := x.objectType(f.def); child != nil {
			field.SelectionSet = x.subSelection(service, child, x.collect(child, f.children))
		}
		out = append(out, field)
	}
	return out
}

// document prints an operation over sel. Client variables referenced by sel are
// declared and returned with their values; extra definitions are appended as is.
func (x *execution) document(operation ast.Operation, sel ast.SelectionSet, extra ...*ast.VariableDefinition) (string, map[string]any) {
	op := &ast.OperationDefinition{Operation: operation, SelectionSet: sel}
	vars := make(map[string]any)

	for _, name := range usedVariables(sel) {
		def := x.op.VariableDefinitions.ForName(name)
		if def == nil {
			continue
		}
		op.VariableDefinitions = append(op.VariableDefinitions, def)
		if value, ok := x.vars[name]; ok {
			vars[name] = value
		}
	}
	op.VariableDefinitions = append(op.VariableDefinitions, extra...)

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(&ast.QueryDocument{Operations: ast.OperationList{op}})
	return buf.String(), vars
}

// entitiesSelection selects fields of typ through _entities.
func entitiesSelection(typ string, sel ast.SelectionSet) (ast.SelectionSet, *ast.VariableDefinition) {
	field := &ast.Field{
		Name: "_entities",
		Arguments: ast.ArgumentList{{
			Name:  "representations",
			Value: &ast.Value{Kind: ast.Variable, Raw: representationsVar},
		}},
		SelectionSet: ast.SelectionSet{&ast.InlineFragment{TypeCondition: typ, SelectionSet: sel}},
	}
	def := &ast.VariableDefinition{
		Variable: representationsVar,
		Type:     ast.NonNullListType(ast.NonNullNamedType("_Any", nil), nil),
	}
	return ast.SelectionSet{field}, def
}

func usedVariables(sel ast.SelectionSet) []string {
	var names []string
	seen := make(map[string]bool)

	var visitValue func(v *ast.Value)
	visitValue = func(v *ast.Value) {
		if v == nil {
			return
		}
		if v.Kind == ast.Variable && !seen[v.Raw] {
			seen[v.Raw] = true
			names = append(names, v.Raw)
		}
		for _, child := range v.Children {
			visitValue(child.Value)
		}
	}

	var visit func(sel ast.SelectionSet)
	visit = func(sel ast.SelectionSet) {
		for _, s := range sel {
			switch s := s.(type) {
			case *ast.Field:
				for _, arg := range s.Arguments {
					visitValue(arg.Value)
				}
				visit(s.SelectionSet)
			case *ast.InlineFragment:
				visit(s.SelectionSet)
			}
		}
	}
	visit(sel)
	return names
}
