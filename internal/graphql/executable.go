package graphql

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"

	gql "github.com/graphql-go/graphql"
	gqlast "github.com/graphql-go/graphql/language/ast"
	"github.com/vektah/gqlparser/v2/ast"
	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// Root object keys. Every execution runs with a root map carrying the caller and,
// for subscription events, the event being delivered.
const (
	requestKey = "studyhub.request"
	eventKey   = "studyhub.event"
)

// builder turns a loaded schema into graphql-go types whose fields resolve through
// the registry of s. Resolvers are looked up per call, so registrations made after
// the build take effect.
type builder struct {
	s       *Schema
	types   map[string]gql.Type
	objects map[string]*gql.Object
	err     error
}

func buildExecutable(s *Schema) (gql.Schema, error) {
	schema := s.schema
	if schema.Query == nil {
		return gql.Schema{}, fmt.Errorf("graphql: schema has no Query type")
	}

	b := &builder{
		s:       s,
		types:   make(map[string]gql.Type),
		objects: make(map[string]*gql.Object),
	}

	names := make([]string, 0, len(schema.Types))
	for name := range schema.Types {
		if !strings.HasPrefix(name, "__") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		def := schema.Types[name]
		switch def.Kind {
		case ast.Scalar:
			b.types[name] = scalarType(def)
		case ast.Enum:
			b.types[name] = enumType(def)
		case ast.Object:
			obj := b.object(def)
			b.objects[name] = obj
			b.types[name] = obj
		case ast.InputObject:
			b.types[name] = b.inputObject(def)
		case ast.Interface:
			return gql.Schema{}, fmt.Errorf("graphql: interface %s is not supported", name)
		}
	}
	for _, name := range names {
		if def := schema.Types[name]; def.Kind == ast.Union {
			b.types[name] = b.union(def)
		}
	}

	config := gql.SchemaConfig{Query: b.objects[schema.Query.Name]}
	if schema.Mutation != nil {
		config.Mutation = b.objects[schema.Mutation.Name]
	}
	if schema.Subscription != nil {
		config.Subscription = b.objects[schema.Subscription.Name]
	}
	for _, name := range names {
		if !builtinScalar(name) {
			config.Types = append(config.Types, b.types[name])
		}
	}

	executable, err := gql.NewSchema(config)
	if err != nil {
		return gql.Schema{}, fmt.Errorf("graphql: build schema: %w", err)
	}
	if b.err != nil {
		return gql.Schema{}, b.err
	}
	return executable, nil
}

func builtinScalar(name string) bool {
	switch name {
	case "String", "Int", "Float", "Boolean", "ID":
		return true
	}
	return false
}

func scalarType(def *ast.Definition) gql.Type {
	switch def.Name {
	case "String":
		return gql.String
	case "Int":
		return gql.Int
	case "Float":
		return gql.Float
	case "Boolean":
		return gql.Boolean
	case "ID":
		return gql.ID
	case "DateTime":
		return gql.DateTime
	}
	// Other custom scalars, _Any among them, pass values through untouched.
	return gql.NewScalar(gql.ScalarConfig{
		Name:         def.Name,
		Description:  def.Description,
		Serialize:    func(value any) any { return value },
		ParseValue:   func(value any) any { return value },
		ParseLiteral: literalValue,
	})
}

func literalValue(value gqlast.Value) any {
	switch v := value.(type) {
	case *gqlast.StringValue:
		return v.Value
	case *gqlast.IntValue:
		return v.Value
	case *gqlast.FloatValue:
		return v.Value
	case *gqlast.BooleanValue:
		return v.Value
	case *gqlast.EnumValue:
		return v.Value
	case *gqlast.ListValue:
		out := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, literalValue(item))
		}
		return out
	case *gqlast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, field := range v.Fields {
			out[field.Name.Value] = literalValue(field.Value)
		}
		return out
	}
	return nil
}

func enumType(def *ast.Definition) *gql.Enum {
	values := gql.EnumValueConfigMap{}
	for _, v := range def.EnumValues {
		values[v.Name] = &gql.EnumValueConfig{
			Value:             v.Name,
			Description:       v.Description,
			DeprecationReason: deprecation(v.Directives),
		}
	}
	return gql.NewEnum(gql.EnumConfig{Name: def.Name, Description: def.Description, Values: values})
}

func deprecation(directives ast.DirectiveList) string {
	d := directives.ForName("deprecated")
	if d == nil {
		return ""
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return "No longer supported"
}

func (b *builder) object(def *ast.Definition) *gql.Object {
	return gql.NewObject(gql.ObjectConfig{
		Name:        def.Name,
		Description: def.Description,
		Fields: gql.FieldsThunk(func() gql.Fields {
			fields := gql.Fields{}
			for _, f := range def.Fields {
				if strings.HasPrefix(f.Name, "__") {
					continue
				}
				fields[f.Name] = &gql.Field{
					Name:              f.Name,
					Description:       f.Description,
					Type:              b.outputType(f.Type),
					Args:              b.arguments(f.Arguments),
					DeprecationReason: deprecation(f.Directives),
					Resolve:           b.resolveFn(def, f),
				}
			}
			return fields
		}),
	})
}

func (b *builder) inputObject(def *ast.Definition) *gql.InputObject {
	return gql.NewInputObject(gql.InputObjectConfig{
		Name:        def.Name,
		Description: def.Description,
		Fields: gql.InputObjectConfigFieldMapThunk(func() gql.InputObjectConfigFieldMap {
			fields := gql.InputObjectConfigFieldMap{}
			for _, f := range def.Fields {
				field := &gql.InputObjectFieldConfig{
					Type:        b.inputType(f.Type),
					Description: f.Description,
				}
				if f.DefaultValue != nil {
					if v, err := f.DefaultValue.Value(nil); err == nil {
						field.DefaultValue = v
					}
				}
				fields[f.Name] = field
			}
			return fields
		}),
	})
}

func (b *builder) union(def *ast.Definition) *gql.Union {
	members := make([]*gql.Object, 0, len(def.Types))
	for _, name := range def.Types {
		members = append(members, b.objects[name])
	}
	return gql.NewUnion(gql.UnionConfig{
		Name:        def.Name,
		Description: def.Description,
		Types:       members,
		ResolveType: func(p gql.ResolveTypeParams) *gql.Object {
			if failed, ok := p.Value.(entryError); ok {
				// A panic here is reported on this list entry only.
				panic(resolverError(failed.err, responsePath(p.Info.Path)))
			}
			name := typenameOf(p.Value)
			if name == "" && len(def.Types) == 1 {
				name = def.Types[0]
			}
			return b.objects[name]
		},
	})
}

func (b *builder) arguments(defs ast.ArgumentDefinitionList) gql.FieldConfigArgument {
	args := gql.FieldConfigArgument{}
	for _, def := range defs {
		arg := &gql.ArgumentConfig{Type: b.inputType(def.Type), Description: def.Description}
		if def.DefaultValue != nil {
			if v, err := def.DefaultValue.Value(nil); err == nil {
				arg.DefaultValue = v
			}
		}
		args[def.Name] = arg
	}
	return args
}

func (b *builder) outputType(t *ast.Type) gql.Output {
	var out gql.Output
	if t.Elem != nil {
		out = gql.NewList(b.outputType(t.Elem))
	} else if named, ok := b.named(t.NamedType).(gql.Output); ok {
		out = named
	} else {
		b.fail("graphql: %s is not an output type", t.NamedType)
		out = gql.String
	}
	if t.NonNull {
		return gql.NewNonNull(out)
	}
	return out
}

func (b *builder) inputType(t *ast.Type) gql.Input {
	var in gql.Input
	if t.Elem != nil {
		in = gql.NewList(b.inputType(t.Elem))
	} else if named, ok := b.named(t.NamedType).(gql.Input); ok {
		in = named
	} else {
		b.fail("graphql: %s is not an input type", t.NamedType)
		in = gql.String
	}
	if t.NonNull {
		return gql.NewNonNull(in)
	}
	return in
}

func (b *builder) named(name string) gql.Type {
	if builtinScalar(name) {
		return scalarType(&ast.Definition{Name: name})
	}
	return b.types[name]
}

func (b *builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

func (b *builder) isRoot(def *ast.Definition) bool {
	schema := b.s.schema
	return def == schema.Query || def == schema.Mutation
}

// resolveFn resolves one field through the registry, falling back to reading the
// field off the source value. Subscription root fields yield the event being
// delivered.
func (b *builder) resolveFn(parent *ast.Definition, def *ast.FieldDefinition) gql.FieldResolveFn {
	s := b.s
	typeName, field := parent.Name, def.Name
	root := b.isRoot(parent)
	event := s.schema.Subscription != nil && parent == s.schema.Subscription
	enum := b.isEnum(def.Type)

	return func(p gql.ResolveParams) (value any, err error) {
		path := responsePath(p.Info.Path)
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("graphql").Error("resolver panic",
					zap.String("field", typeName+"."+field),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				value, err = nil, resolverError(fmt.Errorf("resolver panic: %v", r), path)
			}
		}()

		if event {
			return normalize(rootEntry(p.Info.RootValue, eventKey), enum), nil
		}

		source := unwrapTyped(p.Source)
		if root {
			source = nil
		}

		if resolver := s.resolver(typeName, field); resolver != nil {
			value, err = resolver(p.Context, ResolveParams{
				Source:  source,
				Args:    p.Args,
				Request: requestFrom(p.Info.RootValue),
				Path:    path,
			})
		} else {
			ordered := make([]any, 0, len(def.Arguments))
			for _, arg := range def.Arguments {
				ordered = append(ordered, p.Args[arg.Name])
			}
			value, err = defaultResolve(source, field, ordered)
		}
		if err != nil {
			return nil, resolverError(err, path)
		}
		return normalize(value, enum), nil
	}
}

func (b *builder) isEnum(t *ast.Type) bool {
	for t.Elem != nil {
		t = t.Elem
	}
	def := b.s.schema.Types[t.NamedType]
	return def != nil && def.Kind == ast.Enum
}

func rootEntry(root any, key string) any {
	if m, ok := root.(map[string]any); ok {
		return m[key]
	}
	return nil
}

func requestFrom(root any) reqctx.RequestContext {
	rc, _ := rootEntry(root, requestKey).(reqctx.RequestContext)
	return rc
}

func responsePath(p *gql.ResponsePath) ast.Path {
	if p == nil {
		return nil
	}
	return toPath(p.AsArray())
}

func toPath(raw []any) ast.Path {
	path := make(ast.Path, 0, len(raw))
	for _, elem := range raw {
		switch v := elem.(type) {
		case string:
			path = append(path, ast.PathName(v))
		case int:
			path = append(path, ast.PathIndex(v))
		}
	}
	return path
}

// Typenamer lets a value name its concrete GraphQL type.
type Typenamer interface {
	GraphQLTypename() string
}

func typenameOf(value any) string {
	switch v := value.(type) {
	case Typed:
		return v.Typename
	case *Typed:
		return v.Typename
	case Typenamer:
		return v.GraphQLTypename()
	case map[string]any:
		name, _ := v["__typename"].(string)
		return name
	}
	return ""
}

func unwrapTyped(value any) any {
	switch v := value.(type) {
	case Typed:
		return v.Value
	case *Typed:
		return v.Value
	}
	return value
}

// normalize prepares a resolved value for completion. List entries that are structs
// are handed on as pointers so child resolvers see the same shape as for single
// values, and enum values of named string types become plain strings.
func normalize(value any, enum bool) any {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return value
		}
		fallthrough
	case reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			item := rv.Index(i)
			if item.Kind() == reflect.Struct && item.CanAddr() {
				items[i] = item.Addr().Interface()
				continue
			}
			items[i] = normalize(item.Interface(), enum)
		}
		return items
	case reflect.String:
		if enum {
			return rv.String()
		}
	}
	return value
}
