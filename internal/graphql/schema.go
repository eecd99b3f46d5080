// Package graphql executes GraphQL operations against a federated subgraph schema.
// Subgraph SDL is loaded with gqlparser and executed by graphql-go. Resolvers are
// registered per type and field; entity references are resolved through a typename
// registry behind Query._entities.
package graphql

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gql "github.com/graphql-go/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/charlesng35/studyhub/internal/reqctx"
)

// FederationDirectives declares the directives and scalars subgraph SDL may use. The
// gateway loads the same definitions when composing.
const FederationDirectives = `
scalar _Any
scalar _FieldSet
directive @key(fields: _FieldSet!) on OBJECT | INTERFACE
directive @extends on OBJECT | INTERFACE
directive @external on FIELD_DEFINITION
directive @requires(fields: _FieldSet!) on FIELD_DEFINITION
directive @provides(fields: _FieldSet!) on FIELD_DEFINITION
`

const federationTypes = `
type _Service {
  sdl: String
}
`

// ResolveParams is handed to every field resolver. Request carries the caller's
// identity as forwarded by the gateway.
type ResolveParams struct {
	Source  any
	Args    map[string]any
	Request reqctx.RequestContext
	Path    ast.Path
}

// FieldResolver resolves one field of one object type.
type FieldResolver func(ctx context.Context, p ResolveParams) (any, error)

// ReferenceResolver loads the entity a Reference points at. Returning nil without an
// error yields a null entity.
type ReferenceResolver func(ctx context.Context, rc reqctx.RequestContext, ref Reference) (any, error)

// SubscriptionResolver returns a stream of source values for a subscription root field.
// The channel must be closed when ctx is done.
type SubscriptionResolver func(ctx context.Context, p ResolveParams) (<-chan any, error)

// Schema is an executable subgraph schema.
type Schema struct {
	sdl        string
	schema     *ast.Schema
	executable gql.Schema
	keys       map[string]string
	resolvers  map[string]map[string]FieldResolver
	references map[string]ReferenceResolver
	streams    map[string]SubscriptionResolver
}

// NewSchema loads sdl together with the federation prelude. Types carrying @key get
// an entry in the generated _Entity union and can be resolved through _entities.
func NewSchema(sdl string) (*Schema, error) {
	doc, err := parser.ParseSchemas(
		&ast.Source{Name: "federation.graphql", Input: FederationDirectives, BuiltIn: true},
		&ast.Source{Name: "schema.graphql", Input: sdl},
	)
	if err != nil {
		return nil, fmt.Errorf("graphql: parse schema: %w", err)
	}

	keys, err := EntityKeys(doc)
	if err != nil {
		return nil, err
	}

	schema, err := gqlparser.LoadSchema(
		&ast.Source{Name: "federation.graphql", Input: FederationDirectives + federationTypes, BuiltIn: true},
		&ast.Source{Name: "schema.graphql", Input: sdl},
		&ast.Source{Name: "entities.graphql", Input: entitySource(doc, keys), BuiltIn: true},
	)
	if err != nil {
		return nil, fmt.Errorf("graphql: load schema: %w", err)
	}

	s := &Schema{
		sdl:        sdl,
		schema:     schema,
		keys:       keys,
		resolvers:  make(map[string]map[string]FieldResolver),
		references: make(map[string]ReferenceResolver),
		streams:    make(map[string]SubscriptionResolver),
	}
	s.Resolve(schema.Query.Name, "_service", s.resolveService)
	if len(keys) > 0 {
		s.Resolve(schema.Query.Name, "_entities", s.resolveEntities)
	}

	if s.executable, err = buildExecutable(s); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNewSchema is NewSchema for embedded SDL that is known to be valid.
func MustNewSchema(sdl string) *Schema {
	s, err := NewSchema(sdl)
	if err != nil {
		panic(err)
	}
	return s
}

// FromAST makes an already loaded schema executable. Nothing but introspection
// resolves until resolvers are registered; it has no _service or _entities fields.
func FromAST(schema *ast.Schema) (*Schema, error) {
	s := &Schema{
		schema:     schema,
		keys:       make(map[string]string),
		resolvers:  make(map[string]map[string]FieldResolver),
		references: make(map[string]ReferenceResolver),
		streams:    make(map[string]SubscriptionResolver),
	}
	var err error
	if s.executable, err = buildExecutable(s); err != nil {
		return nil, err
	}
	return s, nil
}

// EntityKeys returns the key field of every object declaring @key in doc. Only single
// field keys are supported.
func EntityKeys(doc *ast.SchemaDocument) (map[string]string, error) {
	keys := make(map[string]string)
	collect := func(defs ast.DefinitionList) error {
		for _, def := range defs {
			directive := def.Directives.ForName("key")
			if directive == nil {
				continue
			}
			arg := directive.Arguments.ForName("fields")
			if arg == nil || arg.Value == nil {
				return fmt.Errorf("graphql: @key on %s has no fields", def.Name)
			}
			field := strings.TrimSpace(arg.Value.Raw)
			if field == "" || strings.ContainsAny(field, " {}") {
				return fmt.Errorf("graphql: @key(fields: %q) on %s must name a single field", arg.Value.Raw, def.Name)
			}
			keys[def.Name] = field
		}
		return nil
	}
	if err := collect(doc.Definitions); err != nil {
		return nil, err
	}
	if err := collect(doc.Extensions); err != nil {
		return nil, err
	}
	return keys, nil
}

func entitySource(doc *ast.SchemaDocument, keys map[string]string) string {
	var b strings.Builder

	queryKeyword := "type"
	for _, def := range append(append(ast.DefinitionList{}, doc.Definitions...), doc.Extensions...) {
		if def.Name == "Query" {
			queryKeyword = "extend type"
			break
		}
	}

	if len(keys) > 0 {
		names := make([]string, 0, len(keys))
		for name := range keys {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "union _Entity = %s\n", strings.Join(names, " | "))
	}

	fmt.Fprintf(&b, "%s Query {\n  _service: _Service!\n", queryKeyword)
	if len(keys) > 0 {
		b.WriteString("  _entities(representations: [_Any!]!): [_Entity]!\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// SDL returns the subgraph SDL without the federation prelude.
func (s *Schema) SDL() string { return s.sdl }

// AST exposes the loaded schema.
func (s *Schema) AST() *ast.Schema { return s.schema }

// KeyField returns the key field name of an entity type.
func (s *Schema) KeyField(typeName string) (string, bool) {
	key, ok := s.keys[typeName]
	return key, ok
}

// Resolve registers a resolver for typeName.field. It panics on unknown fields so
// wiring mistakes fail at startup.
func (s *Schema) Resolve(typeName, field string, resolver FieldResolver) *Schema {
	def := s.schema.Types[typeName]
	if def == nil || def.Fields.ForName(field) == nil {
		panic(fmt.Sprintf("graphql: no field %s.%s in schema", typeName, field))
	}
	if s.resolvers[typeName] == nil {
		s.resolvers[typeName] = make(map[string]FieldResolver)
	}
	s.resolvers[typeName][field] = resolver
	return s
}

// ResolveReference registers the reference resolver for an entity type.
func (s *Schema) ResolveReference(typeName string, resolver ReferenceResolver) *Schema {
	if _, ok := s.keys[typeName]; !ok {
		panic(fmt.Sprintf("graphql: %s is not an entity", typeName))
	}
	s.references[typeName] = resolver
	return s
}

// ResolveSubscription registers the source stream of a subscription root field.
func (s *Schema) ResolveSubscription(field string, resolver SubscriptionResolver) *Schema {
	if s.schema.Subscription == nil || s.schema.Subscription.Fields.ForName(field) == nil {
		panic(fmt.Sprintf("graphql: no subscription field %s", field))
	}
	s.streams[field] = resolver
	return s
}

func (s *Schema) resolver(typeName, field string) FieldResolver {
	if fields := s.resolvers[typeName]; fields != nil {
		return fields[field]
	}
	return nil
}

func (s *Schema) resolveService(context.Context, ResolveParams) (any, error) {
	return map[string]any{"sdl": s.sdl}, nil
}
