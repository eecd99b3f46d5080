package gateway

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/charlesng35/studyhub/internal/graphql"
)

// Service is one subgraph behind the gateway. URL is the service base address; the
// GraphQL endpoint is URL + "/graphql".
type Service struct {
	Name string
	URL  string
}

// ServiceDefinition is a subgraph together with the SDL it reported.
type ServiceDefinition struct {
	Service
	SDL string
}

// Supergraph is the composed client schema plus the ownership tables the planner
// reads.
type Supergraph struct {
	schema *ast.Schema
	sdl    string
	// introspection answers __schema and __type against the composed schema.
	introspection *graphql.Schema
	// owners maps type -> field -> owning service.
	owners map[string]map[string]string
	// keys maps entity type -> key field.
	keys map[string]string
	// entities maps service -> entity types it resolves references for.
	entities map[string]map[string]bool
}

// Schema returns the composed schema.
func (s *Supergraph) Schema() *ast.Schema { return s.schema }

// SDL returns the composed schema without federation directives.
func (s *Supergraph) SDL() string { return s.sdl }

// Owner returns the service resolving typeName.field, or "".
func (s *Supergraph) Owner(typeName, field string) string {
	return s.owners[typeName][field]
}

// canResolve reports whether service can return typeName.field when it holds the
// object: it owns the field, or the field is the key of an entity the service knows.
func (s *Supergraph) canResolve(service, typeName, field string) bool {
	if field == "__typename" {
		return true
	}
	if s.owners[typeName][field] == service {
		return true
	}
	key, ok := s.keys[typeName]
	return ok && key == field && s.entities[service][typeName]
}

var (
	federationDirectiveNames = map[string]bool{"key": true, "extends": true, "external": true, "requires": true, "provides": true}
	federationTypeNames      = map[string]bool{"_Any": true, "_FieldSet": true, "_Service": true, "_Entity": true}
	federationFieldNames     = map[string]bool{"_service": true, "_entities": true}
	rootTypeNames            = map[string]bool{"Query": true, "Mutation": true, "Subscription": true}
)

type externalField struct {
	service, typeName, field string
}

type composer struct {
	types      map[string]*ast.Definition
	order      []string
	definedBy  map[string]string
	directives ast.DirectiveDefinitionList
	external   []externalField
	super      *Supergraph
}

// Compose merges subgraph schemas into one client schema.
//
// Root fields may be defined by one service only. A type is defined by exactly one
// service; others may extend it with @extends (or extend type) when it carries @key,
// contributing their non-@external fields. Scalars may be declared by several
// services. The merged document must validate.
func Compose(defs []ServiceDefinition) (*Supergraph, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("gateway: no subgraphs to compose")
	}

	c := &composer{
		types:     make(map[string]*ast.Definition),
		definedBy: make(map[string]string),
		super: &Supergraph{
			owners:   make(map[string]map[string]string),
			keys:     make(map[string]string),
			entities: make(map[string]map[string]bool),
		},
	}
	for _, def := range defs {
		if err := c.add(def); err != nil {
			return nil, err
		}
	}
	return c.finish()
}

func (c *composer) add(def ServiceDefinition) error {
	doc, err := parser.ParseSchemas(
		&ast.Source{Name: "federation.graphql", Input: graphql.FederationDirectives, BuiltIn: true},
		&ast.Source{Name: def.Name + ".graphql", Input: def.SDL},
	)
	if err != nil {
		return fmt.Errorf("gateway: parse %s schema: %w", def.Name, err)
	}

	keys, err := graphql.EntityKeys(doc)
	if err != nil {
		return fmt.Errorf("gateway: %s: %w", def.Name, err)
	}
	c.super.entities[def.Name] = make(map[string]bool)
	for typeName, key := range keys {
		if existing, ok := c.super.keys[typeName]; ok && existing != key {
			return fmt.Errorf("gateway: %s keys %s on %q but another subgraph uses %q", def.Name, typeName, key, existing)
		}
		c.super.keys[typeName] = key
		c.super.entities[def.Name][typeName] = true
	}

	for _, directive := range doc.Directives {
		if builtIn(directive.Position) || federationDirectiveNames[directive.Name] {
			continue
		}
		if c.directives.ForName(directive.Name) == nil {
			c.directives = append(c.directives, directive)
		}
	}

	for _, typeDef := range doc.Definitions {
		if err := c.merge(def.Name, typeDef, typeDef.Directives.ForName("extends") != nil, keys); err != nil {
			return err
		}
	}
	for _, typeDef := range doc.Extensions {
		if err := c.merge(def.Name, typeDef, true, keys); err != nil {
			return err
		}
	}
	return nil
}

func (c *composer) merge(service string, def *ast.Definition, extension bool, keys map[string]string) error {
	if builtIn(def.Position) || federationTypeNames[def.Name] {
		return nil
	}
	// The planner splits selections by object ownership only.
	if def.Kind == ast.Interface || def.Kind == ast.Union {
		return fmt.Errorf("gateway: %s defines %s %s; abstract types cannot be federated",
			service, strings.ToLower(string(def.Kind)), def.Name)
	}

	if rootTypeNames[def.Name] {
		target := c.definition(def.Name, def.Kind)
		for _, field := range def.Fields {
			if federationFieldNames[field.Name] {
				continue
			}
			if err := c.addField(service, target, field); err != nil {
				return err
			}
		}
		return nil
	}

	if extension {
		if _, ok := keys[def.Name]; !ok {
			return fmt.Errorf("gateway: %s extends %s without @key", service, def.Name)
		}
		target := c.definition(def.Name, def.Kind)
		for _, field := range def.Fields {
			if field.Directives.ForName("external") != nil {
				c.external = append(c.external, externalField{service: service, typeName: def.Name, field: field.Name})
				continue
			}
			if err := c.addField(service, target, field); err != nil {
				return err
			}
		}
		return nil
	}

	if owner, ok := c.definedBy[def.Name]; ok {
		if def.Kind == ast.Scalar && c.types[def.Name].Kind == ast.Scalar {
			return nil
		}
		return fmt.Errorf("gateway: type %s is defined by both %s and %s", def.Name, owner, service)
	}
	c.definedBy[def.Name] = service

	target := c.definition(def.Name, def.Kind)
	target.Kind = def.Kind
	target.Description = def.Description
	target.Interfaces = append(target.Interfaces, def.Interfaces...)
	target.Types = append(target.Types, def.Types...)
	target.EnumValues = append(target.EnumValues, def.EnumValues...)
	target.Directives = stripFederation(def.Directives)
	for _, field := range def.Fields {
		if err := c.addField(service, target, field); err != nil {
			return err
		}
	}
	return nil
}

// definition returns the merged definition of name, creating it on first sight.
func (c *composer) definition(name string, kind ast.DefinitionKind) *ast.Definition {
	if def, ok := c.types[name]; ok {
		return def
	}
	def := &ast.Definition{Kind: kind, Name: name}
	c.types[name] = def
	c.order = append(c.order, name)
	return def
}

func (c *composer) addField(service string, target *ast.Definition, field *ast.FieldDefinition) error {
	if target.Fields.ForName(field.Name) != nil {
		return fmt.Errorf("gateway: field %s.%s is defined by both %s and %s",
			target.Name, field.Name, c.super.owners[target.Name][field.Name], service)
	}
	cp := *field
	cp.Directives = stripFederation(field.Directives)
	target.Fields = append(target.Fields, &cp)

	if c.super.owners[target.Name] == nil {
		c.super.owners[target.Name] = make(map[string]string)
	}
	c.super.owners[target.Name][field.Name] = service
	return nil
}

func (c *composer) finish() (*Supergraph, error) {
	for _, name := range c.order {
		if rootTypeNames[name] {
			continue
		}
		if _, ok := c.definedBy[name]; !ok {
			return nil, fmt.Errorf("gateway: type %s is extended but never defined", name)
		}
	}
	for _, ext := range c.external {
		if c.types[ext.typeName].Fields.ForName(ext.field) == nil {
			return nil, fmt.Errorf("gateway: %s marks %s.%s @external but no subgraph defines it", ext.service, ext.typeName, ext.field)
		}
	}
	if _, ok := c.types["Query"]; !ok {
		return nil, fmt.Errorf("gateway: composed schema has no Query fields")
	}

	doc := &ast.SchemaDocument{Directives: c.directives}
	for _, name := range c.order {
		doc.Definitions = append(doc.Definitions, c.types[name])
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(doc)
	sdl := buf.String()

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "supergraph.graphql", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("gateway: composed schema is invalid: %w", err)
	}

	introspection, err := graphql.FromAST(schema)
	if err != nil {
		return nil, fmt.Errorf("gateway: composed schema is not executable: %w", err)
	}

	c.super.schema = schema
	c.super.sdl = sdl
	c.super.introspection = introspection
	return c.super, nil
}

func stripFederation(list ast.DirectiveList) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range list {
		if !federationDirectiveNames[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func builtIn(pos *ast.Position) bool {
	return pos != nil && pos.Src != nil && pos.Src.BuiltIn
}
