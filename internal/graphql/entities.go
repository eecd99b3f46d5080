package graphql

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

// Reference points at an entity owned by another subgraph. Resolvers return it for
// fields such as Post.author; the gateway completes the remaining fields from the
// owning subgraph.
type Reference struct {
	Typename string `json:"__typename"`
	ID       string `json:"id"`
}

// GraphQLTypename implements Typenamer.
func (r Reference) GraphQLTypename() string { return r.Typename }

// Ref builds a Reference, or nil when id is empty so optional reference fields
// resolve to null.
func Ref(typename, id string) *Reference {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return &Reference{Typename: typename, ID: id}
}

// RefPtr is Ref for optional foreign keys.
func RefPtr(typename string, id *string) *Reference {
	if id == nil {
		return nil
	}
	return Ref(typename, *id)
}

// entryError fails one list entry without failing the whole list.
type entryError struct{ err error }

// resolveEntities backs Query._entities. Each representation is resolved through the
// typename registry. References that resolve to nothing come back as null entries and
// a representation that cannot be resolved fails only its own entry.
func (s *Schema) resolveEntities(ctx context.Context, p ResolveParams) (any, error) {
	raw, _ := p.Args["representations"].([]any)
	out := make([]any, len(raw))
	for i, item := range raw {
		entity, err := s.resolveRepresentation(ctx, p, item)
		switch {
		case err != nil:
			out[i] = entryError{err: err}
		case entity != nil:
			out[i] = *entity
		}
	}
	return out, nil
}

func (s *Schema) resolveRepresentation(ctx context.Context, p ResolveParams, item any) (*Typed, error) {
	rep, ok := item.(map[string]any)
	if !ok {
		return nil, apperrors.NewBadRequest("representation is not an object")
	}

	ref, err := s.reference(rep)
	if err != nil {
		return nil, err
	}

	resolver := s.references[ref.Typename]
	if resolver == nil {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("no reference resolver for %s", ref.Typename))
	}

	entity, err := resolver(ctx, p.Request, ref)
	if err != nil || isNil(entity) {
		return nil, err
	}
	return &Typed{Typename: ref.Typename, Value: entity}, nil
}

func (s *Schema) reference(rep map[string]any) (Reference, error) {
	typename, _ := rep["__typename"].(string)
	if typename == "" {
		return Reference{}, apperrors.NewBadRequest("representation is missing __typename")
	}
	key, ok := s.keys[typename]
	if !ok {
		return Reference{}, apperrors.NewBadRequest(fmt.Sprintf("%s is not an entity of this service", typename))
	}

	var id string
	switch v := rep[key].(type) {
	case string:
		id = v
	case nil:
	default:
		id = fmt.Sprint(v)
	}
	if id == "" {
		return Reference{}, apperrors.NewBadRequest(fmt.Sprintf("representation of %s is missing %s", typename, key))
	}
	return Reference{Typename: typename, ID: id}, nil
}
