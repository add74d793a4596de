package mvc

import "fmt"

// Registry holds the schemas of one application so that mutually
// referencing models can name each other. Register every schema at startup,
// then Check the whole set once before building controllers.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: map[string]*Schema{}}
}

// Register adds a schema. The name must be non-empty and unused.
func (r *Registry) Register(s *Schema) error {
	if s.Name == "" {
		return &ModelError{Model: "(unnamed)", Message: "schema has no name"}
	}
	if _, dup := r.schemas[s.Name]; dup {
		return &ModelError{Model: s.Name, Message: "schema is already registered"}
	}
	r.schemas[s.Name] = s
	return nil
}

// Schema returns the named schema.
func (r *Registry) Schema(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Check verifies that every association and reference points at a
// registered schema and an existing via attribute of association kind.
func (r *Registry) Check() error {
	for name, s := range r.schemas {
		for _, attr := range s.linkedAttrs() {
			assoc := s.Attributes[attr].Assoc
			foreign, ok := r.schemas[assoc.Model]
			if !ok {
				return &ModelError{Model: name, Message: fmt.Sprintf("%s is associated with unregistered model %q", attr, assoc.Model)}
			}
			if assoc.Via == "" {
				continue
			}
			via, ok := foreign.Attributes[assoc.Via]
			if !ok {
				return &ModelError{Model: name, Message: fmt.Sprintf("%s is associated via %s.%s, which does not exist", attr, assoc.Model, assoc.Via)}
			}
			if via.Assoc.Kind == AssocNone {
				return &ModelError{Model: name, Message: fmt.Sprintf("%s is associated via %s.%s, which is not an association", attr, assoc.Model, assoc.Via)}
			}
		}
		for _, ref := range s.References {
			foreign, ok := r.schemas[ref.Model]
			if !ok {
				return &ModelError{Model: name, Message: fmt.Sprintf("referenced by unregistered model %q", ref.Model)}
			}
			via, ok := foreign.Attributes[ref.Via]
			if !ok {
				return &ModelError{Model: name, Message: fmt.Sprintf("referenced via %s.%s, which does not exist", ref.Model, ref.Via)}
			}
			if via.Assoc.Kind == AssocNone {
				return &ModelError{Model: name, Message: fmt.Sprintf("referenced via %s.%s, which is not an association", ref.Model, ref.Via)}
			}
		}
	}
	return nil
}
