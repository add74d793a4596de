// Package mvc implements the record controller core: declarative model
// schemas bound to a storage.Database through per-model controllers that
// keep bidirectional associations consistent and make every multi-step
// mutation atomic.
//
// A Schema describes one record type as data: attribute descriptors with
// types, defaults, uniqueness flags, association declarations, change
// callbacks and compatibility rules. A Registry holds the schemas of one
// application so mutually referencing models can name each other without
// initialization cycles. A Controller performs all reads and writes;
// records are never created, mutated or deleted behind its back.
package mvc

import (
	"fmt"
	"slices"

	"github.com/nchaimov/taucmdr/internal/storage"
)

// FieldType is the semantic type of a non-association attribute.
type FieldType string

const (
	// TypeText stores string values.
	TypeText FieldType = "text"
	// TypeNumber stores numeric values (integer or float).
	TypeNumber FieldType = "number"
	// TypeBoolean stores boolean values.
	TypeBoolean FieldType = "boolean"
	// TypeArray stores lists of strings.
	TypeArray FieldType = "array"
)

// AssociationKind tags how an attribute relates to a foreign model.
type AssociationKind int

const (
	// AssocNone marks a plain data attribute.
	AssocNone AssociationKind = iota
	// AssocSingle references exactly one foreign record by eid.
	AssocSingle
	// AssocCollection references a set of foreign records by eid.
	AssocCollection
)

// Association declares a bidirectional relationship: this attribute holds
// eid(s) of Model records, and the Via attribute on Model mirrors the link
// back. The zero value means the attribute is not an association.
type Association struct {
	Kind  AssociationKind
	Model string
	Via   string
}

// Reference is a weak back-pointer: an attribute on another model that may
// hold this model's eids without a declared inverse on this side. It is
// scanned on delete so no record keeps referencing a dead eid.
type Reference struct {
	Model string
	Via   string
}

// OnChangeFunc is invoked when an attribute's stored value changes. The
// model still holds the old value; newValue is what is being written.
type OnChangeFunc func(c *Controller, m *Model, attr string, newValue any)

// HookFunc is a lifecycle hook. Returning an error aborts the enclosing
// controller operation and reverts its transaction.
type HookFunc func(c *Controller, m *Model) error

// Attribute describes one field of a model.
type Attribute struct {
	Type       FieldType
	Required   bool
	Unique     bool
	Default    any
	HasDefault bool
	Assoc      Association
	OnChange   OnChangeFunc
	Compat     []CompatRule

	// Description is informational only; it surfaces in the JSON Schema
	// rendering of the model.
	Description string
}

// Schema is the declarative description of one record type. Build it once
// at startup and register it; schemas are read-only afterward.
type Schema struct {
	Name       string
	Attributes map[string]Attribute
	References []Reference

	OnCreate HookFunc
	OnUpdate HookFunc
	OnDelete HookFunc
}

func sortedAttrNames(attrs map[string]Attribute) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// associationAttrs returns the names of maintained association attributes,
// the ones with a declared inverse, sorted for deterministic iteration.
// Attributes that point at a foreign model without naming a Via are weak
// pointers: typed and resolvable but not kept symmetric.
func (s *Schema) associationAttrs() []string {
	var names []string
	for name, a := range s.Attributes {
		if a.Assoc.Kind != AssocNone && a.Assoc.Via != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// linkedAttrs returns every attribute that holds foreign eids, maintained
// or not, sorted.
func (s *Schema) linkedAttrs() []string {
	var names []string
	for name, a := range s.Attributes {
		if a.Assoc.Kind != AssocNone {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Associations returns the subset of attributes that declare maintained
// relationships.
func (s *Schema) Associations() map[string]Association {
	out := map[string]Association{}
	for name, a := range s.Attributes {
		if a.Assoc.Kind != AssocNone && a.Assoc.Via != "" {
			out[name] = a.Assoc
		}
	}
	return out
}

// Validate checks fields against the schema and returns a normalized copy:
// unknown attributes are rejected, defaults are applied to absent
// attributes, and required attributes must end up present.
func (s *Schema) Validate(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		a, ok := s.Attributes[name]
		if !ok {
			return nil, &ModelError{Model: s.Name, Message: fmt.Sprintf("no attribute named %q", name)}
		}
		if err := a.checkValue(s.Name, name, value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	for name, a := range s.Attributes {
		if _, ok := out[name]; ok {
			continue
		}
		if a.HasDefault {
			out[name] = a.Default
			continue
		}
		if a.Required {
			return nil, &ValidationError{Model: s.Name, Attr: name, Reason: "required attribute is missing"}
		}
	}
	return out, nil
}

// checkValue verifies that value fits the attribute's declared shape.
func (a Attribute) checkValue(model, attr string, value any) error {
	if value == nil {
		if a.Required {
			return &ValidationError{Model: model, Attr: attr, Reason: "required attribute is null"}
		}
		return nil
	}
	switch a.Assoc.Kind {
	case AssocSingle:
		if !isEIDValue(value) {
			return &ValidationError{Model: model, Attr: attr, Reason: fmt.Sprintf("expected a %s eid, got %T", a.Assoc.Model, value)}
		}
		return nil
	case AssocCollection:
		if _, ok := eidSlice(value); !ok {
			return &ValidationError{Model: model, Attr: attr, Reason: fmt.Sprintf("expected a list of %s eids, got %T", a.Assoc.Model, value)}
		}
		return nil
	case AssocNone:
	}
	switch a.Type {
	case TypeText:
		if _, ok := value.(string); !ok {
			return &ValidationError{Model: model, Attr: attr, Reason: fmt.Sprintf("expected text, got %T", value)}
		}
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
		default:
			return &ValidationError{Model: model, Attr: attr, Reason: fmt.Sprintf("expected a number, got %T", value)}
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return &ValidationError{Model: model, Attr: attr, Reason: fmt.Sprintf("expected a boolean, got %T", value)}
		}
	case TypeArray:
		if !isTextArray(value) {
			return &ValidationError{Model: model, Attr: attr, Reason: fmt.Sprintf("expected a list of text values, got %T", value)}
		}
	}
	return nil
}

func isEIDValue(value any) bool {
	switch value.(type) {
	case storage.EID, string:
		return true
	}
	return false
}

func eidSlice(value any) ([]storage.EID, bool) {
	switch t := value.(type) {
	case []storage.EID:
		return slices.Clone(t), true
	case []string:
		out := make([]storage.EID, len(t))
		for i, s := range t {
			out[i] = storage.EID(s)
		}
		return out, true
	case []any:
		out := make([]storage.EID, len(t))
		for i, v := range t {
			switch e := v.(type) {
			case storage.EID:
				out[i] = e
			case string:
				out[i] = storage.EID(e)
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

func isTextArray(value any) bool {
	switch t := value.(type) {
	case []string:
		return true
	case []any:
		for _, v := range t {
			if _, ok := v.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// eidSet extracts the set of eids held by an association attribute value.
// It accepts a single eid, a list of eids, or nil, in both freshly written
// and JSON round-tripped shapes. The result is deduplicated and sorted.
func eidSet(value any) []storage.EID {
	if value == nil {
		return nil
	}
	var out []storage.EID
	switch t := value.(type) {
	case storage.EID:
		out = []storage.EID{t}
	case string:
		out = []storage.EID{storage.EID(t)}
	default:
		s, ok := eidSlice(value)
		if !ok {
			return nil
		}
		out = s
	}
	slices.SortFunc(out, compareEIDs)
	return slices.Compact(out)
}

func compareEIDs(a, b storage.EID) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// eidStrings converts eids to plain strings for storage.
func eidStrings(eids []storage.EID) []string {
	out := make([]string, len(eids))
	for i, eid := range eids {
		out[i] = string(eid)
	}
	return out
}

// subtractEIDs returns the members of a that are not in b.
func subtractEIDs(a, b []storage.EID) []storage.EID {
	var out []storage.EID
	for _, eid := range a {
		if !slices.Contains(b, eid) {
			out = append(out, eid)
		}
	}
	return out
}
