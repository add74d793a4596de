package mvc

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// JSONSchema renders the model's attribute descriptors as a JSON Schema
// document, for collaborators that want a machine-readable description of
// the record shape. Association attributes appear as eid strings or arrays
// of eid strings, matching what the store persists.
func (s *Schema) JSONSchema() *jsonschema.Schema {
	out := &jsonschema.Schema{
		Version:    jsonschema.Version,
		Title:      s.Name,
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, name := range sortedAttrNames(s.Attributes) {
		a := s.Attributes[name]
		out.Properties.Set(name, attributeSchema(a))
		if a.Required {
			out.Required = append(out.Required, name)
		}
	}
	return out
}

func attributeSchema(a Attribute) *jsonschema.Schema {
	prop := &jsonschema.Schema{Description: a.Description}
	switch a.Assoc.Kind {
	case AssocSingle:
		prop.Type = "string"
		if prop.Description == "" {
			prop.Description = fmt.Sprintf("eid of the associated %s record", a.Assoc.Model)
		}
	case AssocCollection:
		prop.Type = "array"
		prop.Items = &jsonschema.Schema{Type: "string"}
		if prop.Description == "" {
			prop.Description = fmt.Sprintf("eids of the associated %s records", a.Assoc.Model)
		}
	case AssocNone:
		switch a.Type {
		case TypeText:
			prop.Type = "string"
		case TypeNumber:
			prop.Type = "number"
		case TypeBoolean:
			prop.Type = "boolean"
		case TypeArray:
			prop.Type = "array"
			prop.Items = &jsonschema.Schema{Type: "string"}
		}
	}
	if a.HasDefault {
		prop.Default = a.Default
	}
	return prop
}
