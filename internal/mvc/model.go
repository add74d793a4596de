package mvc

import (
	"maps"

	"github.com/nchaimov/taucmdr/internal/storage"
)

// Model is one stored record bound to its schema. It is a read-only view;
// all mutation goes through a Controller.
type Model struct {
	schema *Schema
	eid    storage.EID
	fields map[string]any
}

func newModel(schema *Schema, rec storage.Record) *Model {
	return &Model{schema: schema, eid: rec.EID, fields: rec.Fields}
}

// Name returns the model's type name.
func (m *Model) Name() string {
	return m.schema.Name
}

// Schema returns the schema this record is bound to.
func (m *Model) Schema() *Schema {
	return m.schema
}

// EID returns the record's element identifier.
func (m *Model) EID() storage.EID {
	return m.eid
}

// Get returns the value of an attribute and whether it is set.
func (m *Model) Get(attr string) (any, bool) {
	v, ok := m.fields[attr]
	return v, ok
}

// Fields returns a copy of the record's field mapping.
func (m *Model) Fields() map[string]any {
	out := make(map[string]any, len(m.fields))
	maps.Copy(out, m.fields)
	return out
}
