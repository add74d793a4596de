package mvc

import (
	"fmt"
	"maps"
	"slices"

	"github.com/nchaimov/taucmdr/internal/storage"
)

// ExportedRecords maps model name to eid to raw field mapping, the shape
// produced by ExportRecords and consumed by ImportRecords.
type ExportedRecords = map[string]map[storage.EID]map[string]any

// ExportRecords collects the records matching the selector together with
// every record transitively reachable from them through declared
// associations, each exactly once. Association attributes are exported
// as-is, so they may hold eids of records outside the exported set.
//
// Traversal tracks visited (model, eid) pairs, so mutually referencing
// records do not recurse forever.
func (c *Controller) ExportRecords(w storage.Where) (ExportedRecords, error) {
	out := ExportedRecords{}
	visited := map[string]map[storage.EID]bool{}
	var walk func(s *Schema, rec storage.Record) error
	walk = func(s *Schema, rec storage.Record) error {
		if visited[s.Name] == nil {
			visited[s.Name] = map[storage.EID]bool{}
		}
		if visited[s.Name][rec.EID] {
			return nil
		}
		visited[s.Name][rec.EID] = true
		if out[s.Name] == nil {
			out[s.Name] = map[storage.EID]map[string]any{}
		}
		out[s.Name][rec.EID] = rec.Fields
		for _, attr := range s.linkedAttrs() {
			eids := eidSet(rec.Fields[attr])
			if len(eids) == 0 {
				continue
			}
			foreign, ok := c.reg.Schema(s.Attributes[attr].Assoc.Model)
			if !ok {
				return &ModelError{Model: s.Name, Message: fmt.Sprintf("%s is associated with unregistered model %q", attr, s.Attributes[attr].Assoc.Model)}
			}
			for _, frec := range c.db.Search(foreign.Name, storage.ByEID(eids...)) {
				if err := walk(foreign, frec); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, rec := range c.db.Search(c.schema.Name, w) {
		if err := walk(c.schema, rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ImportRecords inserts previously exported data back into the store,
// preserving every eid, inside one transaction. Every table must belong to
// a registered model and none of the eids may already be taken.
func (c *Controller) ImportRecords(data ExportedRecords) error {
	return c.db.Transaction(func() error {
		for _, table := range slices.Sorted(maps.Keys(data)) {
			if _, ok := c.reg.Schema(table); !ok {
				return &ModelError{Model: table, Message: "model is not registered"}
			}
			records := data[table]
			eids := slices.SortedFunc(maps.Keys(records), compareEIDs)
			for _, eid := range eids {
				if c.db.Contains(table, storage.ByEID(eid)) {
					return &IntegrityError{Model: table, EID: eid, Message: "record already exists"}
				}
				if err := c.db.Restore(table, eid, records[eid]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
