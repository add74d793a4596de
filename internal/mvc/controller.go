package mvc

import (
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"

	"github.com/nchaimov/taucmdr/internal/storage"
)

// Controller binds one model schema to one storage database and performs
// all operations on that model's records: association-aware create, update,
// unset and delete, plus read-only projections. Every mutation runs inside
// one storage transaction; any error raised during or after the raw storage
// mutation, including from lifecycle hooks, reverts the whole operation.
type Controller struct {
	schema *Schema
	db     *storage.Database
	reg    *Registry
	topics *Topics
}

// Controller builds a controller for the named model. All controllers
// sharing one store binding should share one Topics instance; passing nil
// creates a private one.
func (r *Registry) Controller(name string, db *storage.Database, topics *Topics) (*Controller, error) {
	s, ok := r.schemas[name]
	if !ok {
		return nil, &ModelError{Model: name, Message: "model is not registered"}
	}
	if topics == nil {
		topics = NewTopics()
	}
	return &Controller{schema: s, db: db, reg: r, topics: topics}, nil
}

// controllerFor returns a sibling controller bound to the same store and
// topics.
func (c *Controller) controllerFor(name string) (*Controller, error) {
	if name == c.schema.Name {
		return c, nil
	}
	return c.reg.Controller(name, c.db, c.topics)
}

// Schema returns the model schema this controller operates on.
func (c *Controller) Schema() *Schema {
	return c.schema
}

// Storage returns the underlying database, for model hooks that need to
// reach other tables.
func (c *Controller) Storage() *storage.Database {
	return c.db
}

// PushToTopic queues a notification message for downstream consumers.
func (c *Controller) PushToTopic(topic string, message any) {
	c.topics.Push(topic, message)
}

// PopTopic drains the queued messages of a topic.
func (c *Controller) PopTopic(topic string) []any {
	return c.topics.Pop(topic)
}

// One returns the record matching the selector, or nil if there is none.
func (c *Controller) One(w storage.Where) *Model {
	rec, ok := c.db.Get(c.schema.Name, w)
	if !ok {
		return nil
	}
	return newModel(c.schema, rec)
}

// All returns every record of this model.
func (c *Controller) All() []*Model {
	return c.Search(storage.All())
}

// Count returns the number of records of this model.
func (c *Controller) Count() int {
	return c.db.Count(c.schema.Name)
}

// Search returns the records matching the selector.
func (c *Controller) Search(w storage.Where) []*Model {
	recs := c.db.Search(c.schema.Name, w)
	out := make([]*Model, len(recs))
	for i, rec := range recs {
		out[i] = newModel(c.schema, rec)
	}
	return out
}

// Match returns the records whose field satisfies the regular expression or
// predicate.
func (c *Controller) Match(field string, re *regexp.Regexp, test func(any) bool) []*Model {
	recs := c.db.Match(c.schema.Name, field, re, test)
	out := make([]*Model, len(recs))
	for i, rec := range recs {
		out[i] = newModel(c.schema, rec)
	}
	return out
}

// Exists reports whether a record matching the selector exists.
func (c *Controller) Exists(w storage.Where) bool {
	return c.db.Contains(c.schema.Name, w)
}

// Populate resolves every association attribute present on the record into
// the referenced Model instance(s). With useDefaults, absent attributes
// that declare a default contribute their default value.
func (c *Controller) Populate(m *Model, useDefaults bool) (map[string]any, error) {
	slog.Debug("populating", "model", m.Name(), "eid", m.EID())
	names := slices.Sorted(maps.Keys(m.fields))
	if useDefaults {
		for name, a := range c.schema.Attributes {
			if _, present := m.fields[name]; !present && a.HasDefault {
				names = append(names, name)
			}
		}
		slices.Sort(names)
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		value, err := c.PopulateAttribute(m, name, useDefaults)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// PopulateAttribute resolves one attribute. Association attributes resolve
// to *Model (single) or []*Model (collection); data attributes return their
// stored value, or the schema default when absent and useDefaults is set.
func (c *Controller) PopulateAttribute(m *Model, attr string, useDefaults bool) (any, error) {
	a, ok := c.schema.Attributes[attr]
	if !ok {
		return nil, &ModelError{Model: c.schema.Name, Message: fmt.Sprintf("no attribute named %q", attr)}
	}
	value, present := m.Get(attr)
	if !present && useDefaults && a.HasDefault {
		value = a.Default
	}
	switch a.Assoc.Kind {
	case AssocSingle:
		eids := eidSet(value)
		if len(eids) == 0 {
			return nil, nil
		}
		foreign, err := c.controllerFor(a.Assoc.Model)
		if err != nil {
			return nil, err
		}
		fm := foreign.One(storage.ByEID(eids[0]))
		if fm == nil {
			return nil, nil
		}
		return fm, nil
	case AssocCollection:
		foreign, err := c.controllerFor(a.Assoc.Model)
		if err != nil {
			return nil, err
		}
		return foreign.Search(storage.ByEID(eidSet(value)...)), nil
	case AssocNone:
	}
	return value, nil
}

// Create atomically stores a new record and updates the foreign side of
// every association it declares. The compatibility check and OnCreate hook
// run after the data is recorded; if either fails the whole operation is
// reverted and the record does not exist afterward.
func (c *Controller) Create(fields map[string]any) (*Model, error) {
	data, err := c.schema.Validate(fields)
	if err != nil {
		return nil, err
	}
	unique := map[string]any{}
	for name, a := range c.schema.Attributes {
		if value, ok := data[name]; ok && a.Unique {
			unique[name] = value
		}
	}
	if len(unique) > 0 && c.db.Contains(c.schema.Name, storage.ByAnyKey(unique)) {
		return nil, &UniqueAttributeError{Model: c.schema.Name, Keys: unique}
	}
	var created *Model
	err = c.db.Transaction(func() error {
		eid, err := c.db.Insert(c.schema.Name, data)
		if err != nil {
			return err
		}
		rec, _ := c.db.Get(c.schema.Name, storage.ByEID(eid))
		m := newModel(c.schema, rec)
		for _, attr := range c.schema.associationAttrs() {
			affected := eidSet(rec.Fields[attr])
			if len(affected) == 0 {
				continue
			}
			if err := c.associate(m, c.schema.Attributes[attr].Assoc, affected); err != nil {
				return err
			}
		}
		// Association maintenance may have touched our own record too.
		rec, _ = c.db.Get(c.schema.Name, storage.ByEID(eid))
		m = newModel(c.schema, rec)
		if err := c.schema.CheckCompatibility(c, m); err != nil {
			return err
		}
		if c.schema.OnCreate != nil {
			if err := c.schema.OnCreate(c, m); err != nil {
				return err
			}
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update changes recorded data and reconciles associations. Per matching
// record and changed attribute, the attribute's OnChange callback fires
// when the stored value actually differs; association attributes add and
// remove foreign-side links by the symmetric difference of old and new eid
// sets. Compatibility checks and OnUpdate hooks run after the mutation; any
// failure reverts everything.
func (c *Controller) Update(fields map[string]any, w storage.Where) error {
	for name := range fields {
		if _, ok := c.schema.Attributes[name]; !ok {
			return &ModelError{Model: c.schema.Name, Message: fmt.Sprintf("no attribute named %q", name)}
		}
	}
	return c.db.Transaction(func() error {
		// Capture matching records before mutation so old association
		// values are known.
		changing := c.Search(w)
		if err := c.db.Update(c.schema.Name, fields, w); err != nil {
			return err
		}
		for _, m := range changing {
			for _, attr := range slices.Sorted(maps.Keys(fields)) {
				a := c.schema.Attributes[attr]
				if a.OnChange == nil {
					continue
				}
				newValue := fields[attr]
				if old, ok := m.Get(attr); !ok || !storage.Equal(old, newValue) {
					a.OnChange(c, m, attr, newValue)
				}
			}
			for _, attr := range c.schema.associationAttrs() {
				newValue, ok := fields[attr]
				if !ok {
					continue
				}
				assoc := c.schema.Attributes[attr].Assoc
				oldValue, _ := m.Get(attr)
				newKeys := eidSet(newValue)
				oldKeys := eidSet(oldValue)
				if added := subtractEIDs(newKeys, oldKeys); len(added) > 0 {
					if err := c.associate(m, assoc, added); err != nil {
						return err
					}
				}
				if removed := subtractEIDs(oldKeys, newKeys); len(removed) > 0 {
					if err := c.disassociate(m, assoc, removed); err != nil {
						return err
					}
				}
			}
		}
		for _, m := range c.Search(w) {
			if err := c.schema.CheckCompatibility(c, m); err != nil {
				return err
			}
			if c.schema.OnUpdate != nil {
				if err := c.schema.OnUpdate(c, m); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Unset clears recorded fields and updates associations, disassociating
// from the foreign side using the value each field held before clearing.
func (c *Controller) Unset(fields []string, w storage.Where) error {
	for _, name := range fields {
		if _, ok := c.schema.Attributes[name]; !ok {
			return &ModelError{Model: c.schema.Name, Message: fmt.Sprintf("no attribute named %q", name)}
		}
	}
	return c.db.Transaction(func() error {
		changing := c.Search(w)
		if err := c.db.Unset(c.schema.Name, fields, w); err != nil {
			return err
		}
		for _, m := range changing {
			for _, attr := range fields {
				a := c.schema.Attributes[attr]
				if a.OnChange == nil {
					continue
				}
				if _, ok := m.Get(attr); ok {
					a.OnChange(c, m, attr, nil)
				}
			}
			for _, attr := range c.schema.associationAttrs() {
				if !slices.Contains(fields, attr) {
					continue
				}
				oldValue, _ := m.Get(attr)
				if old := eidSet(oldValue); len(old) > 0 {
					if err := c.disassociate(m, c.schema.Attributes[attr].Assoc, old); err != nil {
						return err
					}
				}
			}
		}
		for _, m := range c.Search(w) {
			if err := c.schema.CheckCompatibility(c, m); err != nil {
				return err
			}
			if c.schema.OnUpdate != nil {
				if err := c.schema.OnUpdate(c, m); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Delete removes matching records after resolving every association and
// reference pointing at them. OnDelete hooks run inside the transaction,
// after removal, so a failing hook reverts the whole delete.
func (c *Controller) Delete(w storage.Where) error {
	return c.db.Transaction(func() error {
		doomed := c.Search(w)
		for _, m := range doomed {
			for _, attr := range c.schema.associationAttrs() {
				assoc := c.schema.Attributes[attr].Assoc
				value, _ := m.Get(attr)
				affected := eidSet(value)
				if len(affected) == 0 {
					continue
				}
				slog.Debug("delete touches association",
					"model", c.schema.Name, "eid", m.EID(), "foreign", assoc.Model, "via", assoc.Via)
				if err := c.disassociate(m, assoc, affected); err != nil {
					return err
				}
			}
			for _, ref := range c.schema.References {
				me := m.EID()
				matched := c.db.Match(ref.Model, ref.Via, nil, func(v any) bool {
					return slices.Contains(eidSet(v), me)
				})
				if len(matched) == 0 {
					continue
				}
				affected := make([]storage.EID, len(matched))
				for i, rec := range matched {
					affected[i] = rec.EID
				}
				slog.Debug("delete touches reference",
					"model", c.schema.Name, "eid", m.EID(), "foreign", ref.Model, "via", ref.Via)
				if err := c.disassociate(m, Association{Model: ref.Model, Via: ref.Via}, affected); err != nil {
					return err
				}
			}
		}
		if len(doomed) > 0 {
			eids := make([]storage.EID, len(doomed))
			for i, m := range doomed {
				eids[i] = m.EID()
			}
			if _, err := c.db.Remove(c.schema.Name, storage.ByEID(eids...)); err != nil {
				return err
			}
		}
		for _, m := range doomed {
			if c.schema.OnDelete != nil {
				if err := c.schema.OnDelete(c, m); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// associate adds m's eid to the via attribute of each affected foreign
// record: single associations are overwritten, collections grow by union.
// The foreign side is updated through its own controller so its callbacks
// and association bookkeeping run too.
func (c *Controller) associate(m *Model, assoc Association, affected []storage.EID) error {
	foreign, ok := c.reg.Schema(assoc.Model)
	if !ok {
		return &ModelError{Model: c.schema.Name, Message: fmt.Sprintf("associated with unregistered model %q", assoc.Model)}
	}
	foreignCtrl, err := c.controllerFor(assoc.Model)
	if err != nil {
		return err
	}
	via := foreign.Attributes[assoc.Via]
	for _, eid := range affected {
		rec, ok := c.db.Get(foreign.Name, storage.ByEID(eid))
		if !ok {
			return &IntegrityError{Model: foreign.Name, EID: eid, Message: "no such record"}
		}
		var updated any
		switch via.Assoc.Kind {
		case AssocSingle:
			updated = string(m.EID())
		case AssocCollection:
			merged := eidSet(rec.Fields[assoc.Via])
			if !slices.Contains(merged, m.EID()) {
				merged = append(merged, m.EID())
				slices.SortFunc(merged, compareEIDs)
			}
			updated = eidStrings(merged)
		default:
			return &ModelError{Model: foreign.Name, Message: fmt.Sprintf("%s is neither a single nor a collection association", assoc.Via)}
		}
		if err := foreignCtrl.Update(map[string]any{assoc.Via: updated}, storage.ByEID(eid)); err != nil {
			return err
		}
	}
	return nil
}

// disassociate removes m's eid from the via attribute of each affected
// foreign record. Clearing a required via attribute would violate the
// foreign schema, so the foreign record is cascade-deleted instead.
func (c *Controller) disassociate(m *Model, assoc Association, affected []storage.EID) error {
	foreign, ok := c.reg.Schema(assoc.Model)
	if !ok {
		return &ModelError{Model: c.schema.Name, Message: fmt.Sprintf("associated with unregistered model %q", assoc.Model)}
	}
	foreignCtrl, err := c.controllerFor(assoc.Model)
	if err != nil {
		return err
	}
	via := foreign.Attributes[assoc.Via]
	switch via.Assoc.Kind {
	case AssocSingle:
		if via.Required {
			slog.Debug("cascading delete of required association",
				"model", foreign.Name, "via", assoc.Via, "affected", affected)
			return foreignCtrl.Delete(storage.ByEID(affected...))
		}
		return c.db.Unset(foreign.Name, []string{assoc.Via}, storage.ByEID(affected...))
	case AssocCollection:
		for _, eid := range affected {
			rec, ok := c.db.Get(foreign.Name, storage.ByEID(eid))
			if !ok {
				return &IntegrityError{Model: foreign.Name, EID: eid, Message: "no such record"}
			}
			updated := subtractEIDs(eidSet(rec.Fields[assoc.Via]), []storage.EID{m.EID()})
			if via.Required && len(updated) == 0 {
				slog.Debug("cascading delete of emptied required association",
					"model", foreign.Name, "via", assoc.Via, "eid", eid)
				if err := foreignCtrl.Delete(storage.ByEID(eid)); err != nil {
					return err
				}
				continue
			}
			if err := c.db.Update(foreign.Name, map[string]any{assoc.Via: eidStrings(updated)}, storage.ByEID(eid)); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ModelError{Model: foreign.Name, Message: fmt.Sprintf("%s is neither a single nor a collection association", assoc.Via)}
	}
}
