package mvc

import (
	"fmt"
	"log/slog"

	"github.com/nchaimov/taucmdr/internal/storage"
)

// CompatClause names an attribute that must (or should) hold when a
// compatibility rule fires. An empty Model means the checked record itself;
// otherwise the clause applies to every record of that model currently
// associated with the checked record. Value nil only demands that the
// attribute is set.
type CompatClause struct {
	Model string
	Attr  string
	Value any
}

func (cl CompatClause) String() string {
	target := cl.Model
	if target == "" {
		target = "self"
	}
	if cl.Value == nil {
		return fmt.Sprintf("%s.%s must be set", target, cl.Attr)
	}
	return fmt.Sprintf("%s.%s must be %v", target, cl.Attr, cl.Value)
}

// CompatRule ties a predicate on an attribute's current value to clauses on
// this or other models. Require clauses raise IncompatibilityError when
// violated; Discourage clauses only log a warning.
type CompatRule struct {
	When       func(value any) bool
	Require    []CompatClause
	Discourage []CompatClause
}

// WhenEqual is a rule predicate that fires when the attribute holds the
// given value.
func WhenEqual(trigger any) func(any) bool {
	return func(value any) bool { return storage.Equal(value, trigger) }
}

// WhenSet is a rule predicate that fires when the attribute is set to
// anything non-nil.
func WhenSet() func(any) bool {
	return func(value any) bool { return value != nil }
}

// CheckCompatibility evaluates every compatibility rule of the record's
// schema against its current attribute values. It is invoked by the
// controller after each mutation, inside the operation's transaction, so a
// violation reverts the mutation.
func (s *Schema) CheckCompatibility(c *Controller, m *Model) error {
	for _, attr := range sortedAttrNames(s.Attributes) {
		a := s.Attributes[attr]
		if len(a.Compat) == 0 {
			continue
		}
		value, _ := m.Get(attr)
		for _, rule := range a.Compat {
			if rule.When != nil && !rule.When(value) {
				continue
			}
			for _, cl := range rule.Require {
				ok, err := c.clauseHolds(m, cl)
				if err != nil {
					return err
				}
				if !ok {
					return &IncompatibilityError{
						Model:   s.Name,
						EID:     m.EID(),
						Message: fmt.Sprintf("%s=%v requires %s", attr, value, cl),
					}
				}
			}
			for _, cl := range rule.Discourage {
				ok, err := c.clauseHolds(m, cl)
				if err != nil {
					return err
				}
				if !ok {
					slog.Warn("discouraged attribute combination",
						"model", s.Name, "eid", m.EID(), "attr", attr, "clause", cl.String())
				}
			}
		}
	}
	return nil
}

// clauseHolds checks a clause against the record itself or against the
// records of the named model associated with it. A clause on a model with
// no associated records holds vacuously.
func (c *Controller) clauseHolds(m *Model, cl CompatClause) (bool, error) {
	if cl.Model == "" || cl.Model == m.Name() {
		return attrHolds(m, cl), nil
	}
	for _, attr := range m.schema.linkedAttrs() {
		assoc := m.schema.Attributes[attr].Assoc
		if assoc.Model != cl.Model {
			continue
		}
		foreign, err := c.controllerFor(cl.Model)
		if err != nil {
			return false, err
		}
		value, _ := m.Get(attr)
		for _, eid := range eidSet(value) {
			fm := foreign.One(storage.ByEID(eid))
			if fm == nil {
				return false, &IntegrityError{Model: cl.Model, EID: eid, Message: "associated record does not exist"}
			}
			if !attrHolds(fm, cl) {
				return false, nil
			}
		}
	}
	return true, nil
}

func attrHolds(m *Model, cl CompatClause) bool {
	value, ok := m.Get(cl.Attr)
	if !ok {
		return false
	}
	if cl.Value == nil {
		return true
	}
	return storage.Equal(value, cl.Value)
}
