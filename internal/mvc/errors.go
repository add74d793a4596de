package mvc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nchaimov/taucmdr/internal/storage"
)

// ValidationError reports a field value that fails the schema's type or
// required checks.
type ValidationError struct {
	Model  string
	Attr   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Attr == "" {
		return fmt.Sprintf("%s: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %s", e.Model, e.Attr, e.Reason)
}

// UniqueAttributeError reports an attempt to store a duplicate value in a
// unique attribute.
type UniqueAttributeError struct {
	Model string
	Keys  map[string]any
}

func (e *UniqueAttributeError) Error() string {
	parts := make([]string, 0, len(e.Keys))
	for name, value := range e.Keys {
		parts = append(parts, fmt.Sprintf("%s=%v", name, value))
	}
	sort.Strings(parts)
	return fmt.Sprintf("a %s record with %s already exists", e.Model, strings.Join(parts, ", "))
}

// ModelError reports misuse of a model schema, most commonly an operation
// naming an attribute the schema does not define.
type ModelError struct {
	Model   string
	Message string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Model, e.Message)
}

// IncompatibilityError reports a record whose attribute combination fails a
// post-mutation compatibility check.
type IncompatibilityError struct {
	Model   string
	EID     storage.EID
	Message string
}

func (e *IncompatibilityError) Error() string {
	return fmt.Sprintf("%s(%s) is incompatible: %s", e.Model, e.EID, e.Message)
}

// IntegrityError reports an association invariant that cannot be satisfied,
// e.g. an association naming a foreign record that does not exist.
type IntegrityError struct {
	Model   string
	EID     storage.EID
	Message string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s(%s): %s", e.Model, e.EID, e.Message)
}

// ImmutableRecordError reports an update or delete rejected because
// dependent state forbids it. The core never raises this itself; it exists
// for model hooks that need to veto a mutation.
type ImmutableRecordError struct {
	Model   string
	Message string
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("%s is immutable: %s", e.Model, e.Message)
}
