package storage

import "errors"

var errEmptySelector = errors.New("empty selector")

// Where selects records by eid or by field values. The zero value selects
// nothing; use All to select every record.
type Where struct {
	eids     []EID
	keys     map[string]any
	anyKey   bool
	everyRow bool
}

// All selects every record in a table.
func All() Where {
	return Where{everyRow: true}
}

// ByEID selects records by element identifier.
func ByEID(eids ...EID) Where {
	return Where{eids: eids}
}

// ByKeys selects records where every given field has the given value.
func ByKeys(keys map[string]any) Where {
	return Where{keys: keys}
}

// ByAnyKey selects records where at least one given field has the given
// value.
func ByAnyKey(keys map[string]any) Where {
	return Where{keys: keys, anyKey: true}
}

// isEmpty reports whether the selector cannot match anything.
func (w Where) isEmpty() bool {
	return !w.everyRow && len(w.eids) == 0 && len(w.keys) == 0
}

func (w Where) matches(eid EID, fields map[string]any) bool {
	if w.everyRow {
		return true
	}
	if len(w.eids) > 0 {
		for _, want := range w.eids {
			if eid == want {
				return true
			}
		}
		return false
	}
	if len(w.keys) == 0 {
		return false
	}
	for name, want := range w.keys {
		value, ok := fields[name]
		matched := ok && Equal(value, want)
		if w.anyKey && matched {
			return true
		}
		if !w.anyKey && !matched {
			return false
		}
	}
	return !w.anyKey
}
