// Package storage provides a table-oriented, file-backed document store.
//
// A Database holds named tables of records. Each record is a field mapping
// identified by an element identifier (eid) assigned at insertion. The whole
// store persists as one JSON document keyed by table name, then by eid, and
// every mutation rewrites the file with an atomic replace so a crash never
// leaves a half-written store.
//
// Field values are normalized to their JSON shapes (string, float64, bool,
// nil, []any, map[string]any) when written, so a write/read round trip
// reproduces the identical field mapping for every record.
//
// The store targets small, local, single-process configuration databases.
// A Database is not safe for concurrent use and takes no lock against other
// processes opening the same file; that is a deliberate trade-off, not an
// oversight.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// EID is an element identifier: opaque, unique within its table, assigned at
// insertion and immutable afterward. EIDs are minted as random UUID strings
// so they survive a JSON round trip unchanged.
type EID string

// Record is one stored document: its eid plus the field mapping.
type Record struct {
	EID    EID
	Fields map[string]any
}

type tableData = map[EID]map[string]any

// Database is a persistent, transactional record store.
type Database struct {
	path   string
	tables map[string]tableData

	txDepth    int
	txSnapshot map[string]tableData
}

// Open loads the store at path, creating parent directories and starting
// with an empty store if the file does not exist yet.
func Open(path string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	d := &Database{path: path, tables: map[string]tableData{}}
	if err := d.load(); err != nil {
		return nil, err
	}
	slog.Debug("storage: opened", "path", path, "tables", len(d.tables))
	return d, nil
}

// Path returns the location of the backing file.
func (d *Database) Path() string {
	return d.path
}

func (d *Database) load() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file %s: %w", d.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &d.tables); err != nil {
		return fmt.Errorf("failed to unmarshal store file %s: %w", d.path, err)
	}
	return nil
}

func (d *Database) save() error {
	data, err := json.MarshalIndent(d.tables, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	if err := atomic.WriteFile(d.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write store file %s: %w", d.path, err)
	}
	return nil
}

// table returns the named table, creating it if needed.
func (d *Database) table(name string) tableData {
	t, ok := d.tables[name]
	if !ok {
		t = tableData{}
		d.tables[name] = t
	}
	return t
}

// sortedEIDs returns the table's eids in a deterministic order: shorter
// encodings first, then lexicographic.
func sortedEIDs(t tableData) []EID {
	eids := make([]EID, 0, len(t))
	for eid := range t {
		eids = append(eids, eid)
	}
	slices.SortFunc(eids, func(a, b EID) int {
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
	})
	return eids
}

// Tables returns the names of all tables, sorted.
func (d *Database) Tables() []string {
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of records in the table.
func (d *Database) Count(table string) int {
	return len(d.tables[table])
}

// Get returns the record matching the selector, or false if there is none.
// An empty selector matches nothing.
func (d *Database) Get(table string, w Where) (Record, bool) {
	t := d.tables[table]
	if w.isEmpty() {
		return Record{}, false
	}
	for _, eid := range sortedEIDs(t) {
		if w.matches(eid, t[eid]) {
			return Record{EID: eid, Fields: copyFields(t[eid])}, true
		}
	}
	return Record{}, false
}

// Search returns all records matching the selector. Use All to list every
// record in the table.
func (d *Database) Search(table string, w Where) []Record {
	t := d.tables[table]
	var out []Record
	for _, eid := range sortedEIDs(t) {
		if w.matches(eid, t[eid]) {
			out = append(out, Record{EID: eid, Fields: copyFields(t[eid])})
		}
	}
	return out
}

// Match returns records whose field satisfies the regular expression or the
// predicate. At most one of re and test should be given; if neither is, every
// record that has the field matches. Regular expressions only match string
// values.
func (d *Database) Match(table, field string, re *regexp.Regexp, test func(any) bool) []Record {
	t := d.tables[table]
	var out []Record
	for _, eid := range sortedEIDs(t) {
		value, ok := t[eid][field]
		if !ok {
			continue
		}
		switch {
		case re != nil:
			s, isStr := value.(string)
			if !isStr || !re.MatchString(s) {
				continue
			}
		case test != nil:
			if !test(value) {
				continue
			}
		}
		out = append(out, Record{EID: eid, Fields: copyFields(t[eid])})
	}
	return out
}

// Contains reports whether at least one record matches the selector.
func (d *Database) Contains(table string, w Where) bool {
	t := d.tables[table]
	if w.isEmpty() {
		return false
	}
	for eid, fields := range t {
		if w.matches(eid, fields) {
			return true
		}
	}
	return false
}

// Insert stores a new record and returns its freshly assigned eid.
func (d *Database) Insert(table string, fields map[string]any) (EID, error) {
	norm, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}
	t := d.table(table)
	eid := EID(uuid.NewString())
	for {
		if _, dup := t[eid]; !dup {
			break
		}
		eid = EID(uuid.NewString())
	}
	t[eid] = norm
	if err := d.save(); err != nil {
		delete(t, eid)
		return "", err
	}
	slog.Debug("storage: insert", "table", table, "eid", eid)
	return eid, nil
}

// Restore inserts a record under a caller-provided eid, preserving
// identifiers when previously exported data is loaded back. It fails if the
// eid is already taken.
func (d *Database) Restore(table string, eid EID, fields map[string]any) error {
	norm, err := normalizeFields(fields)
	if err != nil {
		return err
	}
	t := d.table(table)
	if _, dup := t[eid]; dup {
		return fmt.Errorf("eid %s already exists in table %s", eid, table)
	}
	t[eid] = norm
	if err := d.save(); err != nil {
		delete(t, eid)
		return err
	}
	slog.Debug("storage: restore", "table", table, "eid", eid)
	return nil
}

// Update merges fields into every record matching the selector.
func (d *Database) Update(table string, fields map[string]any, w Where) error {
	if w.isEmpty() {
		return errEmptySelector
	}
	norm, err := normalizeFields(fields)
	if err != nil {
		return err
	}
	t := d.table(table)
	n := 0
	for eid, rec := range t {
		if w.matches(eid, rec) {
			for k, v := range norm {
				rec[k] = copyValue(v)
			}
			n++
		}
	}
	slog.Debug("storage: update", "table", table, "matched", n)
	return d.save()
}

// Unset removes the named fields from every record matching the selector.
func (d *Database) Unset(table string, fields []string, w Where) error {
	if w.isEmpty() {
		return errEmptySelector
	}
	t := d.table(table)
	n := 0
	for eid, rec := range t {
		if w.matches(eid, rec) {
			for _, name := range fields {
				delete(rec, name)
			}
			n++
		}
	}
	slog.Debug("storage: unset", "table", table, "fields", fields, "matched", n)
	return d.save()
}

// Remove deletes every record matching the selector and returns how many
// were deleted.
func (d *Database) Remove(table string, w Where) (int, error) {
	if w.isEmpty() {
		return 0, errEmptySelector
	}
	t := d.table(table)
	n := 0
	for eid, rec := range t {
		if w.matches(eid, rec) {
			delete(t, eid)
			n++
		}
	}
	slog.Debug("storage: remove", "table", table, "removed", n)
	return n, d.save()
}

// Purge deletes all records in the table.
func (d *Database) Purge(table string) error {
	d.tables[table] = tableData{}
	slog.Debug("storage: purge", "table", table)
	return d.save()
}

// normalizeFields maps field values onto their JSON shapes so that stored
// data compares equal before and after a file round trip.
func normalizeFields(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("unstorable field value: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unstorable field value: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func normalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// Equal compares two field values after JSON normalization, so EID("x")
// equals "x" and int 5 equals float64 5.
func Equal(a, b any) bool {
	return equalNormalized(normalizeValue(a), normalizeValue(b))
}

func equalNormalized(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !equalNormalized(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalNormalized(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// copyValue deep-copies a normalized JSON value.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = copyValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = copyValue(vv)
		}
		return s
	default:
		return v
	}
}

func copyFields(fields map[string]any) map[string]any {
	return copyValue(fields).(map[string]any)
}
