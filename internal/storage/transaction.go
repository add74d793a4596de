package storage

import "log/slog"

// Transaction runs fn inside a scoped, reference-counted transaction.
//
// Entering the outermost scope snapshots every table. Mutations made by fn
// apply in place and persist immediately, so a successful exit commits with
// no extra work. An error escaping the outermost scope restores the snapshot
// and rewrites the file, making every mutation inside the scope unobservable.
//
// Nested calls extend the protected region: only the outermost scope
// snapshots and rolls back, inner scopes are pass-through. The snapshot is a
// full deep copy, O(store size), which is acceptable for the small local
// stores this package targets.
func (d *Database) Transaction(fn func() error) error {
	if d.txDepth == 0 {
		d.txSnapshot = d.copyTables()
	}
	d.txDepth++
	err := fn()
	d.txDepth--
	if d.txDepth > 0 {
		return err
	}
	snapshot := d.txSnapshot
	d.txSnapshot = nil
	if err == nil {
		return nil
	}
	d.tables = snapshot
	if werr := d.save(); werr != nil {
		slog.Error("storage: rollback write failed", "path", d.path, "err", werr)
	} else {
		slog.Debug("storage: rolled back", "path", d.path)
	}
	return err
}

func (d *Database) copyTables() map[string]tableData {
	out := make(map[string]tableData, len(d.tables))
	for name, t := range d.tables {
		ct := make(tableData, len(t))
		for eid, fields := range t {
			ct[eid] = copyFields(fields)
		}
		out[name] = ct
	}
	return out
}
