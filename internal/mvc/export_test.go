package mvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchaimov/taucmdr/internal/storage"
)

func TestExportRecords(t *testing.T) {
	e := newTestEnv(t)
	p := mustCreate(t, e.project, map[string]any{"name": "alpha"})
	tgt := mustCreate(t, e.target, map[string]any{"name": "cori", "papi": true})
	app := mustCreate(t, e.application, map[string]any{"name": "lulesh"})
	x := mustCreate(t, e.experiment, map[string]any{
		"name": "baseline", "project": p.EID(), "target": tgt.EID(), "application": app.EID(),
	})
	tr := mustCreate(t, e.trial, map[string]any{"number": 0, "experiment": x.EID()})
	mustCreate(t, e.project, map[string]any{"name": "unrelated"})

	t.Run("follows associations transitively", func(t *testing.T) {
		data, err := e.experiment.ExportRecords(storage.ByEID(x.EID()))
		require.NoError(t, err)
		assert.Contains(t, data["experiment"], x.EID())
		assert.Contains(t, data["project"], p.EID())
		assert.Contains(t, data["target"], tgt.EID())
		assert.Contains(t, data["application"], app.EID())
		assert.Contains(t, data["trial"], tr.EID())
		assert.Len(t, data["project"], 1, "unrelated record leaked into the export")
	})

	t.Run("terminates on association cycles", func(t *testing.T) {
		// project and experiment reference each other; the walk must visit
		// each record once.
		data, err := e.project.ExportRecords(storage.ByEID(p.EID()))
		require.NoError(t, err)
		assert.Len(t, data["experiment"], 1)
		assert.Len(t, data["project"], 1)
	})

	t.Run("empty selection exports nothing", func(t *testing.T) {
		data, err := e.project.ExportRecords(storage.ByKeys(map[string]any{"name": "missing"}))
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestImportRecords(t *testing.T) {
	source := newTestEnv(t)
	p := mustCreate(t, source.project, map[string]any{"name": "alpha"})
	x := mustCreate(t, source.experiment, map[string]any{"name": "baseline", "project": p.EID()})
	data, err := source.experiment.ExportRecords(storage.ByEID(x.EID()))
	require.NoError(t, err)

	t.Run("round trips through a fresh store", func(t *testing.T) {
		dest := newTestEnv(t)
		require.NoError(t, dest.project.ImportRecords(data))
		assert.Equal(t, 1, dest.project.Count())
		assert.Equal(t, 1, dest.experiment.Count())

		m := dest.experiment.One(storage.ByEID(x.EID()))
		require.NotNil(t, m, "imported record lost its eid")
		assert.Equal(t, []storage.EID{x.EID()}, eids(t, dest.project, p.EID(), "experiments"))
		name, _ := m.Get("name")
		assert.Equal(t, "baseline", name)
	})

	t.Run("rejects colliding eids atomically", func(t *testing.T) {
		dest := newTestEnv(t)
		require.NoError(t, dest.project.ImportRecords(data))
		err := dest.project.ImportRecords(data)
		var ierr *IntegrityError
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, 1, dest.project.Count())
		assert.Equal(t, 1, dest.experiment.Count())
	})

	t.Run("rejects unregistered tables", func(t *testing.T) {
		dest := newTestEnv(t)
		err := dest.project.ImportRecords(ExportedRecords{
			"mystery": {"e1": {"name": "x"}},
		})
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})
}
