package mvc

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nchaimov/taucmdr/internal/storage"
)

// testEnv wires a fresh store to the five fixture models. The schemas
// record hook and callback activity on the env so tests can assert on it,
// and failUpdate/failDelete let a test make a lifecycle hook fail on
// demand.
type testEnv struct {
	path   string
	db     *storage.Database
	reg    *Registry
	topics *Topics

	project     *Controller
	target      *Controller
	application *Controller
	experiment  *Controller
	trial       *Controller

	changes    []string
	deleted    []string
	failUpdate map[string]error
	failDelete map[string]error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		path:       filepath.Join(t.TempDir(), "records.json"),
		failUpdate: map[string]error{},
		failDelete: map[string]error{},
	}
	db, err := storage.Open(e.path)
	require.NoError(t, err)
	e.db = db
	e.reg = NewRegistry()
	e.topics = NewTopics()

	onDelete := func(c *Controller, m *Model) error {
		if err := e.failDelete[m.Name()]; err != nil {
			return err
		}
		e.deleted = append(e.deleted, fmt.Sprintf("%s:%s", m.Name(), m.EID()))
		return nil
	}
	onUpdate := func(c *Controller, m *Model) error {
		return e.failUpdate[m.Name()]
	}

	require.NoError(t, e.reg.Register(&Schema{
		Name: "project",
		Attributes: map[string]Attribute{
			"name":         {Type: TypeText, Required: true, Unique: true},
			"targets":      {Assoc: Association{Kind: AssocCollection, Model: "target", Via: "projects"}},
			"applications": {Assoc: Association{Kind: AssocCollection, Model: "application", Via: "projects"}},
			"experiments":  {Assoc: Association{Kind: AssocCollection, Model: "experiment", Via: "project"}},
		},
	}))
	require.NoError(t, e.reg.Register(&Schema{
		Name: "target",
		Attributes: map[string]Attribute{
			"name":     {Type: TypeText, Required: true, Unique: true},
			"host_os":  {Type: TypeText, Default: "Linux", HasDefault: true},
			"papi":     {Type: TypeBoolean, Default: false, HasDefault: true},
			"projects": {Assoc: Association{Kind: AssocCollection, Model: "project", Via: "targets"}},
		},
		References: []Reference{{Model: "experiment", Via: "target"}},
	}))
	require.NoError(t, e.reg.Register(&Schema{
		Name: "application",
		Attributes: map[string]Attribute{
			"name":     {Type: TypeText, Required: true, Unique: true},
			"openmp":   {Type: TypeBoolean, Default: false, HasDefault: true},
			"projects": {Assoc: Association{Kind: AssocCollection, Model: "project", Via: "applications"}},
		},
		References: []Reference{{Model: "experiment", Via: "application"}},
	}))
	require.NoError(t, e.reg.Register(&Schema{
		Name: "experiment",
		Attributes: map[string]Attribute{
			"name": {Type: TypeText, Required: true, OnChange: func(c *Controller, m *Model, attr string, newValue any) {
				e.changes = append(e.changes, fmt.Sprintf("experiment.%s=%v", attr, newValue))
			}},
			"project":     {Required: true, Assoc: Association{Kind: AssocSingle, Model: "project", Via: "experiments"}},
			"target":      {Assoc: Association{Kind: AssocSingle, Model: "target"}},
			"application": {Assoc: Association{Kind: AssocSingle, Model: "application"}},
			"trials":      {Assoc: Association{Kind: AssocCollection, Model: "trial", Via: "experiment"}},
			"sample": {Type: TypeBoolean, Default: false, HasDefault: true, Compat: []CompatRule{{
				When:    WhenEqual(true),
				Require: []CompatClause{{Model: "target", Attr: "papi", Value: true}},
			}}},
			"trace": {Type: TypeBoolean, Default: false, HasDefault: true, Compat: []CompatRule{{
				When:       WhenEqual(true),
				Discourage: []CompatClause{{Model: "application", Attr: "openmp", Value: false}},
			}}},
		},
		OnUpdate: onUpdate,
		OnDelete: onDelete,
	}))
	require.NoError(t, e.reg.Register(&Schema{
		Name: "trial",
		Attributes: map[string]Attribute{
			"number":     {Type: TypeNumber, Required: true},
			"experiment": {Required: true, Assoc: Association{Kind: AssocSingle, Model: "experiment", Via: "trials"}},
		},
		OnDelete: onDelete,
	}))
	require.NoError(t, e.reg.Check())

	for name, dst := range map[string]**Controller{
		"project":     &e.project,
		"target":      &e.target,
		"application": &e.application,
		"experiment":  &e.experiment,
		"trial":       &e.trial,
	} {
		c, err := e.reg.Controller(name, e.db, e.topics)
		require.NoError(t, err)
		*dst = c
	}
	return e
}

func mustCreate(t *testing.T, c *Controller, fields map[string]any) *Model {
	t.Helper()
	m, err := c.Create(fields)
	require.NoError(t, err)
	return m
}

// eids reads an association attribute of a freshly fetched record.
func eids(t *testing.T, c *Controller, eid storage.EID, attr string) []storage.EID {
	t.Helper()
	m := c.One(storage.ByEID(eid))
	require.NotNil(t, m, "record %s disappeared", eid)
	v, _ := m.Get(attr)
	return eidSet(v)
}
