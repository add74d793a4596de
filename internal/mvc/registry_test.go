package mvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Schema{Name: "project"}))

	t.Run("duplicate name", func(t *testing.T) {
		err := reg.Register(&Schema{Name: "project"})
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("empty name", func(t *testing.T) {
		err := reg.Register(&Schema{})
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("lookup", func(t *testing.T) {
		s, ok := reg.Schema("project")
		require.True(t, ok)
		assert.Equal(t, "project", s.Name)
		_, ok = reg.Schema("missing")
		assert.False(t, ok)
	})
}

func TestRegistryCheck(t *testing.T) {
	base := func() *Registry {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&Schema{
			Name: "project",
			Attributes: map[string]Attribute{
				"name":        {Type: TypeText},
				"experiments": {Assoc: Association{Kind: AssocCollection, Model: "experiment", Via: "project"}},
			},
		}))
		return reg
	}

	t.Run("valid", func(t *testing.T) {
		reg := base()
		require.NoError(t, reg.Register(&Schema{
			Name: "experiment",
			Attributes: map[string]Attribute{
				"project": {Assoc: Association{Kind: AssocSingle, Model: "project", Via: "experiments"}},
			},
		}))
		assert.NoError(t, reg.Check())
	})

	t.Run("unregistered foreign model", func(t *testing.T) {
		reg := base()
		err := reg.Check()
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("missing via attribute", func(t *testing.T) {
		reg := base()
		require.NoError(t, reg.Register(&Schema{
			Name:       "experiment",
			Attributes: map[string]Attribute{"name": {Type: TypeText}},
		}))
		err := reg.Check()
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("via attribute is not an association", func(t *testing.T) {
		reg := base()
		require.NoError(t, reg.Register(&Schema{
			Name:       "experiment",
			Attributes: map[string]Attribute{"project": {Type: TypeText}},
		}))
		err := reg.Check()
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("weak pointer needs only the foreign model", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&Schema{
			Name: "review",
			Attributes: map[string]Attribute{
				"subject": {Assoc: Association{Kind: AssocSingle, Model: "project"}},
			},
		}))
		require.NoError(t, reg.Register(&Schema{
			Name:       "project",
			Attributes: map[string]Attribute{"name": {Type: TypeText}},
			References: []Reference{{Model: "review", Via: "subject"}},
		}))
		assert.NoError(t, reg.Check())
	})

	t.Run("reference via must be an association", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&Schema{
			Name:       "review",
			Attributes: map[string]Attribute{"subject": {Type: TypeText}},
		}))
		require.NoError(t, reg.Register(&Schema{
			Name:       "project",
			References: []Reference{{Model: "review", Via: "subject"}},
		}))
		err := reg.Check()
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("controller for unregistered model", func(t *testing.T) {
		reg := base()
		_, err := reg.Controller("mystery", nil, nil)
		var merr *ModelError
		require.ErrorAs(t, err, &merr)
	})
}
