package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterGenerator_Deterministic(t *testing.T) {
	a := NewRosterGenerator(7).Roster(20)
	b := NewRosterGenerator(7).Roster(20)
	assert.Equal(t, a, b)
}

func TestRosterGenerator_DistinctRows(t *testing.T) {
	rows := NewRosterGenerator(11).Roster(50)
	require.Len(t, rows, 50)

	names := map[string]bool{}
	for _, r := range rows {
		assert.False(t, names[r.Name], "duplicate name %q", r.Name)
		names[r.Name] = true
		assert.True(t, r.HasCounters())
		assert.NotEmpty(t, r.PlayerID)
	}
}

func TestRosterGenerator_GrowNeverShrinks(t *testing.T) {
	g := NewRosterGenerator(3)
	rows := g.Roster(10)
	grown := g.Grow(rows)

	for i := range rows {
		assert.Equal(t, rows[i].Name, grown[i].Name)
		assert.GreaterOrEqual(t, *grown[i].Helps, *rows[i].Helps)
		assert.GreaterOrEqual(t, *grown[i].Resources, *rows[i].Resources)
		assert.LessOrEqual(t, *grown[i].Helps-*rows[i].Helps, int64(150))
	}
}
