package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/detect"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

var at = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestApply_MaintainsDerivedFields(t *testing.T) {
	joinedAt := at.Add(-2 * time.Hour)
	members := map[string]*roster.Member{
		"new": {ID: "new", Name: "Sato"},
		"ren": {ID: "ren", Name: "Travis", PreviousNames: []string{}},
		"back": {
			ID:               "back",
			Name:             "Reed",
			OriginalJoinDate: at.Add(-96 * time.Hour),
			Events:           roster.EventLog{&roster.Leave{Timestamp: at.Add(-24 * time.Hour)}},
		},
	}
	changes := []detect.Change{
		{MemberID: "new", Name: "Sato", Event: &roster.Join{Timestamp: joinedAt}},
		{MemberID: "back", Name: "Reed", Event: &roster.Rejoin{Timestamp: at}},
		{MemberID: "ren", Name: "Travis", Event: &roster.Rename{Timestamp: at, OldName: "Mayweather", NewName: "Travis"}},
	}

	require.NoError(t, Apply(members, changes))

	assert.Equal(t, joinedAt, members["new"].OriginalJoinDate)
	assert.Equal(t, joinedAt, members["new"].LastJoinDate)
	assert.Len(t, members["new"].Events, 1)

	assert.Equal(t, at.Add(-96*time.Hour), members["back"].OriginalJoinDate, "original join date never moves")
	assert.Equal(t, at, members["back"].LastJoinDate)
	assert.False(t, members["back"].Departed())

	assert.Equal(t, []string{"Mayweather"}, members["ren"].PreviousNames)
}

func TestApply_UnknownMemberLeavesEverythingUntouched(t *testing.T) {
	members := map[string]*roster.Member{"a": {ID: "a", Name: "Archer"}}
	changes := []detect.Change{
		{MemberID: "a", Event: &roster.LevelUp{Timestamp: at, OldLevel: 1, NewLevel: 2}},
		{MemberID: "ghost", Event: &roster.Join{Timestamp: at}},
	}

	err := Apply(members, changes)
	require.ErrorIs(t, err, roster.ErrNotFound)
	assert.Empty(t, members["a"].Events)
}

func TestNotices_UseCurrentAttributes(t *testing.T) {
	members := map[string]*roster.Member{"a": {ID: "a", Name: "Archer", Rank: "Admiral", Level: 60}}
	changes := []detect.Change{{MemberID: "a", Name: "Jon", Event: &roster.Promotion{Timestamp: at, OldRank: "Commodore", NewRank: "Admiral"}}}

	got := Notices("42", "Enterprise", members, changes)
	require.Len(t, got, 1)
	assert.Equal(t, "Archer", got[0].Name)
	assert.Equal(t, "Admiral", got[0].Rank)
	assert.Equal(t, 60, got[0].Level)
	assert.Equal(t, "Enterprise", got[0].AllianceName)
}

func TestRebuild_Idempotent(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	st := roster.NewAllianceState("42")
	st.Members["a"] = &roster.Member{ID: "a", Name: "Archer", Events: roster.EventLog{
		&roster.Join{Timestamp: at.Add(-time.Hour)},
		&roster.LevelUp{Timestamp: at, OldLevel: 1, NewLevel: 2},
	}}
	st.Members["b"] = &roster.Member{ID: "b", Name: "TPol", Events: roster.EventLog{&roster.Join{Timestamp: at}}}

	n, err := Rebuild(ctx, s, st)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = Rebuild(ctx, s, st)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	recs, err := s.EventsSince(ctx, "42", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, roster.KindJoin, recs[0].Event.Kind())
}
