package roster

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2025, 2, 10, 21, 14, 5, 0, time.UTC)

func i64(v int64) *int64 { return &v }

func TestRankValue(t *testing.T) {
	tests := []struct {
		rank string
		want int
	}{
		{"Agent", 0},
		{"operative", 1},
		{"PREMIER", 2},
		{" Commodore ", 3},
		{"Admiral", 4},
		{"Ensign", -1},
		{"", -1},
	}
	for _, tt := range tests {
		t.Run(tt.rank, func(t *testing.T) {
			assert.Equal(t, tt.want, RankValue(tt.rank))
		})
	}
}

func TestCompareRanks(t *testing.T) {
	assert.Equal(t, 1, CompareRanks("Premier", "Agent"))
	assert.Equal(t, -1, CompareRanks("Operative", "Commodore"))
	assert.Equal(t, 0, CompareRanks("admiral", "Admiral"))
	assert.Equal(t, -1, CompareRanks("Mystery", "Agent"), "unknown ranks order below Agent")
}

func TestEventLog_RoundTripPreservesVariants(t *testing.T) {
	leave := Leave{Timestamp: ts.Add(-48 * time.Hour), Rank: "Premier", Level: 31}
	log := EventLog{
		&Join{Timestamp: ts.Add(-72 * time.Hour)},
		&leave,
		&Rejoin{Timestamp: ts, LastLeave: leave},
		&Rename{Timestamp: ts, OldName: "Foo", NewName: "Bar"},
		&Promotion{Timestamp: ts, OldRank: "Agent", NewRank: "Operative"},
		&Demotion{Timestamp: ts, OldRank: "Admiral", NewRank: "Commodore"},
		&LevelUp{Timestamp: ts, OldLevel: 0, NewLevel: 1},
	}

	data, err := json.Marshal(log)
	require.NoError(t, err)

	var decoded EventLog
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, len(log))
	assert.Equal(t, log, decoded)

	rejoin, ok := decoded[2].(*Rejoin)
	require.True(t, ok)
	assert.Equal(t, "Premier", rejoin.LastLeave.Rank)
}

func TestEventLog_UnknownTypeRejected(t *testing.T) {
	var decoded EventLog
	err := json.Unmarshal([]byte(`[{"type":"mutiny","timestamp":"2025-01-01T00:00:00Z"}]`), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutiny")
}

func TestMember_DepartedFollowsLastEvent(t *testing.T) {
	m := &Member{ID: "m1", Name: "Kirk"}
	assert.False(t, m.Departed())

	m.Append(&Join{Timestamp: ts})
	assert.False(t, m.Departed())

	m.Append(&Leave{Timestamp: ts.Add(time.Hour)})
	assert.True(t, m.Departed())

	m.Append(&Rejoin{Timestamp: ts.Add(2 * time.Hour)})
	assert.False(t, m.Departed())
}

func TestMember_AddPreviousNameDeduplicates(t *testing.T) {
	m := &Member{Name: "Bar"}
	assert.True(t, m.AddPreviousName("Foo"))
	assert.False(t, m.AddPreviousName("Foo"))
	assert.False(t, m.AddPreviousName("Bar"), "current name is never a previous name")
	assert.Equal(t, []string{"Foo"}, m.PreviousNames)
}

func TestMember_SortedEventsLeavesStorageAlone(t *testing.T) {
	late := &LevelUp{Timestamp: ts.Add(time.Hour), OldLevel: 1, NewLevel: 2}
	early := &Join{Timestamp: ts}
	m := &Member{Events: EventLog{late, early}}

	sorted := m.SortedEvents()
	assert.Equal(t, []Event{early, late}, sorted)
	assert.Equal(t, EventLog{late, early}, m.Events)
}

func TestMember_CloneIsIndependent(t *testing.T) {
	m := &Member{ID: "m1", Name: "Spock", PreviousNames: []string{"S"}, Events: EventLog{&Join{Timestamp: ts}}}
	c := m.Clone()
	c.Name = "Sarek"
	c.AddPreviousName("Spock")
	c.Append(&Leave{Timestamp: ts})

	assert.Equal(t, "Spock", m.Name)
	assert.Equal(t, []string{"S"}, m.PreviousNames)
	assert.Len(t, m.Events, 1)
}

func TestJoinTimestamp(t *testing.T) {
	got := JoinTimestamp("2025-01-01", ts)
	assert.Equal(t, time.Date(2025, 1, 1, 21, 14, 5, 0, time.UTC), got)

	assert.Equal(t, ts, JoinTimestamp("", ts), "missing date falls back to the scrape")
	assert.Equal(t, ts, JoinTimestamp("01/02/2025", ts))
}

func TestRecordPull_KeepsMostRecentTwenty(t *testing.T) {
	st := NewAllianceState("a1")
	for i := range 25 {
		st.RecordPull(PullRecord{Timestamp: ts.Add(time.Duration(i) * time.Minute), Success: true, Source: "cron"})
	}

	require.Len(t, st.PullHistory, MaxPullHistory)
	assert.Equal(t, ts.Add(5*time.Minute), st.PullHistory[0].Timestamp)
	assert.Equal(t, ts.Add(24*time.Minute), st.PullHistory[MaxPullHistory-1].Timestamp)
}

func TestFindMember(t *testing.T) {
	st := NewAllianceState("a1")
	st.Members["1"] = &Member{ID: "1", Name: "Picard", PreviousNames: []string{"Locutus"}}
	st.Members["2"] = &Member{ID: "2", Name: "Riker", Events: EventLog{&Leave{Timestamp: ts}}}
	st.Members["3"] = &Member{ID: "3", Name: "riker"}

	m, err := st.FindMember("picard")
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID)

	m, err = st.FindMember("Locutus")
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID)

	m, err = st.FindMember("RIKER")
	require.NoError(t, err)
	assert.Equal(t, "3", m.ID, "active member wins over departed namesake")

	_, err = st.FindMember("Q")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.FindMember("  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNameOverrides(t *testing.T) {
	st := NewAllianceState("a1")
	st.SetNameOverride("g1", "xXWorfXx", "Worf")

	assert.Equal(t, "Worf", st.DisplayName("g1", "xXWorfXx"))
	assert.Equal(t, "xXWorfXx", st.DisplayName("g2", "xXWorfXx"))

	st.SetNameOverride("g1", "xXWorfXx", "")
	assert.Equal(t, "xXWorfXx", st.DisplayName("g1", "xXWorfXx"))
}

func TestMergeStats_MissingCountersKeepBaseline(t *testing.T) {
	base := Stats{Helps: 500, Resources: 10_000, Isotopes: 40, Power: 1_200_000}
	scraped := ScrapedMember{Name: "Data", Helps: i64(520)}

	got := scraped.MergeStats(base)
	assert.Equal(t, int64(520), got.Helps)
	assert.Equal(t, int64(10_000), got.Resources)
	assert.Equal(t, int64(40), got.Isotopes)
	assert.Equal(t, int64(1_200_000), got.Power)
}

func TestMergeStats_MaxPowerOverridesStalePower(t *testing.T) {
	base := Stats{Power: 3_400_000, MaxPower: 3_400_000}

	got := ScrapedMember{Name: "Data", Power: i64(0)}.MergeStats(base)
	assert.Equal(t, int64(3_400_000), got.Power)

	got = ScrapedMember{Name: "Data", Power: i64(900), MaxPower: i64(4_000_000)}.MergeStats(Stats{})
	assert.Equal(t, int64(4_000_000), got.Power)
}

func TestPlayerID_AcceptsStringAndNumber(t *testing.T) {
	var rows []ScrapedMember
	require.NoError(t, json.Unmarshal([]byte(`[
		{"name":"a","player_id":12345},
		{"name":"b","player_id":" 678 "},
		{"name":"c","player_id":null},
		{"name":"d"}
	]`), &rows))

	assert.Equal(t, PlayerID("12345"), rows[0].PlayerID)
	assert.Equal(t, PlayerID("678"), rows[1].PlayerID)
	assert.Equal(t, PlayerID(""), rows[2].PlayerID)
	assert.Equal(t, PlayerID(""), rows[3].PlayerID)
}

func TestSnapshotDigest(t *testing.T) {
	a := Snapshot{"Kirk": {Helps: 1}, "Spock": {Helps: 2}}
	b := Snapshot{"Spock": {Helps: 2}, "Kirk": {Helps: 1}}
	c := Snapshot{"Spock": {Helps: 3}, "Kirk": {Helps: 1}}

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Digest(), b.Digest())
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.Digest(), c.Digest())
	assert.Len(t, a.Digest(), 64)
}

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("member", "m-a", "m-b")
	assert.Equal(t, "m-a", gen.Generate())
	assert.Equal(t, "m-b", gen.Generate())
	assert.Equal(t, "member-3", gen.Generate())
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "UUIDv7 ids sort by creation time")
}
