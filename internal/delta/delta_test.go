package delta

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/roster"
)

func TestCompute_SelfDeltaIsZero(t *testing.T) {
	s := roster.Snapshot{
		"Pike":   {Helps: 10, Resources: 20, Isotopes: 30, ResourcesMined: 40},
		"Number": {Helps: 1},
	}
	got := Compute(s, s)
	require.Len(t, got, 2)
	for name, d := range got {
		assert.True(t, d.IsZero(), name)
	}
}

func TestCompute_MissingBaselineIsZero(t *testing.T) {
	cur := roster.Snapshot{"Una": {Helps: 50, Resources: 500}}
	got := Compute(cur, roster.Snapshot{})
	assert.Equal(t, Delta{Helps: 50, Resources: 500}, got["Una"])
}

func TestCompute_NegativePassesThrough(t *testing.T) {
	cur := roster.Snapshot{"Spock": {Helps: 5, Isotopes: 100}}
	base := roster.Snapshot{"Spock": {Helps: 80, Isotopes: 40}}

	got := Compute(cur, base)["Spock"]
	assert.Equal(t, int64(-75), got.Helps, "raw deltas are not clamped")
	assert.Equal(t, int64(60), got.Isotopes)

	clamped := got.Clamp()
	assert.Equal(t, int64(0), clamped.Helps)
	assert.Equal(t, int64(60), clamped.Isotopes)
}

func TestCompute_IgnoresNamesOnlyInBaseline(t *testing.T) {
	got := Compute(roster.Snapshot{"a": {}}, roster.Snapshot{"b": {Helps: 9}})
	assert.Len(t, got, 1)
	assert.Contains(t, got, "a")
}

func TestRanked(t *testing.T) {
	deltas := map[string]Delta{
		"Chapel":  {Helps: 5},
		"MBenga":  {Helps: 9},
		"Ortegas": {Helps: -3},
		"Kirk":    {Helps: 9},
	}
	got := Ranked(deltas, ByHelps)
	names := make([]string, len(got))
	for i, e := range got {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"Kirk", "MBenga", "Chapel", "Ortegas"}, names)
	assert.Equal(t, int64(0), got[3].Delta.Helps)

	assert.Equal(t, Delta{Helps: 23}, Total(deltas))
}

func TestRangeFor(t *testing.T) {
	now := time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC)
	today := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	r := RangeFor(Interim, now)
	assert.Equal(t, today, r.Start)
	assert.Equal(t, now, r.End)
	assert.True(t, r.Open)

	r = RangeFor(Daily, now)
	assert.Equal(t, today.AddDate(0, 0, -1), r.Start)
	assert.Equal(t, today, r.End)
	assert.False(t, r.Open)

	r = RangeFor(Weekly, now)
	assert.Equal(t, today.AddDate(0, 0, -7), r.Start)
	assert.Equal(t, today, r.End)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("weekly")
	require.NoError(t, err)
	assert.Equal(t, Weekly, p)

	_, err = ParsePeriod("monthly")
	assert.ErrorIs(t, err, roster.ErrInvalidInput)
}

// fakeSource serves snapshots from memory.
type fakeSource struct {
	history map[time.Time]roster.Snapshot
	current roster.Snapshot
}

func (f fakeSource) keys() []time.Time {
	var ks []time.Time
	for k := range f.history {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].Before(ks[j]) })
	return ks
}

func (f fakeSource) SnapshotAtOrBefore(_ string, ts time.Time) (roster.StoredSnapshot, bool) {
	var found roster.StoredSnapshot
	ok := false
	for _, k := range f.keys() {
		if !k.After(ts) {
			found, ok = roster.StoredSnapshot{Timestamp: k, Members: f.history[k]}, true
		}
	}
	return found, ok
}

func (f fakeSource) SnapshotAtOrAfter(_ string, ts time.Time) (roster.StoredSnapshot, bool) {
	for _, k := range f.keys() {
		if !k.Before(ts) {
			return roster.StoredSnapshot{Timestamp: k, Members: f.history[k]}, true
		}
	}
	return roster.StoredSnapshot{}, false
}

func (f fakeSource) LoadCurrent(string) roster.Snapshot { return f.current }

func TestResolve_OpenWindowUsesCurrent(t *testing.T) {
	day := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	src := fakeSource{
		history: map[time.Time]roster.Snapshot{
			day.Add(-time.Hour): {"Pike": {Helps: 100}},
			day.Add(time.Hour):  {"Pike": {Helps: 120}},
		},
		current: roster.Snapshot{"Pike": {Helps: 150}},
	}

	w := Resolve(src, "42", RangeFor(Interim, day.Add(10*time.Hour)))
	require.True(t, w.HasBaseline)
	assert.Equal(t, int64(50), w.Deltas()["Pike"].Helps)
}

func TestResolve_ClosedWindowEndsAtFirstSnapshotAfterEnd(t *testing.T) {
	day := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	src := fakeSource{
		history: map[time.Time]roster.Snapshot{
			day.Add(-24*time.Hour - time.Minute): {"Pike": {Helps: 10}},
			day.Add(-12 * time.Hour):             {"Pike": {Helps: 40}},
			day.Add(time.Minute):                 {"Pike": {Helps: 70}},
		},
		current: roster.Snapshot{"Pike": {Helps: 999}},
	}

	w := Resolve(src, "42", RangeFor(Daily, day.Add(time.Hour)))
	assert.Equal(t, int64(60), w.Deltas()["Pike"].Helps)
	assert.Equal(t, day.Add(time.Minute), w.CurrentAt)
}

func TestResolve_NoBaselineYieldsZero(t *testing.T) {
	src := fakeSource{current: roster.Snapshot{"Pike": {Helps: 150}}}

	w := Resolve(src, "42", RangeFor(Weekly, time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)))
	assert.False(t, w.HasBaseline)
	assert.True(t, w.Deltas()["Pike"].IsZero())
}
