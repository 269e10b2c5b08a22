package detail

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func i64(v int64) *int64 { return &v }

type fakeFetcher struct {
	mu      sync.Mutex
	details map[string]Details
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) Fetch(_ context.Context, playerID string) (Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, playerID)
	if err := f.errs[playerID]; err != nil {
		return Details{}, err
	}
	return f.details[playerID], nil
}

// setup seeds alliance 42 with three active members and one departed
// member, all carrying player ids.
func setup(t *testing.T) (*store.Store, *testutil.FixedClock) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	st := roster.NewAllianceState("42")
	add := func(id, pid, name string, departed bool) {
		m := &roster.Member{ID: id, PlayerID: pid, Name: name, PreviousNames: []string{},
			Events: roster.EventLog{&roster.Join{Timestamp: t0}}}
		if departed {
			m.Append(&roster.Leave{Timestamp: t0})
		}
		st.Members[id] = m
	}
	add("m1", "101", "Sisko", false)
	add("m2", "102", "Kira", false)
	add("m3", "103", "Dax", false)
	add("m4", "104", "Garak", true)
	require.NoError(t, s.SaveState(st))
	require.NoError(t, s.SaveCurrent("42", roster.Snapshot{
		"Sisko": {Helps: 10, Power: 1_000},
		"Kira":  {Helps: 20, Power: 2_000},
		"Dax":   {Helps: 30, Power: 3_000},
	}))
	return s, testutil.NewFixedClock(t0)
}

func newWorker(s *store.Store, f Fetcher, clock roster.Clock, opts ...Option) *Worker {
	return NewWorker(s, f, Config{Interval: 60 * time.Hour, Backoff: 30 * time.Minute, PerRun: 1},
		append([]Option{WithClock(clock)}, opts...)...)
}

func TestWorker_RunMergesDetailsIntoCurrent(t *testing.T) {
	s, clock := setup(t)
	reg := prometheus.NewRegistry()
	f := &fakeFetcher{details: map[string]Details{
		"101": {MaxPower: i64(9_000), ArenaRating: i64(1_500)},
	}}
	w := newWorker(s, f, clock, WithMetrics(metrics.New(reg)))

	n, err := w.Run(context.Background(), []string{"42"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"101"}, f.calls)

	got := s.LoadCurrent("42")["Sisko"]
	assert.Equal(t, int64(9_000), got.Power)
	assert.Equal(t, int64(9_000), got.MaxPower)
	assert.Equal(t, int64(1_500), got.ArenaRating)
	assert.Equal(t, int64(10), got.Helps)

	e := w.State("42").Players["101"]
	require.NotNil(t, e)
	assert.Equal(t, t0, e.LastSuccess)
	assert.Equal(t, 1, promtest.CollectAndCount(reg, "rollcall_detail_fetches_total"))
}

func TestWorker_PicksStalestFirst(t *testing.T) {
	s, clock := setup(t)
	f := &fakeFetcher{details: map[string]Details{
		"101": {Power: i64(1)}, "102": {Power: i64(2)}, "103": {Power: i64(3)},
	}}
	w := newWorker(s, f, clock)
	ctx := context.Background()

	// Every active member once, in player id order for equal staleness.
	_, err := w.Run(ctx, []string{"42"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102", "103"}, f.calls)

	// Nobody is due until the interval elapses.
	clock.Advance(59 * time.Hour)
	picked, err := w.Select("42", 3)
	require.NoError(t, err)
	assert.Empty(t, picked)

	clock.Advance(time.Hour)
	picked, err = w.Select("42", 1)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, Candidate{PlayerID: "101", Name: "Sisko"}, picked[0])
}

func TestWorker_SkipsDepartedAndUnknownPlayers(t *testing.T) {
	s, clock := setup(t)
	w := newWorker(s, &fakeFetcher{}, clock)

	picked, err := w.Select("42", 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(picked))
	for _, c := range picked {
		ids = append(ids, c.PlayerID)
	}
	assert.ElementsMatch(t, []string{"101", "102", "103"}, ids)
}

func TestWorker_QueueComesFirst(t *testing.T) {
	s, clock := setup(t)
	w := newWorker(s, &fakeFetcher{}, clock)

	require.NoError(t, w.Queue("42", "103", false))
	require.NoError(t, w.Queue("42", "104", false))
	require.NoError(t, w.Queue("42", "102", true))
	require.NoError(t, w.Queue("42", "103", false))
	assert.Equal(t, []string{"102", "103", "104"}, w.State("42").Queue)

	require.NoError(t, w.Queue("42", "103", true))
	assert.Equal(t, []string{"103", "102", "104"}, w.State("42").Queue)

	picked, err := w.Select("42", 1)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{PlayerID: "103", Name: "Dax"}}, picked)

	// 104 departed and is dropped; 102 is taken.
	picked, err = w.Select("42", 5)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{PlayerID: "102", Name: "Kira"}}, picked)
	assert.Empty(t, w.State("42").Queue)
}

func TestWorker_QueuedRefreshSkipsIntervalButNotBackoff(t *testing.T) {
	s, clock := setup(t)
	f := &fakeFetcher{details: map[string]Details{"101": {Power: i64(5)}}}
	w := newWorker(s, f, clock)
	ctx := context.Background()

	_, err := w.Run(ctx, []string{"42"}, 1)
	require.NoError(t, err)

	require.NoError(t, w.Queue("42", "101", true))
	picked, err := w.Select("42", 1)
	require.NoError(t, err)
	assert.Empty(t, picked, "still inside the backoff window")
	assert.Equal(t, []string{"101"}, w.State("42").Queue)

	clock.Advance(31 * time.Minute)
	picked, err = w.Select("42", 1)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{PlayerID: "101", Name: "Sisko"}}, picked)
}

func TestWorker_FailureBacksOff(t *testing.T) {
	s, clock := setup(t)
	f := &fakeFetcher{errs: map[string]error{"101": errors.New("site down")}}
	w := newWorker(s, f, clock)
	ctx := context.Background()

	n, err := w.Run(ctx, []string{"42"}, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "site down", w.State("42").Players["101"].LastError)
	assert.Equal(t, int64(1_000), s.LoadCurrent("42")["Sisko"].Power)

	picked, err := w.Select("42", 3)
	require.NoError(t, err)
	for _, c := range picked {
		assert.NotEqual(t, "101", c.PlayerID)
	}

	clock.Advance(30 * time.Minute)
	f.errs = nil
	f.details = map[string]Details{"101": {Power: i64(1_234)}}
	n, err = w.Run(ctx, []string{"42"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, w.State("42").Players["101"].LastError)
}

func TestWorker_IntervalOverride(t *testing.T) {
	s, clock := setup(t)
	f := &fakeFetcher{details: map[string]Details{"101": {Power: i64(1)}, "102": {Power: i64(1)}, "103": {Power: i64(1)}}}
	w := newWorker(s, f, clock)
	ctx := context.Background()

	_, err := w.Run(ctx, []string{"42"}, 3)
	require.NoError(t, err)
	require.NoError(t, w.SetInterval("42", "102", 2))

	clock.Advance(2 * time.Hour)
	picked, err := w.Select("42", 3)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{PlayerID: "102", Name: "Kira"}}, picked)

	require.NoError(t, w.SetInterval("42", "102", 0))
	assert.Empty(t, w.State("42").Overrides)
}

func TestWorker_EmptyDetailsLeaveSnapshotAlone(t *testing.T) {
	s, clock := setup(t)
	w := newWorker(s, &fakeFetcher{}, clock)

	n, err := w.Run(context.Background(), []string{"42"}, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1_000), s.LoadCurrent("42")["Sisko"].Power)
}

func TestWorker_SkipsBusyAlliance(t *testing.T) {
	s, clock := setup(t)
	f := &fakeFetcher{}
	w := newWorker(s, f, clock, WithBusy(func(id string) bool { return id == "42" }))

	n, err := w.Run(context.Background(), []string{"42"}, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.calls)
}

func TestWorker_ValidatesInput(t *testing.T) {
	s, clock := setup(t)
	w := newWorker(s, &fakeFetcher{}, clock)
	assert.ErrorIs(t, w.Queue("42", "", false), roster.ErrInvalidInput)
	assert.ErrorIs(t, w.SetInterval("42", "", 1), roster.ErrInvalidInput)
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Details
	}{
		{
			name: "flat camel case",
			body: `{"power": 1200, "maxPower": 1500, "arenaRating": "2,300"}`,
			want: Details{Power: i64(1200), MaxPower: i64(1500), ArenaRating: i64(2300)},
		},
		{
			name: "nested player object",
			body: `{"player": {"resources_mined": 77, "missions_completed": 5}}`,
			want: Details{ResourcesMined: i64(77), MissionsCompleted: i64(5)},
		},
		{
			name: "list prefers the stats entry",
			body: `[{"name": "x"}, {"POWERDESTROYED": 9.7, "allianceHelpsSent": 12}]`,
			want: Details{PowerDestroyed: i64(9), AllianceHelpsSent: i64(12)},
		},
		{
			name: "nothing useful",
			body: `{"status": "ok"}`,
			want: Details{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePayload_CompressedData(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"maxPower": 4200}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	body := `{"data": "` + base64.StdEncoding.EncodeToString(buf.Bytes()) + `"}`
	got, err := ParsePayload([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, Details{MaxPower: i64(4200)}, got)

	_, err = ParsePayload([]byte(`not json`))
	assert.Error(t, err)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("playerid") == "missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"maxPower": 321}`))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL+"/api/playerDetails?playerid="+PlayerPlaceholder, WithRateLimit(1000, 10))
	require.NoError(t, err)

	d, err := f.Fetch(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, int64(321), *d.MaxPower)

	_, err = f.Fetch(context.Background(), "missing")
	assert.ErrorContains(t, err, "status 404")

	_, err = NewHTTPFetcher("https://example.test/player")
	assert.ErrorIs(t, err, roster.ErrInvalidInput)
}

func TestDetails_Apply(t *testing.T) {
	base := roster.Stats{Helps: 5, Power: 100}
	assert.Equal(t, base, Details{}.Apply(base))
	assert.True(t, Details{}.Empty())

	got := Details{Power: i64(150)}.Apply(base)
	assert.Equal(t, int64(150), got.Power)
	assert.Equal(t, int64(5), got.Helps)
}
