package interact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/identity"
	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/report"
	"github.com/roach88/rollcall/internal/review"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fetchFunc func(ctx context.Context, allianceID string) (roster.ScrapeBatch, error)

func (f fetchFunc) Fetch(ctx context.Context, allianceID string) (roster.ScrapeBatch, error) {
	return f(ctx, allianceID)
}

type fixture struct {
	router *Router
	store  *store.Store
	clock  *testutil.FixedClock
	puller *engine.Puller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	joined := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	st := roster.NewAllianceState("42")
	st.AllianceName = "Deep Space Nine"
	st.LastSync = t0
	st.Members["m1"] = &roster.Member{
		ID: "m1", Name: "Sisko", Rank: roster.RankAdmiral, Level: 50, Power: 12_000_000,
		OriginalJoinDate: joined, LastJoinDate: joined, PreviousNames: []string{},
		Events: roster.EventLog{&roster.Join{Timestamp: joined}},
	}
	st.Members["m2"] = &roster.Member{
		ID: "m2", Name: "Quark", Rank: roster.RankAgent, Level: 20,
		OriginalJoinDate: joined, LastJoinDate: joined, PreviousNames: []string{},
		Events: roster.EventLog{
			&roster.Join{Timestamp: joined},
			&roster.Leave{Timestamp: t0, Rank: roster.RankAgent, Level: 20},
		},
	}
	st.Members["m3"] = &roster.Member{
		ID: "m3", Name: "Odo", Rank: roster.RankAgent, Level: 21,
		OriginalJoinDate: t0, LastJoinDate: t0, PreviousNames: []string{},
		Events: roster.EventLog{&roster.Join{Timestamp: t0}},
	}
	require.NoError(t, s.SaveState(st))
	require.NoError(t, s.SavePending("42", t0, []roster.PendingRename{
		{OldName: "Quark", NewName: "Odo", OldID: "m2", NewID: "m3", Reason: roster.ReasonNoCandidate, Score: 3.5, Timestamp: t0},
	}))

	cfg := config.Default()
	cfg.Alliances = []config.Alliance{
		{ID: "42", Name: "Deep Space Nine", GuildIDs: []string{"g1", "g2"}},
		{ID: "74656", Name: "Voyager", GuildIDs: []string{"g2"}},
	}

	clock := testutil.NewFixedClock(t0.Add(time.Hour))
	eng := engine.New(s, identity.NewMatcher(identity.DefaultConfig()),
		engine.WithClock(clock), engine.WithIDGenerator(roster.NewSequenceGenerator("n")))
	puller := engine.NewPuller(eng)

	rt := NewRouter(Deps{
		Config:  cfg,
		Store:   s,
		Reports: report.NewService(s, clock, 10),
		Reviews: review.NewService(s, clock),
		Puller:  puller,
		Target: func(a config.Alliance) engine.Target {
			return engine.Target{AllianceID: a.ID, AllianceName: a.Name, Fetcher: fetchFunc(
				func(_ context.Context, id string) (roster.ScrapeBatch, error) {
					return roster.ScrapeBatch{AllianceID: id, Timestamp: clock.Now(), Members: []roster.ScrapedMember{
						{Name: "Janeway", Rank: roster.RankAdmiral, Level: 48},
					}}, nil
				})}
		},
		Pending: NewPending(DefaultTTL, clock),
		Clock:   clock,
		Version: "v1.2.3",
	})
	return &fixture{router: rt, store: s, clock: clock, puller: puller}
}

func cmd(guild, name string, opts ...string) Command {
	c := Command{GuildID: guild, UserID: "u1", Name: name, Options: map[string]string{}}
	for i := 0; i+1 < len(opts); i += 2 {
		c.Options[opts[i]] = opts[i+1]
	}
	return c
}

func TestPending_CreateAndPop(t *testing.T) {
	p := NewPending(time.Minute, testutil.NewFixedClock(t0))
	token := p.Create(Interaction{Command: "review", UserID: "u1", Options: map[string]string{"a": "b"}})
	require.NotEmpty(t, token)
	assert.Equal(t, 1, p.Len())

	in, err := p.Pop(token, "u1")
	require.NoError(t, err)
	assert.Equal(t, "review", in.Command)
	assert.Equal(t, "b", in.Options["a"])
	assert.Equal(t, t0, in.Created)

	_, err = p.Pop(token, "u1")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestPending_Expires(t *testing.T) {
	clock := testutil.NewFixedClock(t0)
	p := NewPending(time.Minute, clock)
	token := p.Create(Interaction{UserID: "u1"})

	clock.Advance(time.Minute)
	_, err := p.Pop(token, "u1")
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.Zero(t, p.Len())
}

func TestPending_WrongUserLeavesInteraction(t *testing.T) {
	p := NewPending(0, testutil.NewFixedClock(t0))
	token := p.Create(Interaction{UserID: "u1"})

	_, err := p.Pop(token, "intruder")
	assert.ErrorIs(t, err, ErrWrongUser)
	_, err = p.Pop(token, "u1")
	assert.NoError(t, err)
}

func TestRouter_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	resp := f.router.Handle(context.Background(), cmd("g1", "self-destruct"))
	assert.Equal(t, msgUnknown, resp.Content)
	assert.True(t, resp.Ephemeral)
}

func TestRouter_SimpleCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, cmd("", "bark")).Content, "Woof")
	assert.Contains(t, f.router.Handle(ctx, cmd("", "version")).Content, "v1.2.3")

	help := f.router.Handle(ctx, cmd("", "HELP"))
	assert.Contains(t, help.Content, "servicerecord: ")
	assert.Contains(t, help.Content, "forcepull: ")

	f.clock.Advance(26*time.Hour + 5*time.Minute)
	assert.Contains(t, f.router.Handle(ctx, cmd("", "uptime")).Content, "Uptime: 1d 2h 5m")

	status := f.router.Handle(ctx, cmd("", "status")).Content
	assert.Contains(t, status, "Tracked alliances: 2")
	assert.Contains(t, status, "Deep Space Nine (ID 42): 2 active, last sync 2025-03-01 12:00 UTC")
	assert.Contains(t, status, "Voyager (ID 74656): 0 active, last sync never")
}

func TestRouter_ResolvesGuildAlliance(t *testing.T) {
	f := newFixture(t)
	resp := f.router.Handle(context.Background(), cmd("g1", "roster"))
	assert.Contains(t, resp.Content, "Crew Manifest: Deep Space Nine (2 officers)")
	assert.False(t, resp.Ephemeral)
}

func TestRouter_AmbiguousGuildAsksForAlliance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.router.Handle(ctx, cmd("g2", "roster"))
	assert.Contains(t, resp.Content, "several alliances")
	assert.Contains(t, resp.Content, "Voyager (74656)")

	resp = f.router.Handle(ctx, cmd("g2", "roster", "alliance", "42"))
	assert.Contains(t, resp.Content, "Crew Manifest: Deep Space Nine")
}

func TestRouter_UnlinkedGuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, cmd("g9", "roster")).Content, "not linked")
	assert.Contains(t, f.router.Handle(ctx, cmd("g9", "roster", "alliance", "999")).Content, "no records for alliance 999")
}

func TestRouter_RecoversPanics(t *testing.T) {
	rt := NewRouter(Deps{Config: &config.Config{Alliances: []config.Alliance{{ID: "42", GuildIDs: []string{"g1"}}}}})
	var resp Response
	require.NotPanics(t, func() {
		resp = rt.Handle(context.Background(), cmd("g1", "roster"))
	})
	assert.Equal(t, msgInternal, resp.Content)
}

func TestRouter_ServiceRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "servicerecord", "name", "sisko")).Content, "Service Record: Sisko")
	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "servicerecord")).Content, "Which officer")
}

func TestRouter_ReportPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "weeklyreport")).Content, "Deep Space Nine")
	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "report", "period", "fortnightly")).Content, "interim, daily or weekly")
}

func TestRouter_RejectsBadDays(t *testing.T) {
	f := newFixture(t)
	resp := f.router.Handle(context.Background(), cmd("g1", "top-contributors", "days", "-3"))
	assert.Contains(t, resp.Content, "days must be a positive whole number")
	assert.True(t, resp.Ephemeral)
}

func TestRouter_RecentChangesSince(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.router.Handle(ctx, cmd("g1", "recent-changes", "since", "2025-02-01"))
	assert.Contains(t, resp.Content, "since 2025-02-01 00:00 UTC")

	resp = f.router.Handle(ctx, cmd("g1", "recent-changes", "since", "2099-01-01"))
	assert.Contains(t, resp.Content, "could not make sense")
}

func TestRouter_ForcePullRepliesImmediately(t *testing.T) {
	f := newFixture(t)

	resp := f.router.Handle(context.Background(), cmd("g2", "forcepull", "alliance", "74656"))
	assert.Contains(t, resp.Content, "fetching fresh data for Voyager")

	require.True(t, f.puller.Wait(5*time.Second))
	st := f.store.LoadState("74656")
	require.Len(t, st.ActiveMembers(), 1)
	assert.Equal(t, "Janeway", st.ActiveMembers()[0].Name)
	assert.Equal(t, "chat", st.PullHistory[0].Source)
}

func TestRouter_ReviewApproveNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list := f.router.Handle(ctx, cmd("g1", "review"))
	assert.Contains(t, list.Content, "1. Quark -> Odo")

	resp := f.router.Handle(ctx, cmd("g1", "review", "action", "approve", "item", "1"))
	require.NotEmpty(t, resp.Token)
	assert.Contains(t, resp.Content, "merge Quark and Odo")

	// Nothing changes before confirmation.
	assert.Len(t, f.store.LoadState("42").Members, 3)

	other := f.router.Confirm(ctx, resp.Token, "u2")
	assert.Contains(t, other.Content, "Only the officer")

	done := f.router.Confirm(ctx, resp.Token, "u1")
	assert.Contains(t, done.Content, "Records merged")

	st := f.store.LoadState("42")
	assert.Len(t, st.Members, 2)
	assert.Equal(t, "Odo", st.Members["m2"].Name)
	assert.Contains(t, st.Members["m2"].PreviousNames, "Quark")

	again := f.router.Confirm(ctx, resp.Token, "u1")
	assert.Contains(t, again.Content, "expired")
}

func TestRouter_ReviewDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.router.Handle(ctx, cmd("g1", "review", "action", "decline", "old", "Quark", "new", "Odo"))
	require.NotEmpty(t, resp.Token)
	assert.Contains(t, f.router.Confirm(ctx, resp.Token, "u1").Content, "separate records")

	assert.Len(t, f.store.LoadState("42").Members, 3)
	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "review", "action", "list")).Content, "No rename reviews")
}

// holdPull keeps a pull for alliance 42 in its fetch until the returned
// func is called. The fetch then fails, leaving the state untouched.
func holdPull(t *testing.T, f *fixture) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.puller.Pull(context.Background(), engine.Target{AllianceID: "42", Fetcher: fetchFunc(
			func(context.Context, string) (roster.ScrapeBatch, error) {
				<-gate
				return roster.ScrapeBatch{}, errors.New("source offline")
			})}, "cron")
	}()
	require.Eventually(t, func() bool { return f.puller.Busy("42") }, time.Second, 5*time.Millisecond)
	return func() {
		close(gate)
		<-done
	}
}

func TestRouter_ReviewWaitsForPull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	approve := f.router.Handle(ctx, cmd("g1", "review", "action", "approve", "item", "1"))
	require.NotEmpty(t, approve.Token)
	decline := f.router.Handle(ctx, cmd("g1", "review", "action", "decline", "item", "1"))
	require.NotEmpty(t, decline.Token)

	release := holdPull(t, f)
	assert.Contains(t, f.router.Confirm(ctx, approve.Token, "u1").Content, "already underway")
	assert.Contains(t, f.router.Confirm(ctx, decline.Token, "u1").Content, "already underway")
	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "alias", "name", "Sisko", "alias", "The Emissary")).Content, "already underway")
	release()

	st := f.store.LoadState("42")
	assert.Len(t, st.Members, 3)
	assert.Empty(t, st.NameOverrides)
	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "review")).Content, "1. Quark -> Odo")

	retry := f.router.Handle(ctx, cmd("g1", "review", "action", "approve", "item", "1"))
	require.NotEmpty(t, retry.Token)
	assert.Contains(t, f.router.Confirm(ctx, retry.Token, "u1").Content, "Records merged")
	assert.Len(t, f.store.LoadState("42").Members, 2)
}

func TestRouter_ReviewUnknownItem(t *testing.T) {
	f := newFixture(t)
	resp := f.router.Handle(context.Background(), cmd("g1", "review", "action", "approve", "item", "7"))
	assert.Empty(t, resp.Token)
	assert.Contains(t, resp.Content, "no review number 7")
}

func TestRouter_AliasAppliesPerGuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.router.Handle(ctx, cmd("g1", "alias", "name", "Sisko", "alias", "The Emissary"))
	assert.Contains(t, resp.Content, "Sisko will appear as The Emissary")

	assert.Contains(t, f.router.Handle(ctx, cmd("g1", "roster")).Content, "The Emissary")
	assert.NotContains(t, f.router.Handle(ctx, cmd("g2", "roster", "alliance", "42")).Content, "The Emissary")

	f.router.Handle(ctx, cmd("g1", "alias", "name", "Sisko"))
	assert.NotContains(t, f.router.Handle(ctx, cmd("g1", "roster")).Content, "The Emissary")
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type pingFunc func() error

func (f pingFunc) Ping() error { return f() }

func TestHandler_Commands(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.router, f.store, prometheus.NewRegistry())

	rec := post(t, h, "/commands", Command{GuildID: "g1", UserID: "u1", Name: "bark"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Content, "Woof")

	rec = post(t, h, "/commands", Command{GuildID: "g1", UserID: "u1", Name: "review",
		Options: map[string]string{"action": "decline", "item": "1"}})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	rec = post(t, h, "/commands/confirm", confirmRequest{Token: resp.Token, UserID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Content, "separate records")
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.router, f.store, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/commands", Command{}).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/commands/confirm", confirmRequest{}).Code)
}

func TestHandler_Probes(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	metrics.New(reg).SyncResult("42", "ok")

	healthy := true
	h := NewHandler(f.router, pingFunc(func() error {
		if healthy {
			return nil
		}
		return assert.AnError
	}), reg)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	m := get("/metrics")
	assert.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), `rollcall_syncs_total{alliance="42",result="ok"} 1`)
}
