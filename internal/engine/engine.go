package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rollcall/internal/detect"
	"github.com/roach88/rollcall/internal/identity"
	"github.com/roach88/rollcall/internal/ledger"
	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// Phase names a step of a sync.
type Phase string

const (
	PhaseLoad    Phase = "LOAD_STATE"
	PhaseMatch   Phase = "MATCH_IDENTITIES"
	PhaseDetect  Phase = "DETECT_EVENTS"
	PhaseApply   Phase = "APPLY_EVENTS"
	PhasePersist Phase = "PERSIST"
	PhaseNotify  Phase = "NOTIFY"
	PhaseDone    Phase = "DONE"
)

// Notifier receives the outbound event batch of a successful sync. A
// returned error is logged and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, batch []ledger.Notice) error
}

// Engine runs syncs against a store.
type Engine struct {
	store    *store.Store
	matcher  *identity.Matcher
	notifier Notifier
	clock    roster.Clock
	ids      roster.IDGenerator
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the batch consumer.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithClock replaces the system clock.
func WithClock(c roster.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithIDGenerator replaces the UUIDv7 member id generator.
func WithIDGenerator(g roster.IDGenerator) Option { return func(e *Engine) { e.ids = g } }

// WithMetrics records sync metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an engine.
func New(st *store.Store, matcher *identity.Matcher, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		matcher: matcher,
		clock:   roster.SystemClock{},
		ids:     roster.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request is one scraped roster to sync.
type Request struct {
	AllianceID   string
	AllianceName string
	Members      []roster.ScrapedMember
	// Timestamp is the scrape time. Zero means now. It is truncated to
	// whole seconds, the resolution of snapshot keys.
	Timestamp time.Time
	// Source labels the trigger in pull history: cli, cron, chat, startup.
	Source string
}

// Result summarises a completed sync.
type Result struct {
	AllianceID  string
	Timestamp   time.Time
	DataChanged bool
	Changes     []detect.Change
	Pending     []roster.PendingRename
	Active      int
	Digest      string
}

// Sync runs one sync. It returns a *SyncError for rejected requests and
// for storage failures. The state document is written last; until it is
// saved the sync has not happened, and retrying the same scrape redoes it.
func (e *Engine) Sync(ctx context.Context, req Request) (Result, error) {
	started := e.clock.Now()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = started
	}
	ts = ts.UTC().Truncate(time.Second)
	log := slog.With("alliance", req.AllianceID, "scrape", ts.Format(time.RFC3339))

	if req.AllianceID == "" {
		return Result{}, &SyncError{Code: ErrCodeMissingAllianceID, Message: "sync request has no alliance id"}
	}
	rows := prepareRows(req.Members)
	if len(rows) == 0 {
		return Result{}, &SyncError{
			Code:       ErrCodeEmptyRoster,
			AllianceID: req.AllianceID,
			Message:    "scraped roster is empty",
		}
	}

	log.Debug("sync phase", "phase", PhaseLoad)
	state := e.store.LoadState(req.AllianceID)
	prevSnap := e.store.LoadCurrent(req.AllianceID)
	prev := make(map[string]*roster.Member, len(state.Members))
	for id, m := range state.Members {
		prev[id] = m.Clone()
	}

	log.Debug("sync phase", "phase", PhaseMatch, "rows", len(rows), "known", len(prev))
	match := e.matcher.Match(prev, prevSnap, rows, ts)
	current, joinedAt, snap := e.buildCurrent(prev, prevSnap, match.Assignments, ts)
	pending := fillPendingIDs(match.Pending, current)

	log.Debug("sync phase", "phase", PhaseDetect)
	changes := detect.Detect(detect.Input{
		Previous: prev,
		Current:  current,
		JoinedAt: joinedAt,
		At:       ts,
	})

	log.Debug("sync phase", "phase", PhaseApply, "changes", len(changes))
	next := make(map[string]*roster.Member, len(prev)+len(current))
	for id, m := range prev {
		next[id] = m
	}
	for id, m := range current {
		next[id] = m
	}
	if err := ledger.Apply(next, changes); err != nil {
		return Result{}, fmt.Errorf("sync %s: %w", req.AllianceID, err)
	}

	dataChanged := !prevSnap.Equal(snap)
	digest := snap.Digest()
	name := req.AllianceName
	if name == "" {
		name = state.AllianceName
	}
	nextState := &roster.AllianceState{
		AllianceID:    req.AllianceID,
		AllianceName:  name,
		LastSync:      ts,
		Members:       next,
		PullHistory:   state.PullHistory,
		NameOverrides: state.NameOverrides,
	}
	nextState.RecordPull(roster.PullRecord{
		Timestamp:   ts,
		Success:     true,
		Source:      req.Source,
		DataChanged: &dataChanged,
		Digest:      digest,
	})

	log.Debug("sync phase", "phase", PhasePersist, "data_changed", dataChanged)
	if err := e.persist(req.AllianceID, ts, snap, pending, nextState); err != nil {
		return Result{}, err
	}

	if _, err := e.store.AppendEvents(ctx, ledger.Records(req.AllianceID, next, changes)); err != nil {
		log.Warn("event stream append failed, run replay to rebuild", "error", err)
	}

	for kind, n := range detect.Count(changes) {
		e.metrics.EventsDetected(req.AllianceID, string(kind), n)
	}
	e.metrics.SyncCompleted(req.AllianceID, e.clock.Now().Sub(started), len(current), len(pending))

	if len(changes) > 0 && e.notifier != nil {
		log.Debug("sync phase", "phase", PhaseNotify)
		if err := e.notifier.Notify(ctx, ledger.Notices(req.AllianceID, name, next, changes)); err != nil {
			log.Warn("notification failed", "error", err)
		}
	}

	log.Info("sync complete",
		"phase", PhaseDone,
		"active", len(current),
		"changes", len(changes),
		"pending_reviews", len(pending),
		"data_changed", dataChanged,
	)
	return Result{
		AllianceID:  req.AllianceID,
		Timestamp:   ts,
		DataChanged: dataChanged,
		Changes:     changes,
		Pending:     pending,
		Active:      len(current),
		Digest:      digest,
	}, nil
}

// buildCurrent turns assignments into the post-sync member set and the
// new contribution snapshot.
func (e *Engine) buildCurrent(prev map[string]*roster.Member, prevSnap roster.Snapshot, assignments []identity.Assignment, ts time.Time) (map[string]*roster.Member, map[string]time.Time, roster.Snapshot) {
	current := make(map[string]*roster.Member, len(assignments))
	joinedAt := make(map[string]time.Time, len(assignments))
	snap := make(roster.Snapshot, len(assignments))

	for _, a := range assignments {
		s := a.Scraped
		var m *roster.Member
		baseName := s.Name
		if a.MemberID == "" {
			m = &roster.Member{ID: e.ids.Generate(), PreviousNames: []string{}, Events: roster.EventLog{}}
		} else {
			m = prev[a.MemberID].Clone()
			baseName = m.Name
		}

		m.Name = s.Name
		m.Rank = s.Rank
		m.Level = s.Level
		if s.PlayerID != "" {
			m.PlayerID = string(s.PlayerID)
		}

		base, ok := prevSnap[baseName]
		if !ok {
			base = prevSnap[s.Name]
		}
		stats := s.MergeStats(base)
		snap[s.Name] = stats
		m.Power = stats.Power

		current[m.ID] = m
		joinedAt[m.ID] = roster.JoinTimestamp(s.JoinDate, ts)
	}
	return current, joinedAt, snap
}

// persist writes the sync's documents. The state document goes last and
// commits the sync. The others are keyed by scrape time or replaced
// wholesale, so a retry after a failed state write overwrites them.
func (e *Engine) persist(allianceID string, ts time.Time, snap roster.Snapshot, pending []roster.PendingRename, st *roster.AllianceState) error {
	fail := func(what string, err error) error {
		return &SyncError{Code: ErrCodePersistFailed, AllianceID: allianceID, Message: what, Err: err}
	}

	if err := e.store.SaveSnapshot(allianceID, ts, snap); err != nil {
		if !errors.Is(err, store.ErrExists) {
			return fail("write snapshot", err)
		}
		slog.Debug("snapshot already recorded for this scrape", "alliance", allianceID)
	}
	if err := e.store.SavePending(allianceID, ts, pending); err != nil {
		return fail("write pending reviews", err)
	}
	if err := e.store.SaveCurrent(allianceID, snap); err != nil {
		return fail("write current contributions", err)
	}
	if err := e.store.SaveState(st); err != nil {
		return fail("write state", err)
	}
	return nil
}

// RecordPull appends a pull attempt that did not produce a sync, such as
// a failed fetch, to the alliance's pull history.
func (e *Engine) RecordPull(allianceID string, ts time.Time, source string, cause error) error {
	if allianceID == "" {
		return &SyncError{Code: ErrCodeMissingAllianceID, Message: "pull record has no alliance id"}
	}
	st := e.store.LoadState(allianceID)
	rec := roster.PullRecord{Timestamp: ts.UTC(), Success: cause == nil, Source: source}
	if cause != nil {
		rec.Error = cause.Error()
	}
	st.RecordPull(rec)
	if err := e.store.SaveState(st); err != nil {
		return fmt.Errorf("record pull: %w", err)
	}
	return nil
}

// prepareRows normalizes rows and drops blank and duplicate entries. A
// row duplicates an earlier one when it repeats its player id or, without
// a player id, its name.
func prepareRows(in []roster.ScrapedMember) []roster.ScrapedMember {
	out := make([]roster.ScrapedMember, 0, len(in))
	seenName := map[string]bool{}
	seenPID := map[roster.PlayerID]bool{}
	for _, raw := range in {
		s := raw.Normalized()
		if s.Name == "" {
			continue
		}
		if seenName[s.Name] || (s.PlayerID != "" && seenPID[s.PlayerID]) {
			slog.Warn("dropping duplicate roster row", "member", s.Name, "player_id", string(s.PlayerID))
			continue
		}
		seenName[s.Name] = true
		if s.PlayerID != "" {
			seenPID[s.PlayerID] = true
		}
		out = append(out, s)
	}
	return out
}

// fillPendingIDs sets NewID on each pending review from the member now
// holding its new name.
func fillPendingIDs(pending []roster.PendingRename, current map[string]*roster.Member) []roster.PendingRename {
	byName := make(map[string]string, len(current))
	for id, m := range current {
		byName[m.Name] = id
	}
	for i := range pending {
		pending[i].NewID = byName[pending[i].NewName]
	}
	return pending
}
