// Package detail enriches the current contribution snapshot with
// per-player statistics fetched one player at a time.
//
// The worker spends a small budget per run. Explicitly queued players go
// first; otherwise the active members whose details are stalest are
// picked. A player is fetched again only after its interval has elapsed,
// and a failed attempt blocks retries for the backoff period. Results
// are merged into a freshly reloaded current snapshot so a sync that
// saved in the meantime is not overwritten wholesale.
package detail

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// stateKind names the store document holding worker state.
const stateKind = "detail"

// Defaults match the configuration defaults.
const (
	DefaultInterval = 60 * time.Hour
	DefaultBackoff  = 30 * time.Minute
	DefaultPerRun   = 1
)

// Entry is the fetch history of one player.
type Entry struct {
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// State is the per-alliance worker document.
type State struct {
	Queue     []string           `json:"queue"`
	Overrides map[string]float64 `json:"interval_overrides"`
	Players   map[string]*Entry  `json:"players"`
}

func (s *State) normalize() {
	if s.Queue == nil {
		s.Queue = []string{}
	}
	if s.Overrides == nil {
		s.Overrides = map[string]float64{}
	}
	if s.Players == nil {
		s.Players = map[string]*Entry{}
	}
}

func (s *State) entry(playerID string) *Entry {
	e, ok := s.Players[playerID]
	if !ok {
		e = &Entry{}
		s.Players[playerID] = e
	}
	return e
}

// Config tunes the worker.
type Config struct {
	Interval time.Duration
	Backoff  time.Duration
	PerRun   int
}

// Candidate is a player selected for a fetch.
type Candidate struct {
	PlayerID string
	Name     string
}

// Worker runs detail fetches.
type Worker struct {
	store   *store.Store
	fetcher Fetcher
	cfg     Config
	clock   roster.Clock
	metrics *metrics.Metrics
	busy    func(allianceID string) bool

	// mu serializes read-modify-write of the worker and snapshot
	// documents within this process.
	mu sync.Mutex
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock sets the time source.
func WithClock(c roster.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithBusy skips alliances for which busy reports a sync in flight.
func WithBusy(busy func(allianceID string) bool) Option {
	return func(w *Worker) { w.busy = busy }
}

// NewWorker creates a worker. Zero config fields take the defaults.
func NewWorker(st *store.Store, f Fetcher, cfg Config, opts ...Option) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PerRun <= 0 {
		cfg.PerRun = DefaultPerRun
	}
	w := &Worker{store: st, fetcher: f, cfg: cfg, clock: roster.SystemClock{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) load(allianceID string) *State {
	var s State
	if _, err := w.store.LoadDocument(stateKind, allianceID, &s); err != nil {
		slog.Warn("detail state unreadable, starting empty", "alliance", allianceID, "error", err)
		s = State{}
	}
	s.normalize()
	return &s
}

func (w *Worker) save(allianceID string, s *State) error {
	return w.store.SaveDocument(stateKind, allianceID, s)
}

// State returns a copy of the alliance's worker document.
func (w *Worker) State(allianceID string) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.load(allianceID)
}

// Queue schedules playerID for the next run. With front set the player
// moves to the head of the queue.
func (w *Worker) Queue(allianceID, playerID string, front bool) error {
	if playerID == "" {
		return fmt.Errorf("queue detail refresh: empty player id: %w", roster.ErrInvalidInput)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.load(allianceID)
	if i := slices.Index(s.Queue, playerID); i >= 0 {
		if !front {
			return nil
		}
		s.Queue = slices.Delete(s.Queue, i, i+1)
	}
	if front {
		s.Queue = slices.Insert(s.Queue, 0, playerID)
	} else {
		s.Queue = append(s.Queue, playerID)
	}
	return w.save(allianceID, s)
}

// SetInterval overrides the refresh interval of one player. Zero or
// negative hours clear the override.
func (w *Worker) SetInterval(allianceID, playerID string, hours float64) error {
	if playerID == "" {
		return fmt.Errorf("set detail interval: empty player id: %w", roster.ErrInvalidInput)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.load(allianceID)
	if hours <= 0 {
		delete(s.Overrides, playerID)
	} else {
		s.Overrides[playerID] = hours
	}
	return w.save(allianceID, s)
}

func (w *Worker) interval(s *State, playerID string) time.Duration {
	if h, ok := s.Overrides[playerID]; ok && h > 0 {
		return time.Duration(h * float64(time.Hour))
	}
	return w.cfg.Interval
}

// coolingDown reports whether the player's last attempt is within the
// backoff period.
func (w *Worker) coolingDown(s *State, playerID string, now time.Time) bool {
	e, ok := s.Players[playerID]
	return ok && !e.LastAttempt.IsZero() && now.Sub(e.LastAttempt) < w.cfg.Backoff
}

func (w *Worker) eligible(s *State, playerID string, now time.Time) bool {
	if w.coolingDown(s, playerID, now) {
		return false
	}
	e, ok := s.Players[playerID]
	return !ok || e.LastSuccess.IsZero() || now.Sub(e.LastSuccess) >= w.interval(s, playerID)
}

// activeByPlayer maps player ids of active members present in the
// current snapshot to their names.
func (w *Worker) activeByPlayer(allianceID string) map[string]string {
	current := w.store.LoadCurrent(allianceID)
	out := map[string]string{}
	for _, m := range w.store.LoadState(allianceID).ActiveMembers() {
		if m.PlayerID == "" {
			continue
		}
		if _, ok := current[m.Name]; ok {
			out[m.PlayerID] = m.Name
		}
	}
	return out
}

// Select picks up to n players to fetch. Queued players are consumed
// first and skip the refresh interval: those no longer active are
// dropped, those still in failure backoff stay queued. Only when the
// queue yields nothing are the stalest eligible active members chosen.
func (w *Worker) Select(allianceID string, n int) ([]Candidate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	s := w.load(allianceID)
	active := w.activeByPlayer(allianceID)

	var picked []Candidate
	if len(s.Queue) > 0 {
		remaining := []string{}
		for _, pid := range s.Queue {
			name, ok := active[pid]
			switch {
			case len(picked) >= n:
				remaining = append(remaining, pid)
			case !ok:
				slog.Info("dropping queued detail refresh for inactive player", "alliance", allianceID, "player", pid)
			case w.coolingDown(s, pid, now):
				remaining = append(remaining, pid)
			default:
				picked = append(picked, Candidate{PlayerID: pid, Name: name})
			}
		}
		s.Queue = remaining
		if err := w.save(allianceID, s); err != nil {
			return nil, err
		}
		if len(picked) > 0 {
			return picked, nil
		}
	}

	type stale struct {
		Candidate
		last time.Time
	}
	var pool []stale
	for pid, name := range active {
		if !w.eligible(s, pid, now) {
			continue
		}
		var last time.Time
		if e, ok := s.Players[pid]; ok {
			last = e.LastSuccess
		}
		pool = append(pool, stale{Candidate{PlayerID: pid, Name: name}, last})
	}
	sort.Slice(pool, func(i, j int) bool {
		if !pool[i].last.Equal(pool[j].last) {
			return pool[i].last.Before(pool[j].last)
		}
		return pool[i].PlayerID < pool[j].PlayerID
	})
	for i := 0; i < len(pool) && i < n; i++ {
		picked = append(picked, pool[i].Candidate)
	}
	return picked, nil
}

// Run fetches details for up to limit players across the alliances, in
// order. A limit below 1 uses the configured per-run budget. It returns
// the number of members updated.
func (w *Worker) Run(ctx context.Context, allianceIDs []string, limit int) (int, error) {
	if limit < 1 {
		limit = w.cfg.PerRun
	}
	updated := 0
	for _, aid := range allianceIDs {
		if updated >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if w.busy != nil && w.busy(aid) {
			slog.Debug("skipping detail run during sync", "alliance", aid)
			continue
		}
		picked, err := w.Select(aid, limit-updated)
		if err != nil {
			return updated, err
		}
		for _, c := range picked {
			ok, err := w.update(ctx, aid, c)
			if err != nil {
				return updated, err
			}
			if ok {
				updated++
			}
			if updated >= limit {
				break
			}
		}
	}
	return updated, nil
}

// update fetches one player and merges the result. Fetch failures are
// recorded and logged, not returned; only storage errors are.
func (w *Worker) update(ctx context.Context, allianceID string, c Candidate) (bool, error) {
	if err := w.mark(allianceID, c.PlayerID, func(e *Entry) { e.LastAttempt = w.clock.Now() }); err != nil {
		return false, err
	}

	d, err := w.fetcher.Fetch(ctx, c.PlayerID)
	if err != nil {
		slog.Warn("member detail fetch failed", "alliance", allianceID, "member", c.Name, "player", c.PlayerID, "error", err)
		w.metrics.DetailFetch(allianceID, "error")
		return false, w.mark(allianceID, c.PlayerID, func(e *Entry) { e.LastError = err.Error() })
	}
	if d.Empty() {
		slog.Info("member detail fetch returned no statistics", "alliance", allianceID, "member", c.Name)
		w.metrics.DetailFetch(allianceID, "empty")
		return false, nil
	}

	w.mu.Lock()
	current := w.store.LoadCurrent(allianceID)
	base, ok := current[c.Name]
	if !ok {
		w.mu.Unlock()
		slog.Info("member left the roster before details arrived", "alliance", allianceID, "member", c.Name)
		return false, nil
	}
	current[c.Name] = d.Apply(base)
	err = w.store.SaveCurrent(allianceID, current)
	w.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("save member details: %w", err)
	}

	w.metrics.DetailFetch(allianceID, "ok")
	slog.Info("member details updated", "alliance", allianceID, "member", c.Name, "player", c.PlayerID)
	return true, w.mark(allianceID, c.PlayerID, func(e *Entry) {
		e.LastSuccess = w.clock.Now()
		e.LastError = ""
	})
}

func (w *Worker) mark(allianceID, playerID string, fn func(*Entry)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.load(allianceID)
	fn(s.entry(playerID))
	return w.save(allianceID, s)
}
