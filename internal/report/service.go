// Package report builds the read-side views: contribution reports, the
// crew manifest, service records, recent changes, top contributors, the
// alliance summary and pull history.
//
// Renderers are pure functions of their inputs. Service loads the inputs
// from the store and applies per-guild display names.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/roach88/rollcall/internal/delta"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// DefaultTopN is the number of rows in ranked tables.
const DefaultTopN = 10

// Service renders reports from stored data.
type Service struct {
	store *store.Store
	clock roster.Clock
	topN  int
}

// NewService creates a report service. topN below 1 uses DefaultTopN.
func NewService(st *store.Store, clock roster.Clock, topN int) *Service {
	if clock == nil {
		clock = roster.SystemClock{}
	}
	if topN < 1 {
		topN = DefaultTopN
	}
	return &Service{store: st, clock: clock, topN: topN}
}

// Scope selects the alliance and, for chat callers, the guild whose name
// overrides apply.
type Scope struct {
	AllianceID string
	// Name is the configured display name; the stored name is used when
	// empty.
	Name    string
	GuildID string
}

func (s *Service) load(sc Scope) (*roster.AllianceState, string, Names) {
	st := s.store.LoadState(sc.AllianceID)
	name := sc.Name
	if name == "" {
		name = st.AllianceName
	}
	if name == "" {
		name = sc.AllianceID
	}
	names := func(n string) string { return st.DisplayName(sc.GuildID, n) }
	return st, name, names
}

// ServiceReport renders the interim, daily or weekly contribution report.
func (s *Service) ServiceReport(sc Scope, p delta.Period) string {
	_, name, names := s.load(sc)
	now := s.clock.Now()
	w := delta.Resolve(s.store, sc.AllianceID, delta.RangeFor(p, now))
	return RenderServiceReport(name, w, s.topN, now, names)
}

// Roster renders the active crew manifest.
func (s *Service) Roster(sc Scope) string {
	st, name, names := s.load(sc)
	return RenderRoster(name, st.ActiveMembers(), names)
}

// Record renders the service record of the member known as memberName.
// A failed lookup produces a friendly message.
func (s *Service) Record(sc Scope, memberName string) string {
	st, _, names := s.load(sc)
	if strings.TrimSpace(memberName) == "" {
		return "Scrappy scratches behind his ear. I need a name to search for, Captain."
	}
	m, err := st.FindMember(memberName)
	switch {
	case err == nil:
		return RenderRecord(m, names)
	case errors.Is(err, roster.ErrAmbiguous):
		return fmt.Sprintf("Scrappy found several officers answering to '%s'. Please be more specific, Captain.", memberName)
	default:
		return fmt.Sprintf("Scrappy tilts his head. I can't find any officer named '%s', Captain.", memberName)
	}
}

// Changes renders stream events since the given instant.
func (s *Service) Changes(ctx context.Context, sc Scope, since time.Time, label string) (string, error) {
	_, name, names := s.load(sc)
	recs, err := s.store.EventsSince(ctx, sc.AllianceID, since)
	if err != nil {
		return "", fmt.Errorf("recent changes: %w", err)
	}
	return RenderChanges(name, label, recs, names), nil
}

// ChangesDays renders stream events of the last days days.
func (s *Service) ChangesDays(ctx context.Context, sc Scope, days int) (string, error) {
	if days < 1 {
		days = 30
	}
	return s.Changes(ctx, sc, s.clock.Now().AddDate(0, 0, -days), fmt.Sprintf("in the last %d days", days))
}

// Top renders the top contributors of the last days days.
func (s *Service) Top(sc Scope, days int) string {
	if days < 1 {
		days = 7
	}
	_, name, names := s.load(sc)
	w := delta.Resolve(s.store, sc.AllianceID, delta.LastDays(days, s.clock.Now()))
	return RenderTop(name, fmt.Sprintf("over the last %d days", days), w, s.topN, names)
}

// Summary renders the alliance summary.
func (s *Service) Summary(sc Scope) string {
	st, name, _ := s.load(sc)
	return RenderSummary(st, name)
}

// Pulls renders the pull history.
func (s *Service) Pulls(sc Scope) string {
	st, name, _ := s.load(sc)
	return RenderPulls(name, st.PullHistory)
}

// ParseSince resolves a natural-language or RFC 3339 instant, such as
// "last monday" or "3 days ago", relative to now. The result must not be
// in the future.
func ParseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("since: empty: %w", roster.ErrInvalidInput)
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return checkPast(t.UTC(), now)
	}
	if t, err := time.Parse(time.DateOnly, text); err == nil {
		return checkPast(t.UTC(), now)
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(strings.ToLower(text), now.UTC())
	if err != nil {
		return time.Time{}, fmt.Errorf("since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("since %q: unrecognised time: %w", text, roster.ErrInvalidInput)
	}
	return checkPast(r.Time.UTC(), now)
}

func checkPast(t, now time.Time) (time.Time, error) {
	if t.After(now) {
		return time.Time{}, fmt.Errorf("since %s is in the future: %w", t.Format(time.RFC3339), roster.ErrInvalidInput)
	}
	return t, nil
}
