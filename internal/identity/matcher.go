package identity

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// Config holds the rename scoring tolerances.
type Config struct {
	// HelpsTolerance is the largest accepted absolute helps difference.
	HelpsTolerance int64 `yaml:"helps_tolerance" validate:"gte=0"`
	// ResourceTolerance is the accepted relative resources difference.
	ResourceTolerance float64 `yaml:"resource_tolerance" validate:"gte=0,lte=1"`
	// IsotopeTolerance is the accepted relative isotopes difference.
	IsotopeTolerance float64 `yaml:"isotope_tolerance" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the stock tolerances: 200 helps, 5% resources,
// 5% isotopes.
func DefaultConfig() Config {
	return Config{
		HelpsTolerance:    200,
		ResourceTolerance: 0.05,
		IsotopeTolerance:  0.05,
	}
}

// MatchKind records how a scraped row was tied to an identity.
type MatchKind int

const (
	MatchNew MatchKind = iota
	MatchPlayerID
	MatchName
	MatchGuaranteed
	MatchScored
)

func (k MatchKind) String() string {
	switch k {
	case MatchPlayerID:
		return "player_id"
	case MatchName:
		return "name"
	case MatchGuaranteed:
		return "guaranteed"
	case MatchScored:
		return "scored"
	default:
		return "new"
	}
}

// Assignment ties one scraped row to a stored member. MemberID is empty
// for MatchNew.
type Assignment struct {
	Scraped  roster.ScrapedMember
	MemberID string
	How      MatchKind
	Score    float64
}

// Result partitions one sync's inputs.
type Result struct {
	// Assignments has one entry per scraped row, in input order.
	Assignments []Assignment
	// Unclaimed lists stored member ids no row claimed, sorted.
	Unclaimed []string
	// Pending holds unresolved (departure, arrival) pairs. NewID is left
	// empty; the caller fills it once new members have ids.
	Pending []roster.PendingRename
}

// Matcher applies the matching passes.
type Matcher struct {
	cfg Config
}

// NewMatcher returns a matcher using cfg.
func NewMatcher(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Config returns the matcher's tolerances.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Match reconciles scraped against prev, the stored members keyed by id.
// baseline is the previous contribution snapshot, used to score renames.
// ts stamps any pending reviews. prev is not modified.
func (m *Matcher) Match(prev map[string]*roster.Member, baseline roster.Snapshot, scraped []roster.ScrapedMember, ts time.Time) Result {
	r := &run{
		prev:     sortedMembers(prev),
		claimed:  map[string]bool{},
		assigned: make([]bool, len(scraped)),
		out:      make([]Assignment, len(scraped)),
	}
	for i, s := range scraped {
		r.out[i] = Assignment{Scraped: s, How: MatchNew}
	}

	r.matchPlayerIDs(scraped)
	r.matchNames(scraped)
	r.matchGuaranteed(scraped)
	pending := r.matchScored(scraped, baseline, m.cfg, ts)

	unclaimed := []string{}
	for _, p := range r.prev {
		if !r.claimed[p.ID] {
			unclaimed = append(unclaimed, p.ID)
		}
	}
	sort.Strings(unclaimed)

	return Result{Assignments: r.out, Unclaimed: unclaimed, Pending: pending}
}

// run carries the bookkeeping of one Match call.
type run struct {
	prev     []*roster.Member
	claimed  map[string]bool
	assigned []bool
	out      []Assignment
}

func (r *run) claim(i int, mem *roster.Member, how MatchKind, score float64) {
	r.assigned[i] = true
	r.claimed[mem.ID] = true
	r.out[i].MemberID = mem.ID
	r.out[i].How = how
	r.out[i].Score = score
}

func (r *run) matchPlayerIDs(scraped []roster.ScrapedMember) {
	byPID := map[roster.PlayerID][]*roster.Member{}
	for _, p := range r.prev {
		if p.PlayerID != "" {
			pid := roster.PlayerID(p.PlayerID)
			byPID[pid] = append(byPID[pid], p)
		}
	}

	for i, s := range scraped {
		if s.PlayerID == "" {
			continue
		}
		cands := unclaimedOf(byPID[s.PlayerID], r.claimed)
		if len(cands) == 0 {
			continue
		}
		if len(cands) > 1 {
			warnTie("player_id", s, cands)
		}
		r.claim(i, cands[0], MatchPlayerID, 0)
	}
}

func (r *run) matchNames(scraped []roster.ScrapedMember) {
	byName := map[string][]*roster.Member{}
	for _, p := range r.prev {
		byName[p.Name] = append(byName[p.Name], p)
	}

	for i, s := range scraped {
		if r.assigned[i] {
			continue
		}
		var cands []*roster.Member
		for _, p := range unclaimedOf(byName[s.Name], r.claimed) {
			if compatible(s, p) {
				cands = append(cands, p)
			}
		}
		if len(cands) == 0 {
			continue
		}
		pick := preferActive(cands)
		if len(pick) > 1 {
			warnTie("name", s, pick)
		}
		r.claim(i, pick[0], MatchName, 0)
	}
}

func (r *run) matchGuaranteed(scraped []roster.ScrapedMember) {
	for _, i := range r.joinsByName(scraped) {
		s := scraped[i]
		if s.JoinDate == "" {
			continue
		}
		joined := roster.JoinTimestamp(s.JoinDate, time.Time{})

		var cands []*roster.Member
		for _, p := range r.prev {
			if r.claimed[p.ID] || !compatible(s, p) {
				continue
			}
			if p.Level == s.Level && !p.LastJoinDate.IsZero() && roster.SameDate(p.LastJoinDate, joined) {
				cands = append(cands, p)
			}
		}
		if len(cands) == 0 {
			continue
		}
		if len(cands) > 1 {
			warnTie("guaranteed rename", s, cands)
		}
		slog.Info("guaranteed rename", "old", cands[0].Name, "new", s.Name, "member", cands[0].ID)
		r.claim(i, cands[0], MatchGuaranteed, 0)
	}
}

// pair is one (row, departure) combination considered for a scored rename.
type pair struct {
	row    int
	member *roster.Member
	score  float64
	within bool
	reason string
}

func (r *run) matchScored(scraped []roster.ScrapedMember, baseline roster.Snapshot, cfg Config, ts time.Time) []roster.PendingRename {
	joins := r.joinsByName(scraped)

	// Only members who were on the roster until this sync can have been
	// renamed in the meantime.
	var fresh []*roster.Member
	for _, p := range r.prev {
		if !r.claimed[p.ID] && !p.Departed() {
			fresh = append(fresh, p)
		}
	}
	if len(joins) == 0 || len(fresh) == 0 {
		return []roster.PendingRename{}
	}

	var pairs []pair
	for _, i := range joins {
		s := scraped[i]
		for _, p := range fresh {
			if !compatible(s, p) {
				continue
			}
			base, ok := baseline[p.Name]
			if !ok || !s.HasCounters() {
				pairs = append(pairs, pair{row: i, member: p, score: -1, reason: roster.ReasonMissingStats})
				continue
			}
			score, within := cfg.score(s, base)
			pairs = append(pairs, pair{row: i, member: p, score: score, within: within, reason: roster.ReasonNoCandidate})
		}
	}

	accepted := make([]pair, 0, len(pairs))
	for _, p := range pairs {
		if p.within {
			accepted = append(accepted, p)
		}
	}
	sort.SliceStable(accepted, func(a, b int) bool {
		pa, pb := accepted[a], accepted[b]
		if pa.score != pb.score {
			return pa.score < pb.score
		}
		if pa.member.Name != pb.member.Name {
			return pa.member.Name < pb.member.Name
		}
		return scraped[pa.row].Name < scraped[pb.row].Name
	})
	for _, p := range accepted {
		if r.assigned[p.row] || r.claimed[p.member.ID] {
			continue
		}
		slog.Info("scored rename",
			"old", p.member.Name,
			"new", scraped[p.row].Name,
			"member", p.member.ID,
			"score", p.score,
		)
		r.claim(p.row, p.member, MatchScored, p.score)
	}

	pending := []roster.PendingRename{}
	for _, p := range pairs {
		if r.assigned[p.row] || r.claimed[p.member.ID] {
			continue
		}
		pending = append(pending, roster.PendingRename{
			OldName:   p.member.Name,
			NewName:   scraped[p.row].Name,
			OldID:     p.member.ID,
			Reason:    p.reason,
			Notes:     cfg.describe(scraped[p.row], baseline[p.member.Name], p.reason),
			Matched:   false,
			Score:     p.score,
			Timestamp: ts.UTC(),
		})
	}
	return pending
}

// joinsByName returns unassigned row indexes ordered by row name.
func (r *run) joinsByName(scraped []roster.ScrapedMember) []int {
	var idx []int
	for i := range scraped {
		if !r.assigned[i] {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return scraped[idx[a]].Name < scraped[idx[b]].Name })
	return idx
}

// score returns the distance between a scraped row and a departed
// member's last counters, and whether the pair is within tolerance.
// Each component is normalised by its tolerance, so a score of 3 sits
// exactly on every boundary.
func (c Config) score(s roster.ScrapedMember, base roster.Stats) (float64, bool) {
	dh := math.Abs(float64(*s.Helps - base.Helps))
	dr := relDiff(*s.Resources, base.Resources)
	di := relDiff(*s.Isotopes, base.Isotopes)

	within := dh <= float64(c.HelpsTolerance) && dr <= c.ResourceTolerance && di <= c.IsotopeTolerance
	return ratio(dh, float64(c.HelpsTolerance)) + ratio(dr, c.ResourceTolerance) + ratio(di, c.IsotopeTolerance), within
}

func (c Config) describe(s roster.ScrapedMember, base roster.Stats, reason string) string {
	if reason == roster.ReasonMissingStats {
		return "counters unavailable for one side of the pair"
	}
	return fmt.Sprintf("helps %d vs %d (tolerance %d); rss %d vs %d; iso %d vs %d (tolerance %.0f%%/%.0f%%)",
		*s.Helps, base.Helps, c.HelpsTolerance,
		*s.Resources, base.Resources,
		*s.Isotopes, base.Isotopes,
		c.ResourceTolerance*100, c.IsotopeTolerance*100)
}

// relDiff is |a-b| relative to the larger magnitude; two zeros are equal.
func relDiff(a, b int64) float64 {
	hi := math.Max(math.Abs(float64(a)), math.Abs(float64(b)))
	if hi == 0 {
		return 0
	}
	return math.Abs(float64(a-b)) / hi
}

func ratio(v, tol float64) float64 {
	if tol == 0 {
		if v == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return v / tol
}

// compatible rejects pairs that carry two different player ids.
func compatible(s roster.ScrapedMember, p *roster.Member) bool {
	return s.PlayerID == "" || p.PlayerID == "" || string(s.PlayerID) == p.PlayerID
}

func unclaimedOf(ms []*roster.Member, claimed map[string]bool) []*roster.Member {
	var out []*roster.Member
	for _, m := range ms {
		if !claimed[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// preferActive narrows cands to active members when any exist.
func preferActive(cands []*roster.Member) []*roster.Member {
	var active []*roster.Member
	for _, c := range cands {
		if !c.Departed() {
			active = append(active, c)
		}
	}
	if len(active) > 0 {
		return active
	}
	return cands
}

func sortedMembers(ms map[string]*roster.Member) []*roster.Member {
	out := make([]*roster.Member, 0, len(ms))
	for _, m := range ms {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func warnTie(pass string, s roster.ScrapedMember, cands []*roster.Member) {
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Name + "/" + c.ID
	}
	slog.Warn("multiple identities claim one roster row, using first by name",
		"pass", pass,
		"row", s.Name,
		"candidates", names,
	)
}
