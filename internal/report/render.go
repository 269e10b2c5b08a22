package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/delta"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

const (
	timeLayout = "2006-01-02 15:04"
	dateLayout = time.DateOnly
)

// maxChangeRows caps the recent-changes table.
const maxChangeRows = 20

var periodTitles = map[delta.Period]string{
	delta.Interim: "⏱️ **Interim Service Record (Today So Far)**",
	delta.Daily:   "📊 **Daily Service Record**",
	delta.Weekly:  "📈 **Weekly Service Record**",
}

type category struct {
	title string
	field delta.Field
	value func(delta.Delta) int64
}

var categories = []category{
	{"Helps", delta.ByHelps, func(d delta.Delta) int64 { return d.Helps }},
	{"Resources", delta.ByResources, func(d delta.Delta) int64 { return d.Resources }},
	{"Isotopes", delta.ByIsotopes, func(d delta.Delta) int64 { return d.Isotopes }},
	{"Resources Mined", delta.ByResourcesMined, func(d delta.Delta) int64 { return d.ResourcesMined }},
}

// Names maps a stored member name to the name shown in output.
type Names func(name string) string

func (n Names) show(name string) string {
	if n == nil {
		return name
	}
	return n(name)
}

// RenderServiceReport renders the contribution report for a window: one
// table per counter listing the topN members with a positive gain.
func RenderServiceReport(alliance string, w delta.Window, topN int, generated time.Time, names Names) string {
	var b strings.Builder
	title, ok := periodTitles[w.Period]
	if !ok {
		title = "📊 **Service Record**"
	}
	b.WriteString(title + "\n")
	fmt.Fprintf(&b, "**Alliance:** %s\n", alliance)
	fmt.Fprintf(&b, "**Window:** %s\n", windowLabel(w.Range))
	fmt.Fprintf(&b, "**Generated:** %s UTC\n", generated.UTC().Format(timeLayout))
	if !w.HasBaseline {
		b.WriteString("_No snapshot precedes this window; gains are counted from the first one inside it._\n")
	}

	deltas := w.Deltas()
	shown := false
	for _, c := range categories {
		var rows [][]string
		for _, e := range delta.Ranked(deltas, c.field) {
			v := c.value(e.Delta)
			if v <= 0 || len(rows) >= topN {
				break
			}
			rows = append(rows, []string{names.show(e.Name), strconv.FormatInt(v, 10)})
		}
		if len(rows) == 0 {
			continue
		}
		shown = true
		fmt.Fprintf(&b, "\n**%s**\n%s\n", c.title, codeBlock(Table([]string{"Officer", c.title}, rows)))
	}
	if !shown {
		b.WriteString("\n_No contributions recorded in this window._\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func windowLabel(r delta.Range) string {
	if r.Open {
		return fmt.Sprintf("since %s UTC", r.Start.UTC().Format(timeLayout))
	}
	return fmt.Sprintf("%s to %s UTC", r.Start.UTC().Format(timeLayout), r.End.UTC().Format(timeLayout))
}

// SortRoster orders members by rank (highest first), then level
// (highest first), then name case-insensitively.
func SortRoster(ms []*roster.Member) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if ra, rb := roster.RankValue(a.Rank), roster.RankValue(b.Rank); ra != rb {
			return ra > rb
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

// RenderRoster renders the active crew manifest.
func RenderRoster(alliance string, active []*roster.Member, names Names) string {
	if len(active) == 0 {
		return fmt.Sprintf("Scrappy reports an empty crew manifest for %s, Captain.", alliance)
	}
	ms := append([]*roster.Member(nil), active...)
	SortRoster(ms)

	rows := make([][]string, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []string{
			names.show(m.Name),
			m.Rank,
			strconv.Itoa(m.Level),
			strconv.FormatInt(m.Power, 10),
			date(m.LastJoinDate),
			date(m.OriginalJoinDate),
		})
	}
	return fmt.Sprintf("📋 Crew Manifest: %s (%d officers)\n%s",
		alliance, len(ms),
		codeBlock(Table([]string{"Name", "Rank", "Level", "Power", "Last Join", "Orig Join"}, rows)))
}

func date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}

// Describe renders one event as a short sentence.
func Describe(e roster.Event) string {
	switch e := e.(type) {
	case *roster.Join:
		return "Joined the alliance"
	case *roster.Rejoin:
		return "Rejoined the alliance"
	case *roster.Leave:
		return fmt.Sprintf("Left the alliance (%s, level %d)", orDash(e.Rank), e.Level)
	case *roster.Rename:
		return fmt.Sprintf("Renamed from %s to %s", e.OldName, e.NewName)
	case *roster.Promotion:
		return fmt.Sprintf("Promoted from %s to %s", e.OldRank, e.NewRank)
	case *roster.Demotion:
		return fmt.Sprintf("Demoted from %s to %s", e.OldRank, e.NewRank)
	case *roster.LevelUp:
		return fmt.Sprintf("Level up %d ➜ %d", e.OldLevel, e.NewLevel)
	default:
		return fmt.Sprintf("Event [%T]", e)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RenderRecord renders one member's service record.
func RenderRecord(m *roster.Member, names Names) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📘 Service Record: %s\n", names.show(m.Name))
	fmt.Fprintf(&b, "Current Rank: %s\n", orDash(m.Rank))
	fmt.Fprintf(&b, "Current Level: %d\n", m.Level)
	status := "Active"
	if m.Departed() {
		status = "Departed"
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Original Join: %s\n", date(m.OriginalJoinDate))
	fmt.Fprintf(&b, "Last Join: %s\n", date(m.LastJoinDate))
	if len(m.PreviousNames) > 0 {
		fmt.Fprintf(&b, "Previous Names: %s\n", strings.Join(m.PreviousNames, ", "))
	}

	events := m.SortedEvents()
	if len(events) == 0 {
		b.WriteString("\nNo recorded events yet.")
		return b.String()
	}
	b.WriteString("\nEvents:")
	for _, e := range events {
		fmt.Fprintf(&b, "\n%s UTC  %s", e.At().UTC().Format(timeLayout), Describe(e))
	}
	return b.String()
}

// RenderChanges renders stream records, newest first, capped at
// maxChangeRows rows. label describes the window, e.g. "in the last 30
// days".
func RenderChanges(alliance, label string, records []store.EventRecord, names Names) string {
	head := fmt.Sprintf("🧑‍🚀 **%s**: %d changes %s", alliance, len(records), label)
	if len(records) == 0 {
		return head + "\n_No manifest changes in this window._"
	}

	recs := append([]store.EventRecord(nil), records...)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Event.At().After(recs[j].Event.At())
	})
	if len(recs) > maxChangeRows {
		recs = recs[:maxChangeRows]
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.Event.At().UTC().Format(timeLayout),
			names.show(r.MemberName),
			Describe(r.Event),
		})
	}
	return head + "\n" + codeBlock(Table([]string{"Timestamp", "Officer", "Change"}, rows))
}

// RenderTop renders the topN contributors of a window ranked by helps.
func RenderTop(alliance, label string, w delta.Window, topN int, names Names) string {
	var rows [][]string
	for _, e := range delta.Ranked(w.Deltas(), delta.ByHelps) {
		if len(rows) >= topN {
			break
		}
		if e.Delta.IsZero() {
			continue
		}
		rows = append(rows, []string{
			names.show(e.Name),
			strconv.FormatInt(e.Delta.Helps, 10),
			strconv.FormatInt(e.Delta.Resources, 10),
			strconv.FormatInt(e.Delta.Isotopes, 10),
		})
	}
	head := fmt.Sprintf("🏅 **%s**: top contributors %s", alliance, label)
	if len(rows) == 0 {
		return head + "\n_No contributions recorded in this window._"
	}
	return head + "\n" + codeBlock(Table([]string{"Officer", "Helps", "Resources", "Isotopes"}, rows))
}

// RenderSummary renders roster size, average level and the rank
// distribution of the active members.
func RenderSummary(st *roster.AllianceState, alliance string) string {
	active := st.ActiveMembers()
	if len(active) == 0 {
		return fmt.Sprintf("Scrappy reports no active crew for %s, Captain.", alliance)
	}

	total := 0
	ranks := map[string]int{}
	for _, m := range active {
		total += m.Level
		ranks[orDash(m.Rank)]++
	}
	names := make([]string, 0, len(ranks))
	for r := range ranks {
		names = append(names, r)
	}
	sort.Slice(names, func(i, j int) bool {
		if vi, vj := roster.RankValue(names[i]), roster.RankValue(names[j]); vi != vj {
			return vi > vj
		}
		return names[i] < names[j]
	})

	var b strings.Builder
	b.WriteString("======== Alliance Operational Summary ========\n")
	fmt.Fprintf(&b, "Alliance: %s\n\n", alliance)
	fmt.Fprintf(&b, "Roster Size   : %d active officers\n", len(active))
	fmt.Fprintf(&b, "Departed      : %d on record\n", len(st.Members)-len(active))
	fmt.Fprintf(&b, "Average Level : %.1f\n\n", float64(total)/float64(len(active)))
	b.WriteString("Rank Distribution:")
	for _, r := range names {
		fmt.Fprintf(&b, "\n  • %s: %d", r, ranks[r])
	}
	return b.String()
}

// RenderPulls renders the pull history, newest first.
func RenderPulls(alliance string, history []roster.PullRecord) string {
	if len(history) == 0 {
		return fmt.Sprintf("No pulls recorded for %s yet.", alliance)
	}
	rows := make([][]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		p := history[i]
		result := "ok"
		if !p.Success {
			result = "failed"
		}
		changed := "-"
		if p.DataChanged != nil {
			changed = "no"
			if *p.DataChanged {
				changed = "yes"
			}
		}
		rows = append(rows, []string{
			p.Timestamp.UTC().Format(timeLayout),
			orDash(p.Source),
			result,
			changed,
			p.Error,
		})
	}
	return fmt.Sprintf("🛰️ Pull history: %s\n%s", alliance,
		codeBlock(Table([]string{"Time", "Source", "Result", "Changed", "Error"}, rows)))
}
