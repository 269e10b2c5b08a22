// Package detect classifies roster transitions between two syncs.
//
// Detect is pure: it compares the stored members before the sync with
// the matched members after it and returns typed events without touching
// either map. Applying the events is the ledger's job.
package detect

import (
	"sort"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// Input is one sync's before and after view, both keyed by stable id.
//
// Previous holds every stored member, departed ones included. Current
// holds only the members present in the scrape, already carrying their
// scraped name, rank and level. JoinedAt gives each current member's
// join timestamp as synthesized from the scrape; missing entries fall
// back to At, the scrape timestamp.
type Input struct {
	Previous map[string]*roster.Member
	Current  map[string]*roster.Member
	JoinedAt map[string]time.Time
	At       time.Time
}

// Change is one detected event for one member.
type Change struct {
	MemberID string
	Name     string
	Event    roster.Event
}

// Detect returns every transition, grouped by kind in roster.Kinds order
// and by member name within a kind.
func Detect(in Input) []Change {
	at := in.At.UTC()
	var out []Change
	add := func(m *roster.Member, e roster.Event) {
		out = append(out, Change{MemberID: m.ID, Name: m.Name, Event: e})
	}

	for id, cur := range in.Current {
		prev, existed := in.Previous[id]
		if !existed {
			add(cur, &roster.Join{Timestamp: in.joinedAt(id, at)})
			continue
		}

		if leave, ok := prev.LastEvent().(*roster.Leave); ok {
			ts := in.joinedAt(id, at)
			if ts.Before(leave.Timestamp) {
				ts = at
			}
			add(cur, &roster.Rejoin{Timestamp: ts, LastLeave: *leave})
		}

		if prev.Name != cur.Name {
			add(cur, &roster.Rename{Timestamp: at, OldName: prev.Name, NewName: cur.Name})
		}

		switch roster.CompareRanks(cur.Rank, prev.Rank) {
		case 1:
			add(cur, &roster.Promotion{Timestamp: at, OldRank: prev.Rank, NewRank: cur.Rank})
		case -1:
			add(cur, &roster.Demotion{Timestamp: at, OldRank: prev.Rank, NewRank: cur.Rank})
		}

		if cur.Level > prev.Level {
			add(cur, &roster.LevelUp{Timestamp: at, OldLevel: prev.Level, NewLevel: cur.Level})
		}
	}

	for id, prev := range in.Previous {
		if _, present := in.Current[id]; present || prev.Departed() {
			continue
		}
		add(prev, &roster.Leave{Timestamp: at, Rank: prev.Rank, Level: prev.Level})
	}

	sortChanges(out)
	if out == nil {
		out = []Change{}
	}
	return out
}

func (in Input) joinedAt(id string, fallback time.Time) time.Time {
	if ts, ok := in.JoinedAt[id]; ok && !ts.IsZero() {
		return ts.UTC()
	}
	return fallback
}

var kindRank = func() map[roster.EventKind]int {
	m := map[roster.EventKind]int{}
	for i, k := range roster.Kinds {
		m[k] = i
	}
	return m
}()

func sortChanges(cs []Change) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if ka, kb := kindRank[a.Event.Kind()], kindRank[b.Event.Kind()]; ka != kb {
			return ka < kb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.MemberID < b.MemberID
	})
}

// Count returns how many changes of each kind are in cs.
func Count(cs []Change) map[roster.EventKind]int {
	out := map[roster.EventKind]int{}
	for _, c := range cs {
		out[c.Event.Kind()]++
	}
	return out
}
