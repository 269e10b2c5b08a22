// Package delta computes contribution gains between two snapshots.
//
// Compute returns raw differences, which can be negative when an upstream
// counter resets. Display code calls Clamp for "gained since" semantics;
// the raw values stay available for anything that needs them.
package delta

import (
	"sort"

	"github.com/roach88/rollcall/internal/roster"
)

// Delta is the change in one member's tracked counters.
type Delta struct {
	Helps          int64 `json:"helps"`
	Resources      int64 `json:"rss"`
	Isotopes       int64 `json:"iso"`
	ResourcesMined int64 `json:"resources_mined"`
}

// Compute returns current minus baseline for every name in current. A
// name missing from baseline is measured against zero.
func Compute(current, baseline roster.Snapshot) map[string]Delta {
	out := make(map[string]Delta, len(current))
	for name, cur := range current {
		base := baseline[name]
		out[name] = Delta{
			Helps:          cur.Helps - base.Helps,
			Resources:      cur.Resources - base.Resources,
			Isotopes:       cur.Isotopes - base.Isotopes,
			ResourcesMined: cur.ResourcesMined - base.ResourcesMined,
		}
	}
	return out
}

// Clamp floors every field at zero.
func (d Delta) Clamp() Delta {
	return Delta{
		Helps:          max(d.Helps, 0),
		Resources:      max(d.Resources, 0),
		Isotopes:       max(d.Isotopes, 0),
		ResourcesMined: max(d.ResourcesMined, 0),
	}
}

// IsZero reports whether nothing changed.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Add sums two deltas.
func (d Delta) Add(o Delta) Delta {
	return Delta{
		Helps:          d.Helps + o.Helps,
		Resources:      d.Resources + o.Resources,
		Isotopes:       d.Isotopes + o.Isotopes,
		ResourcesMined: d.ResourcesMined + o.ResourcesMined,
	}
}

// Entry is one member's clamped delta.
type Entry struct {
	Name  string
	Delta Delta
}

// Field selects the counter a ranking orders by.
type Field int

const (
	ByHelps Field = iota
	ByResources
	ByIsotopes
	ByResourcesMined
)

func (f Field) value(d Delta) int64 {
	switch f {
	case ByResources:
		return d.Resources
	case ByIsotopes:
		return d.Isotopes
	case ByResourcesMined:
		return d.ResourcesMined
	default:
		return d.Helps
	}
}

// Ranked clamps every delta and orders entries by field, descending, then
// by name. Zero-gain entries are kept.
func Ranked(deltas map[string]Delta, field Field) []Entry {
	out := make([]Entry, 0, len(deltas))
	for name, d := range deltas {
		out = append(out, Entry{Name: name, Delta: d.Clamp()})
	}
	sort.Slice(out, func(i, j int) bool {
		vi, vj := field.value(out[i].Delta), field.value(out[j].Delta)
		if vi != vj {
			return vi > vj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Total sums the clamped deltas.
func Total(deltas map[string]Delta) Delta {
	var t Delta
	for _, d := range deltas {
		t = t.Add(d.Clamp())
	}
	return t
}
