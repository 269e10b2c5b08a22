package delta

import (
	"fmt"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// Period names a report window.
type Period string

const (
	Interim Period = "interim"
	Daily   Period = "daily"
	Weekly  Period = "weekly"
)

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case Interim, Daily, Weekly:
		return p, nil
	}
	return "", fmt.Errorf("period %q: want interim, daily or weekly: %w", s, roster.ErrInvalidInput)
}

// Range is a half-open reporting interval [Start, End). Open marks a
// window that runs up to "now" and so ends at the current snapshot.
type Range struct {
	Period Period
	Start  time.Time
	End    time.Time
	Open   bool
}

// RangeFor returns the window for p as of now, in UTC days:
//
//	interim: start of today until now
//	daily:   the previous calendar day
//	weekly:  the seven calendar days before today
func RangeFor(p Period, now time.Time) Range {
	today := midnight(now)
	switch p {
	case Daily:
		return Range{Period: p, Start: today.AddDate(0, 0, -1), End: today}
	case Weekly:
		return Range{Period: p, Start: today.AddDate(0, 0, -7), End: today}
	default:
		return Range{Period: Interim, Start: today, End: now.UTC(), Open: true}
	}
}

// LastDays returns an open window covering the n days before now.
func LastDays(n int, now time.Time) Range {
	now = now.UTC()
	return Range{Start: now.AddDate(0, 0, -n), End: now, Open: true}
}

// Since returns an open window from start until now.
func Since(start, now time.Time) Range {
	return Range{Start: start.UTC(), End: now.UTC(), Open: true}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Source is the read side of snapshot storage that windows resolve
// against.
type Source interface {
	SnapshotAtOrBefore(allianceID string, ts time.Time) (roster.StoredSnapshot, bool)
	SnapshotAtOrAfter(allianceID string, ts time.Time) (roster.StoredSnapshot, bool)
	LoadCurrent(allianceID string) roster.Snapshot
}

// closeSlack bounds how far past a closed window's end the closing
// snapshot may be taken from.
const closeSlack = 6 * time.Hour

// Window is a resolved pair of snapshots for a Range.
type Window struct {
	Range
	Baseline    roster.Snapshot
	BaselineAt  time.Time
	HasBaseline bool
	Current     roster.Snapshot
	CurrentAt   time.Time
}

// Deltas computes the raw deltas for the window.
func (w Window) Deltas() map[string]Delta {
	return Compute(w.Current, w.Baseline)
}

// Resolve picks the snapshots bounding r.
//
// The end of an open window is the current snapshot. A closed window ends
// at the first snapshot taken at or after its end, as long as it lies
// within closeSlack; otherwise the last snapshot inside the window, and
// failing that the current snapshot.
//
// The baseline is the last snapshot at or before the start. With no such
// snapshot the baseline is the end snapshot itself, so every delta is
// zero rather than the whole lifetime total.
func Resolve(src Source, allianceID string, r Range) Window {
	w := Window{Range: r}

	switch {
	case r.Open:
		w.Current, w.CurrentAt = src.LoadCurrent(allianceID), r.End
	default:
		if s, ok := src.SnapshotAtOrAfter(allianceID, r.End); ok && s.Timestamp.Sub(r.End) <= closeSlack {
			w.Current, w.CurrentAt = s.Members, s.Timestamp
		} else if s, ok := src.SnapshotAtOrBefore(allianceID, r.End); ok && s.Timestamp.After(r.Start) {
			w.Current, w.CurrentAt = s.Members, s.Timestamp
		} else {
			w.Current, w.CurrentAt = src.LoadCurrent(allianceID), r.End
		}
	}

	if s, ok := src.SnapshotAtOrBefore(allianceID, r.Start); ok {
		w.Baseline, w.BaselineAt, w.HasBaseline = s.Members, s.Timestamp, true
	} else {
		w.Baseline, w.BaselineAt = w.Current, w.CurrentAt
	}
	return w
}
