package roster

import (
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Member is one alliance participant.
//
// ID is assigned once by the process and never changes. PlayerID is the
// optional site-provided identifier and, when present, is the strongest
// matching key. OriginalJoinDate is set when the member is created and
// is never overwritten; LastJoinDate moves only on join or rejoin.
type Member struct {
	ID               string    `json:"id"`
	PlayerID         string    `json:"player_id,omitempty"`
	Name             string    `json:"name"`
	Rank             string    `json:"rank"`
	Level            int       `json:"level"`
	Power            int64     `json:"power"`
	OriginalJoinDate time.Time `json:"original_join_date"`
	LastJoinDate     time.Time `json:"last_join_date"`
	PreviousNames    []string  `json:"previous_names"`
	Events           EventLog  `json:"events"`
}

// LastEvent returns the most recently appended event, or nil.
func (m *Member) LastEvent() Event {
	if len(m.Events) == 0 {
		return nil
	}
	return m.Events[len(m.Events)-1]
}

// Departed reports whether the last stored event is a leave.
func (m *Member) Departed() bool {
	_, ok := m.LastEvent().(*Leave)
	return ok
}

// Append adds an event to the end of the service history.
func (m *Member) Append(e Event) {
	m.Events = append(m.Events, e)
}

// AddPreviousName records name as a former display name. It returns false
// when the name was already recorded or equals the current name.
func (m *Member) AddPreviousName(name string) bool {
	if name == "" || name == m.Name || slices.Contains(m.PreviousNames, name) {
		return false
	}
	m.PreviousNames = append(m.PreviousNames, name)
	return true
}

// SortedEvents returns a copy of the history ordered by timestamp. Storage
// order is left untouched; ties keep their storage order.
func (m *Member) SortedEvents() []Event {
	out := slices.Clone([]Event(m.Events))
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At().Before(out[j].At())
	})
	return out
}

// Clone returns a deep copy. Events are immutable values behind pointers,
// so the slice is copied but the events are shared.
func (m *Member) Clone() *Member {
	c := *m
	c.PreviousNames = slices.Clone(m.PreviousNames)
	c.Events = slices.Clone(m.Events)
	if c.PreviousNames == nil {
		c.PreviousNames = []string{}
	}
	if c.Events == nil {
		c.Events = EventLog{}
	}
	return &c
}

// KnownAs reports whether name is the member's current or a former name,
// compared case-insensitively.
func (m *Member) KnownAs(name string) bool {
	if strings.EqualFold(m.Name, name) {
		return true
	}
	for _, prev := range m.PreviousNames {
		if strings.EqualFold(prev, name) {
			return true
		}
	}
	return false
}

// NormalizeName trims surrounding whitespace and applies Unicode NFC so
// visually identical names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// JoinTimestamp combines a date-only join date (YYYY-MM-DD) with the time
// of day of the scrape. An empty or unparseable date falls back to the
// scrape's own date.
func JoinTimestamp(joinDate string, scrape time.Time) time.Time {
	scrape = scrape.UTC()
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(joinDate))
	if err != nil {
		return scrape
	}
	return time.Date(d.Year(), d.Month(), d.Day(),
		scrape.Hour(), scrape.Minute(), scrape.Second(), 0, time.UTC)
}

// SameDate reports whether two instants fall on the same UTC calendar day.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
