// Package ledger applies detected changes to member histories.
//
// Histories are append-only. Apply is the only place a sync adds events
// to a member, and it also maintains the fields that follow from an
// event: previous names on rename, join dates on join and rejoin.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/rollcall/internal/detect"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// Apply appends every change's event to its member in members. It fails
// without modifying anything if a change names an unknown member.
func Apply(members map[string]*roster.Member, changes []detect.Change) error {
	for _, c := range changes {
		if _, ok := members[c.MemberID]; !ok {
			return fmt.Errorf("apply %s: member %s: %w", c.Event.Kind(), c.MemberID, roster.ErrNotFound)
		}
	}

	for _, c := range changes {
		m := members[c.MemberID]
		switch e := c.Event.(type) {
		case *roster.Join:
			if m.OriginalJoinDate.IsZero() {
				m.OriginalJoinDate = e.Timestamp
			}
			m.LastJoinDate = e.Timestamp
		case *roster.Rejoin:
			m.LastJoinDate = e.Timestamp
		case *roster.Rename:
			m.AddPreviousName(e.OldName)
		case *roster.Leave, *roster.Promotion, *roster.Demotion, *roster.LevelUp:
		}
		m.Append(c.Event)
	}
	return nil
}

// Notice is one entry of the outbound notification batch.
type Notice struct {
	AllianceID   string
	AllianceName string
	MemberID     string
	Name         string
	Rank         string
	Level        int
	Event        roster.Event
}

// Notices builds the notification batch for changes, in change order.
// Member attributes are read from members after Apply.
func Notices(allianceID, allianceName string, members map[string]*roster.Member, changes []detect.Change) []Notice {
	out := make([]Notice, 0, len(changes))
	for _, c := range changes {
		n := Notice{
			AllianceID:   allianceID,
			AllianceName: allianceName,
			MemberID:     c.MemberID,
			Name:         c.Name,
			Event:        c.Event,
		}
		if m, ok := members[c.MemberID]; ok {
			n.Name, n.Rank, n.Level = m.Name, m.Rank, m.Level
		}
		out = append(out, n)
	}
	return out
}

// Records converts changes to event stream rows.
func Records(allianceID string, members map[string]*roster.Member, changes []detect.Change) []store.EventRecord {
	out := make([]store.EventRecord, 0, len(changes))
	for _, c := range changes {
		name := c.Name
		if m, ok := members[c.MemberID]; ok {
			name = m.Name
		}
		out = append(out, store.EventRecord{
			AllianceID: allianceID,
			MemberID:   c.MemberID,
			MemberName: name,
			Event:      c.Event,
		})
	}
	return out
}

// Stream is the append side of the event stream.
type Stream interface {
	AppendEvents(ctx context.Context, records []store.EventRecord) (int, error)
}

// Rebuild re-appends every event held in st to the stream. Events
// already present are skipped by the stream, so Rebuild is safe to run
// repeatedly. It returns the number of newly inserted rows.
func Rebuild(ctx context.Context, stream Stream, st *roster.AllianceState) (int, error) {
	ids := make([]string, 0, len(st.Members))
	for id := range st.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var records []store.EventRecord
	for _, id := range ids {
		m := st.Members[id]
		for _, e := range m.SortedEvents() {
			records = append(records, store.EventRecord{
				AllianceID: st.AllianceID,
				MemberID:   m.ID,
				MemberName: m.Name,
				Event:      e,
			})
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Event.At().Before(records[j].Event.At())
	})

	n, err := stream.AppendEvents(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("rebuild event stream for %s: %w", st.AllianceID, err)
	}
	return n, nil
}
