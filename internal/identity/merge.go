package identity

import (
	"fmt"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// Merge folds the member absorbedID into survivorID after an operator
// confirmed they are the same player.
//
// The survivor keeps its stable id and original join date and takes the
// absorbed member's current name, rank, level and power, and the later
// of the two last-join dates. Its former name and the absorbed member's
// former names are added to PreviousNames. The survivor's history is
// extended with a Rename stamped at ts and then the absorbed member's
// events. The absorbed member is then removed from the state; its
// history lives on in the survivor.
//
// Merge returns the Rename event, or nil when the names already agree.
func Merge(st *roster.AllianceState, survivorID, absorbedID string, ts time.Time) (*roster.Rename, error) {
	if survivorID == absorbedID {
		return nil, fmt.Errorf("merge %s into itself: %w", survivorID, roster.ErrInvalidInput)
	}
	survivor, ok := st.Members[survivorID]
	if !ok {
		return nil, fmt.Errorf("merge: member %s: %w", survivorID, roster.ErrNotFound)
	}
	absorbed, ok := st.Members[absorbedID]
	if !ok {
		return nil, fmt.Errorf("merge: member %s: %w", absorbedID, roster.ErrNotFound)
	}
	if survivor.PlayerID != "" && absorbed.PlayerID != "" && survivor.PlayerID != absorbed.PlayerID {
		return nil, fmt.Errorf("merge: %s and %s carry different player ids: %w",
			survivor.Name, absorbed.Name, roster.ErrInvalidInput)
	}

	oldName := survivor.Name
	survivor.Name = absorbed.Name
	survivor.AddPreviousName(oldName)
	for _, n := range absorbed.PreviousNames {
		survivor.AddPreviousName(n)
	}

	survivor.Rank = absorbed.Rank
	survivor.Level = absorbed.Level
	survivor.Power = absorbed.Power
	if survivor.PlayerID == "" {
		survivor.PlayerID = absorbed.PlayerID
	}
	if absorbed.LastJoinDate.After(survivor.LastJoinDate) {
		survivor.LastJoinDate = absorbed.LastJoinDate
	}

	var rename *roster.Rename
	if oldName != absorbed.Name {
		rename = &roster.Rename{Timestamp: ts.UTC(), OldName: oldName, NewName: absorbed.Name}
		survivor.Append(rename)
	}

	// The absorbed history goes last so its final event still decides
	// whether the merged member is active.
	survivor.Events = append(survivor.Events, absorbed.Events...)

	delete(st.Members, absorbedID)
	return rename, nil
}
