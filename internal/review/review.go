// Package review resolves pending rename reviews raised by syncs.
//
// Approving a review merges the departed member into the newly joined
// one, using the same splice the matcher applies to guaranteed renames.
// Declining a review discards it and leaves both members as they are.
package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/rollcall/internal/identity"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// Item is one pending review together with the file holding it.
type Item struct {
	File string
	roster.PendingRename
}

// Key identifies a review within an alliance.
type Key struct {
	File    string
	OldName string
	NewName string
}

func (k Key) matches(p roster.PendingRename) bool {
	return p.OldName == k.OldName && p.NewName == k.NewName
}

// Outcome describes an approved merge.
type Outcome struct {
	Survivor *roster.Member
	Rename   *roster.Rename
	// Cleared counts review entries removed, including other entries
	// made moot by the merge.
	Cleared int
}

// Service resolves reviews against a store.
type Service struct {
	store *store.Store
	clock roster.Clock
}

// NewService creates a review service.
func NewService(st *store.Store, clock roster.Clock) *Service {
	if clock == nil {
		clock = roster.SystemClock{}
	}
	return &Service{store: st, clock: clock}
}

// List returns every open review for the alliance, oldest file first.
func (s *Service) List(allianceID string) ([]Item, error) {
	files, err := s.store.ListPending(allianceID)
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, f := range files {
		for _, p := range f.Entries {
			out = append(out, Item{File: f.Name, PendingRename: p})
		}
	}
	return out, nil
}

func (s *Service) find(allianceID string, k Key) (roster.PendingRename, error) {
	items, err := s.List(allianceID)
	if err != nil {
		return roster.PendingRename{}, err
	}
	for _, it := range items {
		if it.File == k.File && k.matches(it.PendingRename) {
			return it.PendingRename, nil
		}
	}
	return roster.PendingRename{}, fmt.Errorf("review %s -> %s in %s: %w", k.OldName, k.NewName, k.File, roster.ErrNotFound)
}

// Approve confirms that the review's old and new names are one player
// and merges them. The old identity survives; the new one is absorbed.
// Other open reviews naming either member are cleared.
func (s *Service) Approve(ctx context.Context, allianceID string, k Key) (Outcome, error) {
	p, err := s.find(allianceID, k)
	if err != nil {
		return Outcome{}, err
	}

	st := s.store.LoadState(allianceID)
	oldID, err := resolve(st, p.OldID, p.OldName)
	if err != nil {
		return Outcome{}, fmt.Errorf("approve review: old member: %w", err)
	}
	newID, err := resolve(st, p.NewID, p.NewName)
	if err != nil {
		return Outcome{}, fmt.Errorf("approve review: new member: %w", err)
	}

	rename, err := identity.Merge(st, oldID, newID, s.clock.Now())
	if err != nil {
		return Outcome{}, fmt.Errorf("approve review: %w", err)
	}
	if err := s.store.SaveState(st); err != nil {
		return Outcome{}, fmt.Errorf("approve review: %w", err)
	}

	survivor := st.Members[oldID]
	if rename != nil {
		rec := store.EventRecord{AllianceID: allianceID, MemberID: oldID, MemberName: survivor.Name, Event: rename}
		if _, err := s.store.AppendEvents(ctx, []store.EventRecord{rec}); err != nil {
			slog.Warn("event stream append failed, run replay to rebuild", "alliance", allianceID, "error", err)
		}
	}

	cleared, err := s.clear(allianceID, func(q roster.PendingRename) bool {
		return q.OldName == p.OldName || q.NewName == p.NewName ||
			(q.OldID != "" && q.OldID == oldID) || (q.NewID != "" && q.NewID == newID)
	})
	if err != nil {
		return Outcome{}, err
	}

	slog.Info("rename review approved",
		"alliance", allianceID,
		"member", survivor.Name,
		"old_name", p.OldName,
		"cleared", cleared,
	)
	return Outcome{Survivor: survivor, Rename: rename, Cleared: cleared}, nil
}

// Decline discards a review. Both members stay distinct.
func (s *Service) Decline(allianceID string, k Key) error {
	n, err := s.store.RemovePending(allianceID, k.File, k.matches)
	if err != nil {
		return fmt.Errorf("decline review: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("decline review %s -> %s: %w", k.OldName, k.NewName, roster.ErrNotFound)
	}
	slog.Info("rename review declined", "alliance", allianceID, "old_name", k.OldName, "new_name", k.NewName)
	return nil
}

func (s *Service) clear(allianceID string, match func(roster.PendingRename) bool) (int, error) {
	files, err := s.store.ListPending(allianceID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, f := range files {
		n, err := s.store.RemovePending(allianceID, f.Name, match)
		if err != nil {
			return total, fmt.Errorf("clear reviews: %w", err)
		}
		total += n
	}
	return total, nil
}

// resolve prefers the recorded id and falls back to a name lookup for
// reviews written without ids.
func resolve(st *roster.AllianceState, id, name string) (string, error) {
	if id != "" {
		if _, ok := st.Members[id]; ok {
			return id, nil
		}
	}
	m, err := st.FindMember(name)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}
