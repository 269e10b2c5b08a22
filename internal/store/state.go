package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// LoadState returns the alliance state document. A missing or malformed
// document yields an empty state; this never fails. A document that does
// not decode is first moved aside to <file>.corrupt-<unix seconds> so the
// next save cannot overwrite it.
func (s *Store) LoadState(allianceID string) *roster.AllianceState {
	path := s.statePath(allianceID)
	var st roster.AllianceState
	err := ReadJSON(path, &st)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return roster.NewAllianceState(allianceID)
	default:
		slog.Warn("alliance state unreadable, starting empty",
			"alliance", allianceID,
			"error", err,
			"moved_to", quarantine(path, err),
		)
		return roster.NewAllianceState(allianceID)
	}

	if st.AllianceID == "" {
		st.AllianceID = allianceID
	}
	st.Normalize()
	return &st
}

// SaveState atomically replaces the alliance state document.
func (s *Store) SaveState(st *roster.AllianceState) error {
	if st.AllianceID == "" {
		return fmt.Errorf("save state: empty alliance id: %w", roster.ErrInvalidInput)
	}
	if err := WriteJSONAtomic(s.statePath(st.AllianceID), st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadCurrent returns the "current" contribution snapshot, empty when
// missing or malformed. A malformed snapshot is moved aside like a
// malformed state document.
func (s *Store) LoadCurrent(allianceID string) roster.Snapshot {
	path := s.currentPath(allianceID)
	snap := roster.Snapshot{}
	err := ReadJSON(path, &snap)
	switch {
	case err == nil:
		if snap == nil {
			return roster.Snapshot{}
		}
		return snap
	case errors.Is(err, fs.ErrNotExist):
	default:
		slog.Warn("current contributions unreadable, starting empty",
			"alliance", allianceID,
			"error", err,
			"moved_to", quarantine(path, err),
		)
	}
	return roster.Snapshot{}
}

// SaveCurrent atomically replaces the "current" contribution snapshot.
func (s *Store) SaveCurrent(allianceID string, snap roster.Snapshot) error {
	if snap == nil {
		snap = roster.Snapshot{}
	}
	if err := WriteJSONAtomic(s.currentPath(allianceID), snap); err != nil {
		return fmt.Errorf("save current contributions: %w", err)
	}
	return nil
}

func (s *Store) statePath(allianceID string) string {
	return filepath.Join(s.root, dirState, segment(allianceID)+".json")
}

func (s *Store) currentPath(allianceID string) string {
	return filepath.Join(s.root, dirContributions, segment(allianceID)+".json")
}

// quarantine moves a malformed document out of the way and returns its
// new path. Other read failures leave the file alone and return "".
func quarantine(path string, readErr error) string {
	if !errors.Is(readErr, ErrMalformed) {
		return ""
	}
	dst := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, dst); err != nil {
		slog.Error("could not move malformed document aside", "path", path, "error", err)
		return ""
	}
	return dst
}
