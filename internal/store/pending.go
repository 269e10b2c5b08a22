package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// PendingFile is one per-sync file of pending rename reviews.
type PendingFile struct {
	Name      string
	Timestamp time.Time
	Entries   []roster.PendingRename
}

// SavePending writes the reviews raised by the sync at ts. An empty list
// writes nothing.
func (s *Store) SavePending(allianceID string, ts time.Time, entries []roster.PendingRename) error {
	if len(entries) == 0 {
		return nil
	}
	name := pendingFileName(allianceID, ts)
	if err := WriteJSONAtomic(filepath.Join(s.root, dirPending, name), entries); err != nil {
		return fmt.Errorf("save pending renames: %w", err)
	}
	return nil
}

// ListPending returns every pending review file for the alliance, oldest
// first. Unreadable files are skipped.
func (s *Store) ListPending(allianceID string) ([]PendingFile, error) {
	dir := filepath.Join(s.root, dirPending)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []PendingFile{}, nil
		}
		return nil, fmt.Errorf("list pending renames: %w", err)
	}

	prefix := segment(allianceID) + "_"
	files := []PendingFile{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		ts, err := time.Parse(SnapshotLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"))
		if err != nil {
			continue
		}
		var list []roster.PendingRename
		if err := ReadJSON(filepath.Join(dir, name), &list); err != nil {
			continue
		}
		files = append(files, PendingFile{Name: name, Timestamp: ts.UTC(), Entries: list})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Timestamp.Before(files[j].Timestamp) })
	return files, nil
}

// RemovePending drops every entry in the named file for which match
// returns true and returns how many were removed. A file left empty is
// deleted.
func (s *Store) RemovePending(allianceID, fileName string, match func(roster.PendingRename) bool) (int, error) {
	if filepath.Base(fileName) != fileName || !strings.HasPrefix(fileName, segment(allianceID)+"_") {
		return 0, fmt.Errorf("remove pending rename: bad file %q: %w", fileName, roster.ErrInvalidInput)
	}
	path := filepath.Join(s.root, dirPending, fileName)

	var list []roster.PendingRename
	if err := ReadJSON(path, &list); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("remove pending rename: %s: %w", fileName, roster.ErrNotFound)
		}
		return 0, fmt.Errorf("remove pending rename: %w", err)
	}

	kept := make([]roster.PendingRename, 0, len(list))
	for _, p := range list {
		if !match(p) {
			kept = append(kept, p)
		}
	}
	removed := len(list) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if len(kept) == 0 {
		if err := os.Remove(path); err != nil {
			return 0, fmt.Errorf("remove pending rename: %w", err)
		}
		return removed, nil
	}
	if err := WriteJSONAtomic(path, kept); err != nil {
		return 0, fmt.Errorf("remove pending rename: %w", err)
	}
	return removed, nil
}

func pendingFileName(allianceID string, ts time.Time) string {
	return segment(allianceID) + "_" + ts.UTC().Format(SnapshotLayout) + ".json"
}
