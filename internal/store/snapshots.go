package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// SnapshotLayout is the timestamp format used in historical snapshot and
// pending review file names. It sorts lexicographically in time order.
const SnapshotLayout = "20060102T150405Z"

// SaveSnapshot writes the historical snapshot for ts. Historical
// snapshots are write-once: if one already exists for ts the call
// returns an error wrapping ErrExists and leaves the file untouched.
func (s *Store) SaveSnapshot(allianceID string, ts time.Time, snap roster.Snapshot) error {
	if snap == nil {
		snap = roster.Snapshot{}
	}
	path := filepath.Join(s.historyDir(allianceID), ts.UTC().Format(SnapshotLayout)+".json")
	if err := writeJSONOnce(path, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// SnapshotAtOrBefore returns the latest historical snapshot whose
// timestamp is not after ts.
func (s *Store) SnapshotAtOrBefore(allianceID string, ts time.Time) (roster.StoredSnapshot, bool) {
	keys := s.snapshotKeys(allianceID)
	i := sort.Search(len(keys), func(i int) bool { return keys[i].After(ts) })
	if i == 0 {
		return roster.StoredSnapshot{}, false
	}
	return s.loadSnapshot(allianceID, keys, i-1, -1)
}

// SnapshotAtOrAfter returns the earliest historical snapshot whose
// timestamp is not before ts.
func (s *Store) SnapshotAtOrAfter(allianceID string, ts time.Time) (roster.StoredSnapshot, bool) {
	keys := s.snapshotKeys(allianceID)
	i := sort.Search(len(keys), func(i int) bool { return !keys[i].Before(ts) })
	if i == len(keys) {
		return roster.StoredSnapshot{}, false
	}
	return s.loadSnapshot(allianceID, keys, i, +1)
}

// SnapshotTimes lists the keys of every stored historical snapshot in
// ascending order.
func (s *Store) SnapshotTimes(allianceID string) []time.Time {
	return s.snapshotKeys(allianceID)
}

// loadSnapshot reads keys[i], stepping in direction dir past any file
// that cannot be decoded.
func (s *Store) loadSnapshot(allianceID string, keys []time.Time, i, dir int) (roster.StoredSnapshot, bool) {
	for ; i >= 0 && i < len(keys); i += dir {
		path := filepath.Join(s.historyDir(allianceID), keys[i].Format(SnapshotLayout)+".json")
		snap := roster.Snapshot{}
		if err := ReadJSON(path, &snap); err != nil {
			slog.Warn("skipping unreadable snapshot",
				"alliance", allianceID,
				"snapshot", filepath.Base(path),
				"error", err,
			)
			continue
		}
		if snap == nil {
			snap = roster.Snapshot{}
		}
		return roster.StoredSnapshot{Timestamp: keys[i], Members: snap}, true
	}
	return roster.StoredSnapshot{}, false
}

// snapshotKeys scans the alliance history directory and returns the
// parsed file timestamps in ascending order. Files whose names do not
// parse are ignored.
func (s *Store) snapshotKeys(allianceID string) []time.Time {
	entries, err := os.ReadDir(s.historyDir(allianceID))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("list snapshots failed", "alliance", allianceID, "error", err)
		}
		return []time.Time{}
	}

	keys := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ts, err := time.Parse(SnapshotLayout, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		keys = append(keys, ts.UTC())
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

func (s *Store) historyDir(allianceID string) string {
	return filepath.Join(s.root, dirHistory, segment(allianceID))
}
