package roster

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"sort"
	"time"
)

// Stats is one member's contribution counters at a point in time.
type Stats struct {
	Helps             int64 `json:"helps"`
	Resources         int64 `json:"rss"`
	Isotopes          int64 `json:"iso"`
	Power             int64 `json:"power"`
	MaxPower          int64 `json:"max_power,omitempty"`
	PowerDestroyed    int64 `json:"power_destroyed,omitempty"`
	ArenaRating       int64 `json:"arena_rating,omitempty"`
	MissionsCompleted int64 `json:"missions_completed,omitempty"`
	ResourcesMined    int64 `json:"resources_mined,omitempty"`
	AllianceHelpsSent int64 `json:"alliance_helps_sent,omitempty"`
}

// Snapshot maps display name to counters.
type Snapshot map[string]Stats

// StoredSnapshot is a historical snapshot together with its key.
type StoredSnapshot struct {
	Timestamp time.Time
	Members   Snapshot
}

// Equal reports whether both snapshots hold exactly the same entries.
func (s Snapshot) Equal(other Snapshot) bool {
	return maps.Equal(s, other)
}

// Clone returns a shallow copy; Stats are values.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return maps.Clone(s)
}

// Names returns the snapshot's member names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// snapshotDomain separates snapshot digests from any other hash this
// process might compute over the same bytes.
const snapshotDomain = "rollcall/snapshot/v1"

// Digest returns a hex SHA-256 over the snapshot's canonical encoding.
// encoding/json writes map keys in sorted order, so equal snapshots
// always produce equal digests.
func (s Snapshot) Digest() string {
	data, err := json.Marshal(s)
	if err != nil {
		// Stats holds only integers; marshaling cannot fail.
		panic(err)
	}
	h := sha256.New()
	h.Write([]byte(snapshotDomain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
