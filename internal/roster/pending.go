package roster

import "time"

// Reasons recorded on a PendingRename.
const (
	ReasonNoCandidate  = "no candidate within tolerance"
	ReasonMissingStats = "missing contribution counters"
)

// PendingRename is an identity reconciliation the matcher would not
// decide on its own. OldName is the departed member, NewName the fresh
// join. Matched reports whether the pair satisfied the tolerances; Score
// is the pair's distance, or -1 when it could not be computed.
type PendingRename struct {
	OldName   string    `json:"old_name"`
	NewName   string    `json:"new_name"`
	OldID     string    `json:"old_id,omitempty"`
	NewID     string    `json:"new_id,omitempty"`
	Reason    string    `json:"reason"`
	Notes     string    `json:"notes,omitempty"`
	Matched   bool      `json:"matched"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}
