package roster

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxPullHistory bounds AllianceState.PullHistory.
const MaxPullHistory = 20

// AllianceState is the durable per-alliance document. Members is the
// single source of truth for identity and history and holds every member
// ever seen, departed ones included.
type AllianceState struct {
	AllianceID    string                       `json:"alliance_id"`
	AllianceName  string                       `json:"alliance_name,omitempty"`
	LastSync      time.Time                    `json:"last_sync"`
	Members       map[string]*Member           `json:"members"`
	PullHistory   []PullRecord                 `json:"pull_history"`
	NameOverrides map[string]map[string]string `json:"name_overrides,omitempty"`
}

// PullRecord is one sync attempt.
type PullRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	Source      string    `json:"source"`
	DataChanged *bool     `json:"data_changed,omitempty"`
	Digest      string    `json:"digest,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewAllianceState returns an empty state for allianceID.
func NewAllianceState(allianceID string) *AllianceState {
	st := &AllianceState{AllianceID: allianceID}
	st.ensure()
	return st
}

// Normalize fills nil collections so a decoded document is safe to use.
func (s *AllianceState) Normalize() {
	s.ensure()
	for id, m := range s.Members {
		if m == nil {
			delete(s.Members, id)
			continue
		}
		if m.ID == "" {
			m.ID = id
		}
		if m.PreviousNames == nil {
			m.PreviousNames = []string{}
		}
		if m.Events == nil {
			m.Events = EventLog{}
		}
	}
}

func (s *AllianceState) ensure() {
	if s.Members == nil {
		s.Members = map[string]*Member{}
	}
	if s.PullHistory == nil {
		s.PullHistory = []PullRecord{}
	}
}

// RecordPull appends rec and keeps only the most recent MaxPullHistory
// entries, oldest first.
func (s *AllianceState) RecordPull(rec PullRecord) {
	s.PullHistory = append(s.PullHistory, rec)
	if n := len(s.PullHistory); n > MaxPullHistory {
		s.PullHistory = append([]PullRecord{}, s.PullHistory[n-MaxPullHistory:]...)
	}
}

// ActiveMembers returns members whose last event is not a leave, sorted
// by name.
func (s *AllianceState) ActiveMembers() []*Member {
	out := make([]*Member, 0, len(s.Members))
	for _, m := range s.Members {
		if !m.Departed() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindMember resolves name to a single member. Current names win over
// former names, and active members win over departed ones. Comparison is
// case-insensitive.
func (s *AllianceState) FindMember(name string) (*Member, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("find member: empty name: %w", ErrInvalidInput)
	}

	var current, former []*Member
	for _, m := range s.Members {
		switch {
		case strings.EqualFold(m.Name, name):
			current = append(current, m)
		case m.KnownAs(name):
			former = append(former, m)
		}
	}

	for _, group := range [][]*Member{current, former} {
		if len(group) == 0 {
			continue
		}
		if len(group) == 1 {
			return group[0], nil
		}
		var active []*Member
		for _, m := range group {
			if !m.Departed() {
				active = append(active, m)
			}
		}
		if len(active) == 1 {
			return active[0], nil
		}
		return nil, fmt.Errorf("find member %q: %d candidates: %w", name, len(group), ErrAmbiguous)
	}
	return nil, fmt.Errorf("find member %q: %w", name, ErrNotFound)
}

// DisplayName applies the guild's cosmetic override for name, if any.
func (s *AllianceState) DisplayName(guildID, name string) string {
	if guildID == "" {
		return name
	}
	if alias, ok := s.NameOverrides[guildID][name]; ok && alias != "" {
		return alias
	}
	return name
}

// SetNameOverride sets or, with an empty alias, clears a guild override.
func (s *AllianceState) SetNameOverride(guildID, name, alias string) {
	if alias == "" {
		delete(s.NameOverrides[guildID], name)
		return
	}
	if s.NameOverrides == nil {
		s.NameOverrides = map[string]map[string]string{}
	}
	if s.NameOverrides[guildID] == nil {
		s.NameOverrides[guildID] = map[string]string{}
	}
	s.NameOverrides[guildID][name] = alias
}
