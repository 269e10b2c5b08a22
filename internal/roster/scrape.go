package roster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PlayerID is the site-provided player identifier. The scraper emits it
// as either a JSON string or a JSON number; both decode to the same
// string form.
type PlayerID string

// UnmarshalJSON accepts a string, a number or null.
func (p *PlayerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PlayerID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("player_id: %w", err)
	}
	*p = PlayerID(n.String())
	return nil
}

// ScrapedMember is one roster row handed over by the scraper. Counter
// fields are pointers: nil means the scraper could not extract the value,
// which is different from a genuine zero.
type ScrapedMember struct {
	Name     string   `json:"name"`
	Rank     string   `json:"rank"`
	Level    int      `json:"level"`
	JoinDate string   `json:"join_date,omitempty"`
	PlayerID PlayerID `json:"player_id,omitempty"`

	Power             *int64 `json:"power,omitempty"`
	Helps             *int64 `json:"helps,omitempty"`
	Resources         *int64 `json:"rss,omitempty"`
	Isotopes          *int64 `json:"iso,omitempty"`
	MaxPower          *int64 `json:"max_power,omitempty"`
	PowerDestroyed    *int64 `json:"power_destroyed,omitempty"`
	ArenaRating       *int64 `json:"arena_rating,omitempty"`
	MissionsCompleted *int64 `json:"missions_completed,omitempty"`
	ResourcesMined    *int64 `json:"resources_mined,omitempty"`
	AllianceHelpsSent *int64 `json:"alliance_helps_sent,omitempty"`
}

// HasCounters reports whether helps, resources and isotopes were all
// scraped, which the rename scorer requires.
func (s ScrapedMember) HasCounters() bool {
	return s.Helps != nil && s.Resources != nil && s.Isotopes != nil
}

// MergeStats overlays the scraped counters onto base, the member's entry
// in the previous snapshot. Missing counters keep base's value. A scraped
// max_power replaces power outright; otherwise a zero power falls back
// to a previously recorded max_power.
func (s ScrapedMember) MergeStats(base Stats) Stats {
	out := base
	overlay := func(dst *int64, src *int64) {
		if src != nil {
			*dst = *src
		}
	}
	overlay(&out.Power, s.Power)
	overlay(&out.Helps, s.Helps)
	overlay(&out.Resources, s.Resources)
	overlay(&out.Isotopes, s.Isotopes)
	overlay(&out.MaxPower, s.MaxPower)
	overlay(&out.PowerDestroyed, s.PowerDestroyed)
	overlay(&out.ArenaRating, s.ArenaRating)
	overlay(&out.MissionsCompleted, s.MissionsCompleted)
	overlay(&out.ResourcesMined, s.ResourcesMined)
	overlay(&out.AllianceHelpsSent, s.AllianceHelpsSent)

	switch {
	case s.MaxPower != nil && *s.MaxPower > 0:
		out.Power = *s.MaxPower
	case out.Power == 0 && out.MaxPower > 0:
		out.Power = out.MaxPower
	}
	return out
}

// Normalized returns a copy with the name and rank cleaned up.
func (s ScrapedMember) Normalized() ScrapedMember {
	s.Name = NormalizeName(s.Name)
	s.Rank = strings.TrimSpace(s.Rank)
	if s.Level < 0 {
		s.Level = 0
	}
	return s
}

// ScrapeBatch is one scraped roster for one alliance.
type ScrapeBatch struct {
	AllianceID   string          `json:"alliance_id,omitempty"`
	AllianceName string          `json:"alliance_name,omitempty"`
	Timestamp    time.Time       `json:"scrape_timestamp"`
	Members      []ScrapedMember `json:"members"`
}
