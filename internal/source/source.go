// Package source provides scraped rosters to the sync engine.
//
// The scraper itself runs elsewhere and drops its output as JSON. A
// document is either a bare array of member rows or an object carrying
// the rows under "members", "scraped_members", "roster" or "data",
// optionally with "alliance_id", "alliance_name" and "scrape_timestamp".
package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/rollcall/internal/config"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// rowKeys are the object fields that may hold the member rows, in the
// order they are tried.
var rowKeys = []string{"members", "scraped_members", "roster", "data"}

type envelope struct {
	AllianceID   roster.PlayerID `json:"alliance_id"`
	AllianceName string          `json:"alliance_name"`
	Timestamp    string          `json:"scrape_timestamp"`
}

// Decode parses one scraped roster document. A missing or unparseable
// scrape timestamp is left zero so the engine stamps the batch with its
// own clock.
func Decode(data []byte) (roster.ScrapeBatch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return roster.ScrapeBatch{}, fmt.Errorf("decode roster: empty document: %w", roster.ErrInvalidInput)
	}

	if data[0] == '[' {
		var rows []roster.ScrapedMember
		if err := json.Unmarshal(data, &rows); err != nil {
			return roster.ScrapeBatch{}, fmt.Errorf("decode roster rows: %w", err)
		}
		return roster.ScrapeBatch{Members: rows}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return roster.ScrapeBatch{}, fmt.Errorf("decode roster: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return roster.ScrapeBatch{}, fmt.Errorf("decode roster header: %w", err)
	}

	batch := roster.ScrapeBatch{
		AllianceID:   string(env.AllianceID),
		AllianceName: env.AllianceName,
		Timestamp:    parseTimestamp(env.Timestamp),
	}
	for _, key := range rowKeys {
		raw, ok := fields[key]
		if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.TrimSpace(raw)[0] != '[' {
			continue
		}
		if err := json.Unmarshal(raw, &batch.Members); err != nil {
			return roster.ScrapeBatch{}, fmt.Errorf("decode roster %s: %w", key, err)
		}
		return batch, nil
	}
	return roster.ScrapeBatch{}, fmt.Errorf("decode roster: no member list: %w", roster.ErrInvalidInput)
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// checkAlliance rejects a document scraped for a different alliance.
func checkAlliance(batch roster.ScrapeBatch, allianceID, origin string) error {
	if batch.AllianceID != "" && batch.AllianceID != allianceID {
		return fmt.Errorf("%s holds alliance %s, want %s: %w", origin, batch.AllianceID, allianceID, roster.ErrInvalidInput)
	}
	return nil
}

// For returns the configured source of an alliance: the test directory
// in test mode, otherwise its roster file.
func For(a config.Alliance, st *store.Store) engine.Fetcher {
	if a.TestMode {
		return NewDir(a.TestDir, st)
	}
	return NewFile(a.RosterFile)
}

// Target builds the engine pull target for a.
func Target(a config.Alliance, st *store.Store) engine.Target {
	return engine.Target{AllianceID: a.ID, AllianceName: a.Name, Fetcher: For(a, st)}
}
