package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/roach88/rollcall/internal/roster"
)

// EventRecord is one row of the per-alliance event stream.
type EventRecord struct {
	Seq        int64
	AllianceID string
	MemberID   string
	MemberName string
	Event      roster.Event
}

// AppendEvents inserts records into the stream and returns how many were
// new. Re-inserting a record that is already present is a no-op, so the
// stream can be rebuilt from state documents at any time.
func (s *Store) AppendEvents(ctx context.Context, records []EventRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO member_events
		(alliance_id, member_id, member_name, kind, occurred_at, payload, event_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alliance_id, event_key) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		payload, err := roster.MarshalEvent(rec.Event)
		if err != nil {
			return 0, fmt.Errorf("append events: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			rec.AllianceID,
			rec.MemberID,
			rec.MemberName,
			string(rec.Event.Kind()),
			rec.Event.At().UTC().UnixMilli(),
			string(payload),
			eventKey(rec.MemberID, payload),
		)
		if err != nil {
			return 0, fmt.Errorf("append events: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}
	return inserted, nil
}

// EventsSince returns the alliance's stream entries that occurred at or
// after since, in stream order.
func (s *Store) EventsSince(ctx context.Context, allianceID string, since time.Time) ([]EventRecord, error) {
	return s.queryEvents(ctx, `
		SELECT seq, alliance_id, member_id, member_name, payload
		FROM member_events
		WHERE alliance_id = ? AND occurred_at >= ?
		ORDER BY occurred_at ASC, seq ASC
	`, allianceID, since.UTC().UnixMilli())
}

// MemberEvents returns one member's stream entries in stream order.
func (s *Store) MemberEvents(ctx context.Context, allianceID, memberID string) ([]EventRecord, error) {
	return s.queryEvents(ctx, `
		SELECT seq, alliance_id, member_id, member_name, payload
		FROM member_events
		WHERE alliance_id = ? AND member_id = ?
		ORDER BY seq ASC
	`, allianceID, memberID)
}

// CountEvents returns the number of stream entries for the alliance.
func (s *Store) CountEvents(ctx context.Context, allianceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM member_events WHERE alliance_id = ?`, allianceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []EventRecord{}
	for rows.Next() {
		var rec EventRecord
		var payload string
		if err := rows.Scan(&rec.Seq, &rec.AllianceID, &rec.MemberID, &rec.MemberName, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := roster.UnmarshalEvent([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("scan event %d: %w", rec.Seq, err)
		}
		rec.Event = ev
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return records, nil
}

// eventKey identifies an event independent of its stream position.
func eventKey(memberID string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(memberID))
	h.Write([]byte{0x00})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
