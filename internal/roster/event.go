package roster

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names a service event variant. The string values are the
// persisted "type" discriminator.
type EventKind string

const (
	KindJoin      EventKind = "join"
	KindLeave     EventKind = "leave"
	KindRejoin    EventKind = "rejoin"
	KindRename    EventKind = "rename"
	KindPromotion EventKind = "promotion"
	KindDemotion  EventKind = "demotion"
	KindLevelUp   EventKind = "level_up"
)

// Kinds lists every event kind in notification order.
var Kinds = []EventKind{
	KindJoin, KindRejoin, KindLeave, KindRename, KindPromotion, KindDemotion, KindLevelUp,
}

// Event is an immutable service history entry.
//
// The interface is sealed by the unexported method; the seven variants
// below are the complete set.
type Event interface {
	Kind() EventKind
	At() time.Time
	sealedEvent()
}

// Join records a member's first appearance on the roster.
type Join struct {
	Timestamp time.Time
}

// Leave records a member dropping off the roster. Rank and Level are the
// member's attributes at the time of departure.
type Leave struct {
	Timestamp time.Time
	Rank      string
	Level     int
}

// Rejoin records a departed member reappearing. LastLeave is a copy of
// the leave event that preceded it.
type Rejoin struct {
	Timestamp time.Time
	LastLeave Leave
}

// Rename records a display name change.
type Rename struct {
	Timestamp time.Time
	OldName   string
	NewName   string
}

// Promotion records a move to a higher rank.
type Promotion struct {
	Timestamp time.Time
	OldRank   string
	NewRank   string
}

// Demotion records a move to a lower rank.
type Demotion struct {
	Timestamp time.Time
	OldRank   string
	NewRank   string
}

// LevelUp records a strict level increase.
type LevelUp struct {
	Timestamp time.Time
	OldLevel  int
	NewLevel  int
}

func (*Join) Kind() EventKind      { return KindJoin }
func (*Leave) Kind() EventKind     { return KindLeave }
func (*Rejoin) Kind() EventKind    { return KindRejoin }
func (*Rename) Kind() EventKind    { return KindRename }
func (*Promotion) Kind() EventKind { return KindPromotion }
func (*Demotion) Kind() EventKind  { return KindDemotion }
func (*LevelUp) Kind() EventKind   { return KindLevelUp }

func (e *Join) At() time.Time      { return e.Timestamp }
func (e *Leave) At() time.Time     { return e.Timestamp }
func (e *Rejoin) At() time.Time    { return e.Timestamp }
func (e *Rename) At() time.Time    { return e.Timestamp }
func (e *Promotion) At() time.Time { return e.Timestamp }
func (e *Demotion) At() time.Time  { return e.Timestamp }
func (e *LevelUp) At() time.Time   { return e.Timestamp }

func (*Join) sealedEvent()      {}
func (*Leave) sealedEvent()     {}
func (*Rejoin) sealedEvent()    {}
func (*Rename) sealedEvent()    {}
func (*Promotion) sealedEvent() {}
func (*Demotion) sealedEvent()  {}
func (*LevelUp) sealedEvent()   {}

// eventRecord is the persisted shape of every variant. Only the fields
// relevant to Type are populated.
type eventRecord struct {
	Type      EventKind    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	OldName   string       `json:"old_name,omitempty"`
	NewName   string       `json:"new_name,omitempty"`
	OldRank   string       `json:"old_rank,omitempty"`
	NewRank   string       `json:"new_rank,omitempty"`
	OldLevel  *int         `json:"old_level,omitempty"`
	NewLevel  *int         `json:"new_level,omitempty"`
	Rank      string       `json:"rank,omitempty"`
	Level     *int         `json:"level,omitempty"`
	LastLeave *eventRecord `json:"last_leave,omitempty"`
}

func toRecord(e Event) (eventRecord, error) {
	rec := eventRecord{Type: e.Kind(), Timestamp: e.At().UTC()}
	switch v := e.(type) {
	case *Join:
	case *Leave:
		rec.Rank = v.Rank
		rec.Level = intPtr(v.Level)
	case *Rejoin:
		leave, _ := toRecord(&v.LastLeave)
		rec.LastLeave = &leave
	case *Rename:
		rec.OldName, rec.NewName = v.OldName, v.NewName
	case *Promotion:
		rec.OldRank, rec.NewRank = v.OldRank, v.NewRank
	case *Demotion:
		rec.OldRank, rec.NewRank = v.OldRank, v.NewRank
	case *LevelUp:
		rec.OldLevel, rec.NewLevel = intPtr(v.OldLevel), intPtr(v.NewLevel)
	default:
		return eventRecord{}, fmt.Errorf("encode event: unknown variant %T", e)
	}
	return rec, nil
}

func fromRecord(rec eventRecord) (Event, error) {
	ts := rec.Timestamp.UTC()
	switch rec.Type {
	case KindJoin:
		return &Join{Timestamp: ts}, nil
	case KindLeave:
		return &Leave{Timestamp: ts, Rank: rec.Rank, Level: intVal(rec.Level)}, nil
	case KindRejoin:
		ev := &Rejoin{Timestamp: ts}
		if rec.LastLeave != nil {
			ev.LastLeave = Leave{
				Timestamp: rec.LastLeave.Timestamp.UTC(),
				Rank:      rec.LastLeave.Rank,
				Level:     intVal(rec.LastLeave.Level),
			}
		}
		return ev, nil
	case KindRename:
		return &Rename{Timestamp: ts, OldName: rec.OldName, NewName: rec.NewName}, nil
	case KindPromotion:
		return &Promotion{Timestamp: ts, OldRank: rec.OldRank, NewRank: rec.NewRank}, nil
	case KindDemotion:
		return &Demotion{Timestamp: ts, OldRank: rec.OldRank, NewRank: rec.NewRank}, nil
	case KindLevelUp:
		return &LevelUp{Timestamp: ts, OldLevel: intVal(rec.OldLevel), NewLevel: intVal(rec.NewLevel)}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", rec.Type)
	}
}

// MarshalEvent encodes a single event in its persisted form.
func MarshalEvent(e Event) ([]byte, error) {
	rec, err := toRecord(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// UnmarshalEvent decodes a single persisted event.
func UnmarshalEvent(data []byte) (Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return fromRecord(rec)
}

// EventLog is a member's service history in storage order.
type EventLog []Event

// MarshalJSON encodes the log as an array of tagged records.
func (l EventLog) MarshalJSON() ([]byte, error) {
	recs := make([]eventRecord, 0, len(l))
	for _, e := range l {
		rec, err := toRecord(e)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return json.Marshal(recs)
}

// UnmarshalJSON decodes an array of tagged records.
func (l *EventLog) UnmarshalJSON(data []byte) error {
	var recs []eventRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return err
	}
	out := make(EventLog, 0, len(recs))
	for _, rec := range recs {
		e, err := fromRecord(rec)
		if err != nil {
			return err
		}
		out = append(out, e)
	}
	*l = out
	return nil
}

func intPtr(v int) *int { return &v }

func intVal(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
