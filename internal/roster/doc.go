// Package roster defines the alliance roster data model.
//
// A Member is one alliance participant keyed by a process-assigned stable
// id. Members carry an append-only list of previous display names and an
// append-only service history of typed events. An AllianceState is the
// durable per-alliance document that owns every member ever seen, the
// bounded pull history and the per-guild display name overrides.
//
// Contribution counters live apart from identity in a Snapshot, a
// name-keyed map of Stats captured once per sync.
//
// Service events form a closed set. Event is a sealed interface: only the
// seven variants in this package implement it, so a type switch over
// *Join, *Leave, *Rejoin, *Rename, *Promotion, *Demotion and *LevelUp is
// exhaustive.
package roster
