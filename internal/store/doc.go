// Package store provides durable storage for alliance rosters.
//
// Two kinds of storage live under one data root:
//
//   - JSON documents: the alliance state, the "current" contribution
//     snapshot, write-once historical snapshots, pending rename reviews and
//     small auxiliary documents. Every document write goes to a temp file
//     in the target directory followed by a rename, so readers see either
//     the old or the new content and never a partial write.
//   - A SQLite event stream (events.db): an append-only projection of
//     every service event, keyed for idempotent re-insertion.
//
// # Layout
//
//	<root>/state/<alliance>.json
//	<root>/contributions/<alliance>.json
//	<root>/history/<alliance>/<20060102T150405Z>.json
//	<root>/pending_renames/<alliance>_<20060102T150405Z>.json
//	<root>/docs/<kind>/<alliance>.json
//	<root>/events.db
//
// Alliance ids are slugged before use as path segments.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// A single writer is enforced by limiting the pool to one connection.
package store
