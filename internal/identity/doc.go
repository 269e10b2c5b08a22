// Package identity reconciles a freshly scraped roster with the members
// already on record.
//
// Matching runs in passes, each seeing only what earlier passes left
// unclaimed:
//
//  1. Player id. A scraped row carrying a site player id claims the stored
//     member with the same id. This is authoritative.
//  2. Exact display name.
//  3. Guaranteed rename. A leftover row claims a leftover member with the
//     same level and the same join date. Requires a scraped join date.
//  4. Scored rename. Leftover rows are paired with members who were still
//     active before this sync. A pair qualifies when helps differ by no
//     more than Config.HelpsTolerance and resources and isotopes are each
//     within their relative tolerance. Qualifying pairs are accepted
//     greedily by ascending score.
//
// Rows still unclaimed become new members. When fresh departures exist
// but none qualified, every remaining (row, departure) pair is returned
// as a PendingRename for an operator to approve or decline. The matcher
// never merges on a guess and never drops a member.
//
// Ties are broken by the candidate's name, then id, and logged.
package identity
