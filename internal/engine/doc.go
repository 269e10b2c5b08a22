// Package engine runs roster syncs.
//
// One Sync call processes one scraped roster for one alliance and walks a
// fixed sequence of phases:
//
//	LOAD_STATE → MATCH_IDENTITIES → DETECT_EVENTS → APPLY_EVENTS →
//	PERSIST → NOTIFY → DONE
//
// Nothing is written before PERSIST, and PERSIST runs only after matching
// and detection succeeded on in-memory copies. NOTIFY is best-effort: a
// failing notifier is logged and the sync still succeeds.
//
// The engine holds no per-alliance lock. Puller wraps it for callers that
// may overlap (cron, chat force-pulls, startup) and refuses a second
// concurrent sync for the same alliance.
package engine
